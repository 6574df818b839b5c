// Package publish emits match events on NATS so other services can react to
// what a scan finds.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/onnwee/chatgrep/chat"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "chatgrep.matches"

// MatchEvent is the JSON payload of one published match.
type MatchEvent struct {
	ID      string    `json:"id"`
	RunID   string    `json:"run_id"`
	Source  string    `json:"source"`
	User    string    `json:"user,omitempty"`
	Body    string    `json:"body"`
	Offset  *float64  `json:"offset_seconds,omitempty"`
	FoundAt time.Time `json:"found_at"`
}

// NewMatchEvent converts a match into its wire form.
func NewMatchEvent(m chat.Match) MatchEvent {
	ev := MatchEvent{
		ID:      uuid.NewString(),
		RunID:   m.RunID,
		Source:  m.Source,
		User:    m.Message.User,
		Body:    m.Message.Body,
		FoundAt: m.FoundAt,
	}
	if m.Message.Timed {
		secs := m.Message.Offset.Seconds()
		ev.Offset = &secs
	}
	return ev
}

type conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// Publisher publishes matches. It satisfies the scanner's Recorder.
type Publisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
}

// Connect dials NATS at url, authenticating with token when set.
func Connect(url, token, subject string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "publish"))
	}
	opts := []nats.Option{
		nats.Name("chatgrep"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("err", err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, subject, logger), nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: c, subject: subject, logger: logger}
}

// Record publishes m.
func (p *Publisher) Record(_ context.Context, m chat.Match) error {
	payload, err := json.Marshal(NewMatchEvent(m))
	if err != nil {
		return fmt.Errorf("marshal match: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("nats flush failed", slog.Any("err", err))
	}
	p.conn.Close()
}
