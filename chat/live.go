package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// EmitFunc receives live messages that passed the filter.
type EmitFunc func(channel string, m Message)

// Watch joins the given Twitch channels anonymously over IRC and calls emit
// for every chat message that matches filter. Offsets are measured from the
// moment Watch connected. It blocks until ctx is canceled or the connection
// fails.
func Watch(ctx context.Context, channels []string, filter Filter, emit EmitFunc) error {
	if len(channels) == 0 {
		return errors.New("live chat: no channels")
	}
	client := twitch.NewAnonymousClient()
	return watch(ctx, client, channels, filter, emit)
}

func watch(ctx context.Context, client *twitch.Client, channels []string, filter Filter, emit EmitFunc) error {
	logger := slog.Default().With(slog.String("component", "live_chat"))
	started := time.Now()

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		m := fromPrivateMessage(msg, started)
		if filter.Match(m) {
			emit(msg.Channel, m)
		}
	})
	client.OnConnect(func() {
		logger.Info("live chat connected", slog.Any("channels", channels))
	})

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
	}()

	client.Join(channels...)
	err := client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// fromPrivateMessage converts an IRC PRIVMSG into a Message whose offset is
// relative to started.
func fromPrivateMessage(msg twitch.PrivateMessage, started time.Time) Message {
	user := msg.User.DisplayName
	if user == "" {
		user = msg.User.Name
	}
	at := msg.Time
	if at.IsZero() {
		at = time.Now()
	}
	offset := at.Sub(started)
	if offset < 0 {
		offset = 0
	}
	return At(offset, user, msg.Message)
}
