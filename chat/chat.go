package chat

import (
	"context"
	"fmt"
	"time"
)

// Message is one piece of commentary. User is empty when the platform does
// not expose a speaker; Timed is false when the message has no offset into
// the video (comments, clip titles).
type Message struct {
	User   string
	Body   string
	Offset time.Duration
	Timed  bool
}

// At returns a timed message.
func At(offset time.Duration, user, body string) Message {
	return Message{User: user, Body: body, Offset: offset, Timed: true}
}

// Seconds converts a floating point second offset as returned by most chat
// replay APIs into a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// String renders the message as "[hh:mm:ss][user] body" without color.
func (m Message) String() string {
	s := ""
	if m.Timed {
		s += "[" + Clock(m.Offset) + "]"
	}
	if m.User != "" {
		s += "[" + m.User + "]"
	}
	return s + " " + m.Body
}

// Clock formats d as hh:mm:ss, truncating sub-second precision.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// Stream yields message batches in source order. Next returns
// iterator.Done once the stream is exhausted; any other error ends the
// stream as well and later calls return iterator.Done.
type Stream interface {
	Next(ctx context.Context) ([]Message, error)
}

// Source is one submitted unit of a scan: a VOD, a clip listing, a comment
// section. Title is printed as the header of the source's output block.
type Source interface {
	Title() string
	Comments(ctx context.Context) (Stream, error)
}

// Match is a message accepted by the filter, tagged with the run and source
// it came from. Recorders receive matches as they are found.
type Match struct {
	RunID   string
	Source  string
	Message Message
	FoundAt time.Time
}

// StatusError reports a non-2xx HTTP response from a platform endpoint.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.URL, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.URL, e.Code)
}
