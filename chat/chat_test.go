package chat

import (
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

func TestMessageString(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"timed with user", At(3725*time.Second, "alice", "hello"), "[01:02:05][alice] hello"},
		{"untimed with user", Message{User: "bob", Body: "nice clip"}, "[bob] nice clip"},
		{"bare body", Message{Body: "title only"}, " title only"},
		{"sub-second truncated", At(1500*time.Millisecond, "c", "x"), "[00:00:01][c] x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClockLongVOD(t *testing.T) {
	if got := Clock(100*time.Hour + 5*time.Second); got != "100:00:05" {
		t.Errorf("Clock() = %q", got)
	}
	if got := Clock(-time.Second); got != "00:00:00" {
		t.Errorf("Clock(negative) = %q", got)
	}
}

func TestFilter(t *testing.T) {
	f, err := NewFilter("kappa|pog")
	if err != nil {
		t.Fatalf("NewFilter() error: %v", err)
	}
	tests := []struct {
		msg  Message
		want bool
	}{
		{Message{Body: "KAPPA 123"}, true},
		{Message{Body: "nothing"}, false},
		{Message{User: "PogChampion", Body: "hi"}, true},
		{Message{User: "", Body: "hi"}, false},
	}
	for _, tt := range tests {
		if got := f.Match(tt.msg); got != tt.want {
			t.Errorf("Match(%+v) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestFilterEmptyMatchesAll(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatalf("NewFilter() error: %v", err)
	}
	if !f.Match(Message{Body: "anything"}) {
		t.Error("empty filter should match every message")
	}
	var zero Filter
	if !zero.Match(Message{}) || !zero.MatchString("x") {
		t.Error("zero filter should match everything")
	}
}

func TestFilterInvalid(t *testing.T) {
	if _, err := NewFilter("("); err == nil {
		t.Error("expected compile error for unbalanced pattern")
	}
}

func TestStatusError(t *testing.T) {
	err := &StatusError{URL: "https://x/y", Code: 404}
	if err.Error() != "https://x/y: status 404" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestFromPrivateMessage(t *testing.T) {
	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := twitch.PrivateMessage{
		User:    twitch.User{Name: "login", DisplayName: "Display"},
		Message: "hello chat",
		Channel: "somechannel",
		Time:    started.Add(90 * time.Second),
	}
	m := fromPrivateMessage(msg, started)
	if m.User != "Display" || m.Body != "hello chat" {
		t.Errorf("unexpected message %+v", m)
	}
	if !m.Timed || m.Offset != 90*time.Second {
		t.Errorf("offset = %v timed=%v, want 90s", m.Offset, m.Timed)
	}

	msg.User.DisplayName = ""
	msg.Time = started.Add(-time.Second)
	m = fromPrivateMessage(msg, started)
	if m.User != "login" || m.Offset != 0 {
		t.Errorf("fallback conversion = %+v", m)
	}
}
