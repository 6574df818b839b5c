// Package render formats scan output lines, optionally in color.
package render

import (
	"hash/fnv"

	"github.com/fatih/color"

	"github.com/onnwee/chatgrep/chat"
)

// Renderer turns headers and messages into output lines (without the
// trailing newline).
type Renderer struct {
	header *color.Color
	clock  *color.Color
	users  []*color.Color
	body   *color.Color
}

// New returns a Renderer. With colored false every method returns plain
// text identical to chat.Message.String.
func New(colored bool) *Renderer {
	r := &Renderer{
		header: color.New(color.FgYellow, color.Bold),
		clock:  color.New(color.FgHiBlack),
		body:   color.New(color.Reset),
		users: []*color.Color{
			color.New(color.FgCyan),
			color.New(color.FgGreen),
			color.New(color.FgMagenta),
			color.New(color.FgBlue),
			color.New(color.FgRed),
			color.New(color.FgHiYellow),
		},
	}
	for _, c := range r.all() {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

func (r *Renderer) all() []*color.Color {
	return append([]*color.Color{r.header, r.clock, r.body}, r.users...)
}

// Header renders a source title.
func (r *Renderer) Header(title string) string {
	return r.header.Sprint(title)
}

// Message renders "[hh:mm:ss][user] body"; missing parts are omitted.
func (r *Renderer) Message(m chat.Message) string {
	s := ""
	if m.Timed {
		s += r.clock.Sprint("[" + chat.Clock(m.Offset) + "]")
	}
	if m.User != "" {
		s += "[" + r.userColor(m.User).Sprint(m.User) + "]"
	}
	return s + " " + r.body.Sprint(m.Body)
}

// Working renders the line announcing a directory channel.
func (r *Renderer) Working(channel string) string {
	return r.header.Sprint("Working on " + channel)
}

// userColor picks a stable color per speaker.
func (r *Renderer) userColor(user string) *color.Color {
	h := fnv.New32a()
	h.Write([]byte(user))
	return r.users[h.Sum32()%uint32(len(r.users))]
}
