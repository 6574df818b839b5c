package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/onnwee/chatgrep/chat"
)

const sullyGnomeBase = "https://sullygnome.com"

// Broadcast is one past stream of a channel as listed by SullyGnome.
type Broadcast struct {
	StreamID uint64
	Started  time.Time
	Channel  string
}

// Key returns the recovery key of b.
func (b Broadcast) Key() Key {
	return Key{Channel: b.Channel, StreamID: b.StreamID, Started: b.Started}
}

// SullyGnome reads stream history from sullygnome.com, which keeps stream
// ids and start times after Twitch deletes the VOD.
type SullyGnome struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// ChannelID returns the SullyGnome id of the best match for name.
func (s *SullyGnome) ChannelID(ctx context.Context, name string) (uint64, error) {
	var results []struct {
		Value uint64 `json:"value"`
	}
	if err := s.get(ctx, "/api/standardsearch/"+url.PathEscape(name), &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("sullygnome: no channel matches %q", name)
	}
	return results[0].Value, nil
}

// Broadcasts returns up to 100 streams of the last year, newest first.
// Rows that cannot be parsed are skipped.
func (s *SullyGnome) Broadcasts(ctx context.Context, channelID uint64) ([]Broadcast, error) {
	var body struct {
		Data []struct {
			StreamID      uint64 `json:"streamId"`
			StartDateTime string `json:"startDateTime"`
			ChannelURL    string `json:"channelurl"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/api/tables/channeltables/streams/365/%d/%%20/1/1/desc/0/100", channelID)
	if err := s.get(ctx, path, &body); err != nil {
		return nil, err
	}
	out := make([]Broadcast, 0, len(body.Data))
	for _, row := range body.Data {
		started, err := time.Parse("2006-01-02T15:04:05Z", row.StartDateTime)
		if err != nil || row.ChannelURL == "" || row.StreamID == 0 {
			continue
		}
		out = append(out, Broadcast{StreamID: row.StreamID, Started: started.UTC(), Channel: row.ChannelURL})
	}
	return out, nil
}

func (s *SullyGnome) get(ctx context.Context, path string, v any) error {
	base := s.BaseURL
	if base == "" {
		base = sullyGnomeBase
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &chat.StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
