// Package tiktok reads the comment section of TikTok videos.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/pager"
)

const (
	commentURL = "https://us.tiktok.com/api/comment/list/"
	pageSize   = 50
)

// Client fetches TikTok comments.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	Limiter    *rate.Limiter
}

// Video is the comment section of one video.
type Video struct {
	ID uint64
	c  *Client
}

// Video returns the comment source of the video with the given id.
func (c *Client) Video(id uint64) *Video {
	return &Video{ID: id, c: c}
}

func (v *Video) Title() string {
	return "https://www.tiktok.com/@tiktok/video/" + strconv.FormatUint(v.ID, 10)
}

type commentList struct {
	Comments []struct {
		Text string `json:"text"`
		User struct {
			Nickname string `json:"nickname"`
		} `json:"user"`
	} `json:"comments"`
	Cursor  json.Number `json:"cursor"`
	HasMore int         `json:"has_more"`
}

// Comments pages through the comments, 50 at a time. Comments carry no
// offset into the video.
func (v *Video) Comments(ctx context.Context) (chat.Stream, error) {
	return pager.New(v.page, pager.WithLimiter(v.c.Limiter)), nil
}

func (v *Video) page(ctx context.Context, token string) (pager.Page[chat.Message], error) {
	cursor := token
	if cursor == "" {
		cursor = "0"
	}
	q := url.Values{
		"aweme_id": {strconv.FormatUint(v.ID, 10)},
		"count":    {strconv.Itoa(pageSize)},
		"cursor":   {cursor},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, commentURL+"?"+q.Encode(), nil)
	if err != nil {
		return pager.Page[chat.Message]{}, err
	}
	req.Header.Set("Referer", "https://www.tiktok.com/")
	if v.c.UserAgent != "" {
		req.Header.Set("User-Agent", v.c.UserAgent)
	}
	hc := v.c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return pager.Page[chat.Message]{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pager.Page[chat.Message]{}, &chat.StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: string(b)}
	}
	var body commentList
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pager.Page[chat.Message]{}, fmt.Errorf("decode tiktok comments: %w", err)
	}

	msgs := make([]chat.Message, 0, len(body.Comments))
	for _, c := range body.Comments {
		msgs = append(msgs, chat.Message{User: c.User.Nickname, Body: c.Text})
	}
	next := ""
	if body.HasMore != 0 && len(body.Comments) > 0 {
		next = body.Cursor.String()
		if next == "" || next == "0" {
			n, _ := strconv.Atoi(cursor)
			next = strconv.Itoa(n + pageSize)
		}
	}
	return pager.Page[chat.Message]{Items: msgs, Next: next}, nil
}
