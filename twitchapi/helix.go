// Package twitchapi contains the Twitch clients used to find VODs, clips and
// live channels (Helix, app access token) and to read VOD chat replays
// (the web GQL endpoint).
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/onnwee/chatgrep/chat"
)

const helixBase = "https://api.twitch.tv/helix"

// HelixClient provides the Helix lookups chatgrep needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, v any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBase+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &chat.StatusError{URL: req.URL.String(), Code: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode helix %s: %w", path, err)
	}
	return nil
}

func pageSize(first int) string {
	if first <= 0 || first > 100 {
		first = 100
	}
	return strconv.Itoa(first)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found: %s", login)
	}
	return body.Data[0].ID, nil
}

// VideoMeta is an archived broadcast.
type VideoMeta struct{ ID, Title, Duration, CreatedAt string }

type pagination struct {
	Cursor string `json:"cursor"`
}

// ListVideos lists archive videos for a user, newest first. The returned
// cursor is empty on the last page.
func (hc *HelixClient) ListVideos(ctx context.Context, userID, after string, first int) ([]VideoMeta, string, error) {
	if userID == "" {
		return nil, "", fmt.Errorf("userID empty")
	}
	q := url.Values{"user_id": {userID}, "type": {"archive"}, "first": {pageSize(first)}}
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data []struct {
			ID, Title, Duration string
			CreatedAt           string `json:"created_at"`
		} `json:"data"`
		Pagination pagination `json:"pagination"`
	}
	if err := hc.get(ctx, "/videos", q, &body); err != nil {
		return nil, "", err
	}
	out := make([]VideoMeta, 0, len(body.Data))
	for _, v := range body.Data {
		out = append(out, VideoMeta{ID: v.ID, Title: v.Title, Duration: v.Duration, CreatedAt: v.CreatedAt})
	}
	return out, body.Pagination.Cursor, nil
}

// ClipMeta is one clip of a broadcaster.
type ClipMeta struct {
	ID, URL, Title, CreatorName, CreatedAt string
	ViewCount                              int
}

// ListClips lists clips of a broadcaster.
func (hc *HelixClient) ListClips(ctx context.Context, broadcasterID, after string, first int) ([]ClipMeta, string, error) {
	if broadcasterID == "" {
		return nil, "", fmt.Errorf("broadcasterID empty")
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "first": {pageSize(first)}}
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data []struct {
			ID          string `json:"id"`
			URL         string `json:"url"`
			Title       string `json:"title"`
			CreatorName string `json:"creator_name"`
			CreatedAt   string `json:"created_at"`
			ViewCount   int    `json:"view_count"`
		} `json:"data"`
		Pagination pagination `json:"pagination"`
	}
	if err := hc.get(ctx, "/clips", q, &body); err != nil {
		return nil, "", err
	}
	out := make([]ClipMeta, 0, len(body.Data))
	for _, c := range body.Data {
		out = append(out, ClipMeta{ID: c.ID, URL: c.URL, Title: c.Title, CreatorName: c.CreatorName, CreatedAt: c.CreatedAt, ViewCount: c.ViewCount})
	}
	return out, body.Pagination.Cursor, nil
}

// GetGameID resolves a directory (game or category) name to its id.
func (hc *HelixClient) GetGameID(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("game name empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/games", url.Values{"name": {name}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("game not found: %s", name)
	}
	return body.Data[0].ID, nil
}

// ListLiveLogins lists the logins of channels live in a game directory.
func (hc *HelixClient) ListLiveLogins(ctx context.Context, gameID, after string, first int) ([]string, string, error) {
	q := url.Values{"game_id": {gameID}, "first": {pageSize(first)}}
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data []struct {
			UserLogin string `json:"user_login"`
		} `json:"data"`
		Pagination pagination `json:"pagination"`
	}
	if err := hc.get(ctx, "/streams", q, &body); err != nil {
		return nil, "", err
	}
	out := make([]string, 0, len(body.Data))
	for _, s := range body.Data {
		out = append(out, s.UserLogin)
	}
	return out, body.Pagination.Cursor, nil
}
