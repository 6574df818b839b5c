package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chatgrep/chat"
)

const (
	gqlEndpoint = "https://gql.twitch.tv/gql"

	// WebClientID is the client id of the Twitch web player, which the GQL
	// endpoint accepts without a user token.
	WebClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

	videoCommentsHash = "b70a3591ff0f4e0313d126c6a1502d79a1c02baebb288227c582044aa76adf6a"
)

// GQLClient reads VOD chat replays.
type GQLClient struct {
	ClientID   string
	UserAgent  string
	HTTPClient *http.Client
}

type persistedQuery struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Extensions    struct {
		PersistedQuery struct {
			Version    int    `json:"version"`
			SHA256Hash string `json:"sha256Hash"`
		} `json:"persistedQuery"`
	} `json:"extensions"`
}

type commentsResponse struct {
	Data struct {
		Video *struct {
			Comments *struct {
				Edges []struct {
					Cursor string `json:"cursor"`
					Node   struct {
						ContentOffsetSeconds float64 `json:"contentOffsetSeconds"`
						Commenter            *struct {
							DisplayName string `json:"displayName"`
							Login       string `json:"login"`
						} `json:"commenter"`
						Message struct {
							Fragments []struct {
								Text string `json:"text"`
							} `json:"fragments"`
						} `json:"message"`
					} `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
			} `json:"comments"`
		} `json:"video"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// VideoComments fetches one page of a VOD's chat replay. An empty cursor
// starts from the beginning. The returned cursor is empty on the last page.
func (gc *GQLClient) VideoComments(ctx context.Context, videoID, cursor string) ([]chat.Message, string, error) {
	q := persistedQuery{OperationName: "VideoCommentsByOffsetOrCursor"}
	q.Variables = map[string]any{"videoID": videoID}
	if cursor == "" {
		q.Variables["contentOffsetSeconds"] = 0
	} else {
		q.Variables["cursor"] = cursor
	}
	q.Extensions.PersistedQuery.Version = 1
	q.Extensions.PersistedQuery.SHA256Hash = videoCommentsHash

	var out []commentsResponse
	if err := gc.post(ctx, []persistedQuery{q}, &out); err != nil {
		return nil, "", err
	}
	if len(out) == 0 {
		return nil, "", fmt.Errorf("gql: empty response for video %s", videoID)
	}
	resp := out[0]
	if len(resp.Errors) > 0 {
		return nil, "", fmt.Errorf("gql: %s", resp.Errors[0].Message)
	}
	if resp.Data.Video == nil {
		return nil, "", fmt.Errorf("gql: video %s not found", videoID)
	}
	comments := resp.Data.Video.Comments
	if comments == nil {
		return nil, "", nil
	}
	msgs := make([]chat.Message, 0, len(comments.Edges))
	next := ""
	for _, e := range comments.Edges {
		var b strings.Builder
		for _, f := range e.Node.Message.Fragments {
			b.WriteString(f.Text)
		}
		user := ""
		if c := e.Node.Commenter; c != nil {
			user = c.DisplayName
			if user == "" {
				user = c.Login
			}
		}
		msgs = append(msgs, chat.At(chat.Seconds(e.Node.ContentOffsetSeconds), user, b.String()))
		next = e.Cursor
	}
	if !comments.PageInfo.HasNextPage {
		next = ""
	}
	return msgs, next, nil
}

func (gc *GQLClient) post(ctx context.Context, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gqlEndpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	clientID := gc.ClientID
	if clientID == "" {
		clientID = WebClientID
	}
	req.Header.Set("Client-Id", clientID)
	req.Header.Set("Content-Type", "application/json")
	if gc.UserAgent != "" {
		req.Header.Set("User-Agent", gc.UserAgent)
	}
	hc := gc.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
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
		return &chat.StatusError{URL: gqlEndpoint, Code: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode gql response: %w", err)
	}
	return nil
}
