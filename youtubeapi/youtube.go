// Package youtubeapi reads YouTube comment threads through the YouTube Data
// API v3 with an API key.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/pager"
)

// Service wraps a YouTube Data API client.
type Service struct {
	yt      *yt.Service
	Limiter *rate.Limiter
}

// New returns a Service authenticated with apiKey. Extra options are
// passed to the API client.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key empty")
	}
	svc, err := yt.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Service{yt: svc}, nil
}

// Video is the comment section of one video.
type Video struct {
	ID string
	s  *Service
}

// Video returns the comment source of the video with the given id.
func (s *Service) Video(id string) *Video {
	return &Video{ID: id, s: s}
}

func (v *Video) Title() string { return "https://www.youtube.com/watch?v=" + v.ID }

// Comments pages through the top level comments, 100 per request.
func (v *Video) Comments(ctx context.Context) (chat.Stream, error) {
	fetch := func(ctx context.Context, token string) (pager.Page[chat.Message], error) {
		call := v.s.yt.CommentThreads.List([]string{"snippet"}).
			VideoId(v.ID).
			MaxResults(100).
			TextFormat("plainText").
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}
		res, err := call.Do()
		if err != nil {
			return pager.Page[chat.Message]{}, fmt.Errorf("youtube comments %s: %w", v.ID, err)
		}
		msgs := make([]chat.Message, 0, len(res.Items))
		for _, th := range res.Items {
			if th.Snippet == nil || th.Snippet.TopLevelComment == nil || th.Snippet.TopLevelComment.Snippet == nil {
				continue
			}
			c := th.Snippet.TopLevelComment.Snippet
			msgs = append(msgs, chat.Message{User: c.AuthorDisplayName, Body: c.TextDisplay})
		}
		return pager.Page[chat.Message]{Items: msgs, Next: res.NextPageToken}, nil
	}
	return pager.New(fetch, pager.WithLimiter(v.s.Limiter)), nil
}
