package twitchapi

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/pager"
)

// Client bundles the Helix and GQL clients behind the chat.Source
// constructors the CLI uses. Limiter, if set, paces every paginated request.
type Client struct {
	Helix     *HelixClient
	GQL       *GQLClient
	Limiter   *rate.Limiter
	MaxVideos int
}

func (c *Client) pagerOpts(pageSize int) []pager.Option {
	opts := []pager.Option{pager.WithLimiter(c.Limiter)}
	if c.MaxVideos > 0 && pageSize > 0 {
		opts = append(opts, pager.WithMaxPages((c.MaxVideos+pageSize-1)/pageSize))
	}
	return opts
}

// Video is the chat replay of one VOD.
type Video struct {
	ID    string
	Meta  *VideoMeta
	gql   *GQLClient
	limit *rate.Limiter
}

// Video returns the chat replay source of the VOD with the given id.
func (c *Client) Video(id string) *Video {
	return &Video{ID: id, gql: c.GQL, limit: c.Limiter}
}

// Title is the VOD URL, preceded by its creation time and title when known.
func (v *Video) Title() string {
	link := "https://www.twitch.tv/videos/" + v.ID
	if v.Meta == nil {
		return link
	}
	return fmt.Sprintf("[%s] %s %s", v.Meta.CreatedAt, v.Meta.Title, link)
}

// Comments pages through the chat replay with the GQL cursor.
func (v *Video) Comments(ctx context.Context) (chat.Stream, error) {
	if v.gql == nil {
		return nil, fmt.Errorf("twitch video %s: no gql client", v.ID)
	}
	fetch := func(ctx context.Context, token string) (pager.Page[chat.Message], error) {
		msgs, next, err := v.gql.VideoComments(ctx, v.ID, token)
		return pager.Page[chat.Message]{Items: msgs, Next: next}, err
	}
	return pager.New(fetch, pager.WithLimiter(v.limit)), nil
}

// ChannelVideos lists a channel's archived VODs, newest first, capped at
// MaxVideos when set.
func (c *Client) ChannelVideos(ctx context.Context, login string) ([]chat.Source, error) {
	userID, err := c.Helix.GetUserID(ctx, login)
	if err != nil {
		return nil, err
	}
	const first = 100
	p := pager.New(func(ctx context.Context, token string) (pager.Page[VideoMeta], error) {
		vids, next, err := c.Helix.ListVideos(ctx, userID, token, first)
		return pager.Page[VideoMeta]{Items: vids, Next: next}, err
	}, c.pagerOpts(first)...)
	metas, err := pager.Collect(ctx, p)
	if c.MaxVideos > 0 && len(metas) > c.MaxVideos {
		metas = metas[:c.MaxVideos]
	}
	out := make([]chat.Source, 0, len(metas))
	for i := range metas {
		v := c.Video(metas[i].ID)
		v.Meta = &metas[i]
		out = append(out, v)
	}
	if err != nil {
		return out, fmt.Errorf("list videos of %s: %w", login, err)
	}
	return out, nil
}

// Clips is the clip listing of a channel. Each clip becomes one untimed
// message whose speaker is the clip's creator and whose body is the title
// followed by the clip URL.
type Clips struct {
	Login string
	c     *Client
}

// Clips returns the clip listing source of a channel.
func (c *Client) Clips(login string) *Clips {
	return &Clips{Login: login, c: c}
}

func (cl *Clips) Title() string { return "Clips of " + cl.Login }

func (cl *Clips) Comments(ctx context.Context) (chat.Stream, error) {
	userID, err := cl.c.Helix.GetUserID(ctx, cl.Login)
	if err != nil {
		return nil, err
	}
	const first = 100
	fetch := func(ctx context.Context, token string) (pager.Page[chat.Message], error) {
		clips, next, err := cl.c.Helix.ListClips(ctx, userID, token, first)
		msgs := make([]chat.Message, 0, len(clips))
		for _, clip := range clips {
			msgs = append(msgs, chat.Message{User: clip.CreatorName, Body: clip.Title + " " + clip.URL})
		}
		return pager.Page[chat.Message]{Items: msgs, Next: next}, err
	}
	return pager.New(fetch, cl.c.pagerOpts(first)...), nil
}

// DirectoryChannels lists the logins of channels currently live in a game
// directory.
func (c *Client) DirectoryChannels(ctx context.Context, game string) ([]string, error) {
	gameID, err := c.Helix.GetGameID(ctx, game)
	if err != nil {
		return nil, err
	}
	const first = 100
	p := pager.New(func(ctx context.Context, token string) (pager.Page[string], error) {
		logins, next, err := c.Helix.ListLiveLogins(ctx, gameID, token, first)
		return pager.Page[string]{Items: logins, Next: next}, err
	}, c.pagerOpts(first)...)
	logins, err := pager.Collect(ctx, p)
	if err != nil {
		return logins, fmt.Errorf("list streams of %s: %w", game, err)
	}
	return logins, nil
}
