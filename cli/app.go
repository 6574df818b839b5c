// Package cli implements the chatgrep command line: the root command scans
// chat replays and comment sections, and subcommands recover deleted stream
// playlists, watch live chat and filter speech transcripts.
package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/onnwee/chatgrep/afreecatv"
	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/config"
	"github.com/onnwee/chatgrep/render"
	"github.com/onnwee/chatgrep/tiktok"
	"github.com/onnwee/chatgrep/twitchapi"
	"github.com/onnwee/chatgrep/window"
	"github.com/onnwee/chatgrep/workpool"
	"github.com/onnwee/chatgrep/youtubeapi"
)

// app holds what every command shares. Clients are built from it on demand
// so a command only needs the credentials of the platforms it touches.
type app struct {
	cfg    *config.Config
	out    io.Writer
	client *http.Client
	logger *slog.Logger

	// extra options for the YouTube client; tests point it at a local server
	youtubeOpts []option.ClientOption

	// persistent flags
	filterExpr string
	noColor    bool
	archive    bool
	publish    bool
}

func newApp(cfg *config.Config, out io.Writer) *app {
	return &app{
		cfg:    cfg,
		out:    out,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: slog.Default().With(slog.String("component", "cli")),
	}
}

// Execute runs the chatgrep command line against os.Stdout.
func Execute(ctx context.Context, cfg *config.Config) error {
	return NewRootCmd(cfg, os.Stdout).ExecuteContext(ctx)
}

// NewRootCmd returns the root command writing results to out.
func NewRootCmd(cfg *config.Config, out io.Writer) *cobra.Command {
	return newApp(cfg, out).rootCmd()
}

func (a *app) filter() (chat.Filter, error) {
	return chat.NewFilter(a.filterExpr)
}

func (a *app) renderer() *render.Renderer {
	return render.New(!a.noColor && !color.NoColor)
}

// limiter returns a fresh limiter for one platform, or nil when pacing is off.
func (a *app) limiter() *rate.Limiter {
	if a.cfg.RequestRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(a.cfg.RequestRate), 1)
}

// twitch returns the Twitch client. Helix credentials are only required
// when withHelix is set; chat replays go through GQL alone.
func (a *app) twitch(withHelix bool) (*twitchapi.Client, error) {
	c := &twitchapi.Client{
		GQL: &twitchapi.GQLClient{
			ClientID:   a.cfg.TwitchGQLClientID,
			UserAgent:  a.cfg.UserAgent,
			HTTPClient: a.client,
		},
		Limiter:   a.limiter(),
		MaxVideos: a.cfg.MaxChannelVideos,
	}
	if withHelix {
		if err := a.cfg.ValidateHelix(); err != nil {
			return nil, err
		}
		c.Helix = &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{
				ClientID:     a.cfg.TwitchClientID,
				ClientSecret: a.cfg.TwitchClientSecret,
				HTTPClient:   a.client,
			},
			ClientID:   a.cfg.TwitchClientID,
			HTTPClient: a.client,
		}
	}
	return c, nil
}

func (a *app) afreecatv(windows *workpool.Pool) *afreecatv.Client {
	return &afreecatv.Client{
		HTTPClient: a.client,
		UserAgent:  a.cfg.UserAgent,
		Windows: &window.Fetcher{
			Length: a.cfg.WindowLength,
			Pool:   windows,
			Logger: slog.Default().With(slog.String("component", "window"), slog.String("platform", "afreecatv")),
		},
		Limiter:   a.limiter(),
		MaxVideos: a.cfg.MaxChannelVideos,
	}
}

func (a *app) tiktok() *tiktok.Client {
	return &tiktok.Client{HTTPClient: a.client, UserAgent: a.cfg.UserAgent, Limiter: a.limiter()}
}

func (a *app) youtube(ctx context.Context) (*youtubeapi.Service, error) {
	if err := a.cfg.ValidateYouTube(); err != nil {
		return nil, err
	}
	svc, err := youtubeapi.New(ctx, a.cfg.YouTubeAPIKey, a.youtubeOpts...)
	if err != nil {
		return nil, err
	}
	svc.Limiter = a.limiter()
	return svc, nil
}
