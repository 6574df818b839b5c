package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/server"
	"github.com/onnwee/chatgrep/telemetry"
	"github.com/onnwee/chatgrep/vod"
	"github.com/onnwee/chatgrep/workpool"
)

// scanFlags are the sources to scan. Each flag may repeat.
type scanFlags struct {
	twitchDirectory string
	twitchClips     []string
	twitchChannels  []string
	twitchVods      []string
	afreecaChannels []string
	afreecaVods     []string
	tiktokVods      []string
	youtubeVideos   []string

	showAll bool
	workers int
}

func (f *scanFlags) empty() bool {
	return f.twitchDirectory == "" && len(f.twitchClips) == 0 && len(f.twitchChannels) == 0 &&
		len(f.twitchVods) == 0 && len(f.afreecaChannels) == 0 && len(f.afreecaVods) == 0 &&
		len(f.tiktokVods) == 0 && len(f.youtubeVideos) == 0
}

func (a *app) rootCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "chatgrep",
		Short: "Search the chat of VODs, clips and comment sections",
		Long: `chatgrep fetches chat replays and comments from Twitch, AfreecaTV, TikTok and
YouTube, keeps the messages matching --filter and prints them grouped by
source, in the order the sources were given. Sources without a match are
not printed unless --showall is set.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.empty() {
				return cmd.Help()
			}
			return a.scan(cmd.Context(), f)
		},
	}
	cmd.SetOut(a.out)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.filterExpr, "filter", "f", "", "case-insensitive regular expression matched against message body and speaker")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&a.archive, "archive", false, "store matches in Postgres (DB_DSN)")
	pf.BoolVar(&a.publish, "publish", false, "publish matches to NATS (NATS_URL)")

	fl := cmd.Flags()
	fl.StringVar(&f.twitchDirectory, "twitch-directory", "", "scan the VODs of every channel live in a game directory")
	fl.StringSliceVar(&f.twitchClips, "twitch-clips", nil, "scan clip titles of a channel")
	fl.StringSliceVar(&f.twitchChannels, "twitch-channel", nil, "scan every VOD of a channel")
	fl.StringSliceVar(&f.twitchVods, "twitch-vod", nil, "scan one VOD")
	fl.StringSliceVar(&f.afreecaChannels, "afreecatv-channel", nil, "scan every VOD of an AfreecaTV station")
	fl.StringSliceVar(&f.afreecaVods, "afreecatv-vod", nil, "scan one AfreecaTV VOD")
	fl.StringSliceVar(&f.tiktokVods, "tiktok-vod", nil, "scan the comments of a TikTok video")
	fl.StringSliceVar(&f.youtubeVideos, "youtube-video", nil, "scan the comments of a YouTube video")
	fl.BoolVarP(&f.showAll, "showall", "s", false, "print every source header, even without matches")
	fl.IntVar(&f.workers, "workers", 0, "sources scanned at once (default WORKERS)")

	cmd.AddCommand(a.recoverCmd(), a.liveCmd(), a.transcribeCmd())
	return cmd
}

// validate rejects ids that are not numbers before anything is fetched.
func (f *scanFlags) validate() error {
	for _, set := range []struct {
		name string
		ids  []string
	}{
		{"twitch vod", f.twitchVods},
		{"afreecatv vod", f.afreecaVods},
		{"tiktok video", f.tiktokVods},
	} {
		for _, id := range set.ids {
			if _, err := strconv.ParseUint(id, 10, 64); err != nil {
				return fmt.Errorf("invalid %s id %q", set.name, id)
			}
		}
	}
	return nil
}

// scan submits every source in flag order and waits for the output.
func (a *app) scan(ctx context.Context, f *scanFlags) error {
	if f.workers > 0 {
		a.cfg.Workers = f.workers
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	filter, err := a.filter()
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	ctx = telemetry.WithCorrelation(ctx, runID)
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scan"))

	sk, err := a.openSinks(ctx, runID, "scan")
	if err != nil {
		return err
	}

	producers := workpool.New("producers", a.cfg.Workers)
	windows := workpool.New("windows", a.cfg.WindowWorkers)
	scanner := vod.NewScanner(a.out, producers, vod.Options{
		Filter:    filter,
		ShowAll:   f.showAll,
		Renderer:  a.renderer(),
		RunID:     runID,
		Recorders: sk.recorders,
	})

	started := time.Now().UTC()
	if a.cfg.MetricsAddr != "" {
		mctx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			status := func() server.Status {
				p := scanner.Progress()
				return server.Status{
					RunID: runID, Started: started,
					Sources: p.Sources, Matched: p.Matched, Suppressed: p.Suppressed, Failed: p.Failed,
					Workers: map[string]int{producers.Name(): producers.Active(), windows.Name(): windows.Active()},
				}
			}
			if err := server.Start(mctx, a.cfg.MetricsAddr, server.NewRouter(status)); err != nil {
				logger.Error("metrics server exited with error", slog.Any("err", err))
			}
		}()
	}

	logger.Info("scan starting", slog.String("filter", filter.String()), slog.Int("workers", a.cfg.Workers))
	submitErr := a.submitAll(ctx, scanner, windows, f, logger)
	sum, err := scanner.Wait()
	sk.close(ctx, sum)
	logger.Info("scan finished",
		slog.Int("sources", sum.Sources),
		slog.Int("matched", sum.Matched),
		slog.Int("suppressed", sum.Suppressed),
		slog.Int("failed", sum.Failed))
	if submitErr != nil {
		return submitErr
	}
	return err
}

// submitAll lists and submits sources in a fixed order: directory, clips,
// channels, VODs, AfreecaTV stations and VODs, TikTok, YouTube. A listing
// that fails is logged and skipped; only cancellation stops submission.
func (a *app) submitAll(ctx context.Context, s *vod.Scanner, windows *workpool.Pool, f *scanFlags, logger *slog.Logger) error {
	submit := func(srcs ...chat.Source) error {
		for _, src := range srcs {
			if err := s.Submit(ctx, src); err != nil {
				return err
			}
		}
		return nil
	}
	skip := func(what string, err error) {
		class := vod.ClassifyFetchError(err)
		telemetry.CountFetchError(class.String())
		logger.Warn("listing failed", slog.String("source", what), slog.String("class", class.String()), slog.Any("err", err))
	}

	needHelix := f.twitchDirectory != "" || len(f.twitchClips) > 0 || len(f.twitchChannels) > 0
	if needHelix || len(f.twitchVods) > 0 {
		tw, err := a.twitch(needHelix)
		if err != nil {
			return err
		}
		if f.twitchDirectory != "" {
			logins, err := tw.DirectoryChannels(ctx, f.twitchDirectory)
			if err != nil {
				skip("twitch directory "+f.twitchDirectory, err)
			}
			r := a.renderer()
			for _, login := range logins {
				s.Announce(r.Working(login))
				vids, err := tw.ChannelVideos(ctx, login)
				if err != nil {
					skip("twitch channel "+login, err)
				}
				if err := submit(vids...); err != nil {
					return err
				}
			}
		}
		for _, login := range f.twitchClips {
			if err := submit(tw.Clips(login)); err != nil {
				return err
			}
		}
		for _, login := range f.twitchChannels {
			vids, err := tw.ChannelVideos(ctx, login)
			if err != nil {
				skip("twitch channel "+login, err)
			}
			if err := submit(vids...); err != nil {
				return err
			}
		}
		for _, id := range f.twitchVods {
			if err := submit(tw.Video(id)); err != nil {
				return err
			}
		}
	}

	if len(f.afreecaChannels) > 0 || len(f.afreecaVods) > 0 {
		af := a.afreecatv(windows)
		for _, station := range f.afreecaChannels {
			vods, err := af.StationVods(ctx, station)
			if err != nil {
				skip("afreecatv station "+station, err)
			}
			if err := submit(vods...); err != nil {
				return err
			}
		}
		for _, raw := range f.afreecaVods {
			id, _ := strconv.ParseUint(raw, 10, 64)
			if err := submit(af.Vod(id)); err != nil {
				return err
			}
		}
	}

	if len(f.tiktokVods) > 0 {
		tt := a.tiktok()
		for _, raw := range f.tiktokVods {
			id, _ := strconv.ParseUint(raw, 10, 64)
			if err := submit(tt.Video(id)); err != nil {
				return err
			}
		}
	}

	if len(f.youtubeVideos) > 0 {
		yt, err := a.youtube(ctx)
		if err != nil {
			return err
		}
		for _, id := range f.youtubeVideos {
			if err := submit(yt.Video(id)); err != nil {
				return err
			}
		}
	}

	return nil
}
