package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/chatgrep/recovery"
	"github.com/onnwee/chatgrep/sequencer"
	"github.com/onnwee/chatgrep/workpool"
)

type recoverFlags struct {
	streamID uint64
	started  string
	baseURL  string
}

func (a *app) recoverCmd() *cobra.Command {
	f := &recoverFlags{}
	cmd := &cobra.Command{
		Use:   "recover <channel>",
		Short: "Find the playlists of past streams of a channel, including deleted VODs",
		Long: `recover looks up the stream history of a channel on sullygnome.com and, for
every stream, probes the CDN mirrors for its playlist. With --stream-id and
--started it probes one stream without looking anything up. Results are
printed newest stream first as "[stream id]" followed by the playlist URL.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.recover(cmd.Context(), args[0], f)
		},
	}
	cmd.Flags().Uint64Var(&f.streamID, "stream-id", 0, "probe only this stream id")
	cmd.Flags().StringVar(&f.started, "started", "", "start of the stream, RFC 3339 or unix seconds (with --stream-id)")
	cmd.Flags().StringVar(&f.baseURL, "sullygnome-url", "", "override the sullygnome.com base URL")
	_ = cmd.Flags().MarkHidden("sullygnome-url")
	return cmd
}

func (a *app) recoverer() *recovery.Recoverer {
	r := recovery.New(a.client)
	if len(a.cfg.RecoveryMirrors) > 0 {
		r.Mirrors = a.cfg.RecoveryMirrors
	}
	r.Logger = slog.Default().With(slog.String("component", "recovery"))
	return r
}

func (a *app) recover(ctx context.Context, channel string, f *recoverFlags) error {
	rec := a.recoverer()

	if f.streamID != 0 || f.started != "" {
		started, err := parseStarted(f.started)
		if err != nil {
			return err
		}
		if f.streamID == 0 {
			return errors.New("--started requires --stream-id")
		}
		key := recovery.Key{Channel: channel, StreamID: f.streamID, Started: started}
		url, err := rec.Recover(ctx, key)
		if err != nil {
			return fmt.Errorf("recover %s: %w", key, err)
		}
		_, err = fmt.Fprintf(a.out, "[%d]\n%s\n\n", key.StreamID, url)
		return err
	}

	sg := &recovery.SullyGnome{BaseURL: f.baseURL, UserAgent: a.cfg.UserAgent, Client: a.client}
	id, err := sg.ChannelID(ctx, channel)
	if err != nil {
		return err
	}
	broadcasts, err := sg.Broadcasts(ctx, id)
	if err != nil {
		return err
	}
	return a.recoverAll(ctx, rec, broadcasts)
}

// recoverAll probes every broadcast on the producer pool. Hits are printed
// in broadcast order; misses print nothing.
func (a *app) recoverAll(ctx context.Context, rec *recovery.Recoverer, broadcasts []recovery.Broadcast) error {
	logger := slog.Default().With(slog.String("component", "recovery"))
	seq := sequencer.New(a.out)
	pool := workpool.New("recovery", a.cfg.Workers)
	found := 0
	results := make(chan bool, len(broadcasts))

	for _, b := range broadcasts {
		task := seq.Begin()
		task.Hold()
		key := b.Key()
		err := pool.Go(ctx, func() {
			defer task.Finish()
			url, err := rec.Recover(ctx, key)
			if err != nil {
				if !errors.Is(err, recovery.ErrNotFound) {
					logger.Warn("recovery failed", slog.String("key", key.String()), slog.Any("err", err))
				}
				results <- false
				return
			}
			task.Release()
			fmt.Fprintf(task, "[%d]\n%s\n\n", key.StreamID, url)
			results <- true
		})
		if err != nil {
			task.Finish()
			break
		}
	}
	pool.Wait()
	close(results)
	for ok := range results {
		if ok {
			found++
		}
	}
	logger.Info("recovery finished", slog.Int("broadcasts", len(broadcasts)), slog.Int("found", found))
	if err := seq.Err(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return ctx.Err()
}

func parseStarted(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("--stream-id requires --started")
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --started %q: want RFC 3339 or unix seconds", s)
	}
	return t.UTC(), nil
}
