package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/telemetry"
	"github.com/onnwee/chatgrep/vod"
)

func (a *app) liveCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "live <channel>...",
		Short:        "Filter the live chat of Twitch channels",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.live(cmd.Context(), args)
		},
	}
}

func (a *app) live(ctx context.Context, channels []string) error {
	filter, err := a.filter()
	if err != nil {
		return err
	}
	runID := uuid.New().String()
	ctx = telemetry.WithCorrelation(ctx, runID)

	sk, err := a.openSinks(ctx, runID, "live")
	if err != nil {
		return err
	}
	matched := 0
	defer func() { sk.close(ctx, vod.Summary{Sources: len(channels), Matched: matched}) }()

	var mu sync.Mutex
	emit := a.liveEmitter(ctx, runID, sk.recorders, &mu, &matched)
	err = chat.Watch(ctx, channels, filter, emit)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// liveEmitter prints "#channel [hh:mm:ss][user] body" lines and hands each
// match to the recorders.
func (a *app) liveEmitter(ctx context.Context, runID string, recorders []vod.Recorder, mu *sync.Mutex, matched *int) chat.EmitFunc {
	r := a.renderer()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "live"))
	return func(channel string, m chat.Message) {
		mu.Lock()
		fmt.Fprintf(a.out, "#%s %s\n", channel, r.Message(m))
		*matched++
		mu.Unlock()
		telemetry.Inc(telemetry.MessagesMatched)

		match := chat.Match{RunID: runID, Source: "https://www.twitch.tv/" + channel, Message: m, FoundAt: time.Now().UTC()}
		for _, rec := range recorders {
			if err := rec.Record(ctx, match); err != nil {
				logger.Warn("record match failed", slog.Any("err", err))
			}
		}
	}
}
