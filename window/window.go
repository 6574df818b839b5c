// Package window fetches duration-bounded sources as fixed-length time
// windows in parallel and reassembles them in chronological order.
package window

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"google.golang.org/api/iterator"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/telemetry"
	"github.com/onnwee/chatgrep/workpool"
)

// DefaultLength is the window length used when none is configured.
const DefaultLength = 300 * time.Second

// Window is a time slice [Start, Start+Length) of a source.
type Window struct {
	Start  time.Duration
	Length time.Duration
}

// End returns the exclusive end offset of w.
func (w Window) End() time.Duration { return w.Start + w.Length }

// Split partitions total into windows of the given length: one window for
// every i with i*length < total. length <= 0 uses DefaultLength.
func Split(total, length time.Duration) []Window {
	if length <= 0 {
		length = DefaultLength
	}
	var out []Window
	for start := time.Duration(0); start < total; start += length {
		out = append(out, Window{Start: start, Length: length})
	}
	return out
}

// SegmentFunc fetches the messages of one window. Offsets are relative to the
// start of the part the window belongs to.
type SegmentFunc func(ctx context.Context, w Window) ([]chat.Message, error)

// Part is one consecutive piece of a multi-part source, such as one file of
// a VOD that was split on upload.
type Part struct {
	Duration time.Duration
	Fetch    SegmentFunc
}

// Fetcher runs window fetches on a shared pool.
type Fetcher struct {
	Length time.Duration
	Pool   *workpool.Pool
	Logger *slog.Logger
}

// Fetch fetches every window of a source of duration total and returns the
// batches in window start order, each stably sorted by offset. A window that
// fails, or that could not be scheduled because ctx ended, yields an empty
// batch and does not affect its siblings.
func (f *Fetcher) Fetch(ctx context.Context, total time.Duration, fn SegmentFunc) [][]chat.Message {
	windows := Split(total, f.Length)
	out := make([][]chat.Message, len(windows))
	pool := f.Pool
	if pool == nil {
		pool = workpool.New("window", len(windows))
	}
	logger := f.logger()

	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		err := pool.Go(ctx, func() {
			defer wg.Done()
			msgs, err := fn(ctx, w)
			if err != nil {
				telemetry.Inc(telemetry.WindowsFailed)
				logger.Warn("window fetch failed",
					slog.Duration("start", w.Start),
					slog.Duration("length", w.Length),
					slog.Any("err", err))
				return
			}
			telemetry.Inc(telemetry.WindowsFetched)
			slices.SortStableFunc(msgs, func(a, b chat.Message) int {
				return compareOffset(a.Offset, b.Offset)
			})
			out[i] = msgs
		})
		if err != nil {
			wg.Done()
			telemetry.Inc(telemetry.WindowsFailed)
			logger.Debug("window not scheduled", slog.Duration("start", w.Start), slog.Any("err", err))
		}
	}
	wg.Wait()
	return out
}

// Stream exposes parts as one ordered stream of per-window batches. Every
// offset is shifted by the summed duration of the parts before it, so the
// whole source reads as one monotonically timed stream. Parts are fetched
// lazily, one at a time, with their windows in parallel.
func (f *Fetcher) Stream(parts []Part) chat.Stream {
	return &stream{f: f, parts: parts}
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default().With(slog.String("component", "window"))
}

type stream struct {
	f       *Fetcher
	parts   []Part
	part    int
	offset  time.Duration
	pending [][]chat.Message
}

func (s *stream) Next(ctx context.Context) ([]chat.Message, error) {
	for len(s.pending) == 0 {
		if s.part >= len(s.parts) {
			return nil, iterator.Done
		}
		if err := ctx.Err(); err != nil {
			s.part = len(s.parts)
			return nil, err
		}
		p := s.parts[s.part]
		s.pending = s.f.Fetch(ctx, p.Duration, p.Fetch)
		for _, batch := range s.pending {
			for i := range batch {
				batch[i].Offset += s.offset
			}
		}
		s.offset += p.Duration
		s.part++
	}
	batch := s.pending[0]
	s.pending = s.pending[1:]
	return batch, nil
}

func compareOffset(a, b time.Duration) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
