// Package vod drives the scan of submitted sources: each source runs on the
// producer pool, its messages are filtered, and its output goes through a
// sequencer task so the combined output follows submission order.
package vod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/iterator"

	"github.com/onnwee/chatgrep/chat"
	"github.com/onnwee/chatgrep/render"
	"github.com/onnwee/chatgrep/sequencer"
	"github.com/onnwee/chatgrep/telemetry"
	"github.com/onnwee/chatgrep/workpool"
)

// Recorder receives every match as it is found. Implementations must be safe
// for concurrent use.
type Recorder interface {
	Record(ctx context.Context, m chat.Match) error
}

// Options configures a Scanner.
type Options struct {
	Filter    chat.Filter
	ShowAll   bool
	Renderer  *render.Renderer
	RunID     string
	Recorders []Recorder
	Logger    *slog.Logger
}

// Summary counts what a scan did.
type Summary struct {
	Sources    int
	Matched    int
	Suppressed int
	Failed     int
}

// Scanner runs sources and writes their filtered output to one sink.
type Scanner struct {
	seq  *sequencer.Sequencer
	pool *workpool.Pool
	opts Options
	log  *slog.Logger
	wg   sync.WaitGroup

	sources    atomic.Int64
	matched    atomic.Int64
	suppressed atomic.Int64
	failed     atomic.Int64
}

// NewScanner returns a Scanner writing to sink and running producers on pool.
func NewScanner(sink io.Writer, pool *workpool.Pool, opts Options) *Scanner {
	if opts.Renderer == nil {
		opts.Renderer = render.New(false)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "scanner"))
	}
	return &Scanner{seq: sequencer.New(sink), pool: pool, opts: opts, log: logger}
}

// Submit queues src. Its position in the output is fixed by the order of
// Submit calls. Submit blocks until a producer is free; if ctx ends first
// the source is dropped and ctx's error returned.
func (s *Scanner) Submit(ctx context.Context, src chat.Source) error {
	task := s.seq.Begin()
	if !s.opts.ShowAll {
		task.Hold()
	}
	s.sources.Add(1)
	s.wg.Add(1)
	err := s.pool.Go(ctx, func() {
		defer s.wg.Done()
		defer task.Finish()
		telemetry.TimeFunc(telemetry.ScanDuration, func() {
			s.scan(ctx, task, src)
		})
	})
	if err != nil {
		s.wg.Done()
		task.Finish()
		s.failed.Add(1)
		return fmt.Errorf("submit %s: %w", src.Title(), err)
	}
	return nil
}

// Announce writes an already rendered line at the current position in the
// output, unconditionally.
func (s *Scanner) Announce(line string) {
	task := s.seq.Begin()
	fmt.Fprintln(task, line)
	task.Finish()
}

// Wait blocks until every submitted source has been scanned and returns the
// summary along with the first error writing to the sink, if any.
func (s *Scanner) Wait() (Summary, error) {
	s.wg.Wait()
	sum := s.Progress()
	if err := s.seq.Err(); err != nil {
		return sum, fmt.Errorf("write output: %w", err)
	}
	return sum, nil
}

// Progress returns the counts so far without waiting.
func (s *Scanner) Progress() Summary {
	return Summary{
		Sources:    int(s.sources.Load()),
		Matched:    int(s.matched.Load()),
		Suppressed: int(s.suppressed.Load()),
		Failed:     int(s.failed.Load()),
	}
}

func (s *Scanner) scan(ctx context.Context, task *sequencer.Task, src chat.Source) {
	title := src.Title()
	ctx, span := telemetry.StartSpan(ctx, "vod.scan", attribute.String("source", title))
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "scanner"), slog.String("source", title))
	if s.opts.Logger != nil {
		logger = s.opts.Logger.With(slog.String("source", title))
	}

	fmt.Fprintln(task, s.opts.Renderer.Header(title))
	matched, err := s.drain(ctx, task, src, title, logger)
	fmt.Fprintln(task)

	telemetry.Inc(telemetry.SourcesScanned)
	if err != nil {
		class := ClassifyFetchError(err)
		telemetry.CountFetchError(class.String())
		s.failed.Add(1)
		logger.Warn("source fetch failed",
			slog.String("class", class.String()),
			slog.Int("matched", matched),
			slog.Any("err", err))
	}
	if matched == 0 {
		s.suppressed.Add(1)
		telemetry.Inc(telemetry.SourcesSuppressed)
	}
	span.SetAttributes(attribute.Int("matched", matched))
	telemetry.EndSpan(span, err)
}

// drain reads src to the end, releasing the task at the first match.
func (s *Scanner) drain(ctx context.Context, task *sequencer.Task, src chat.Source, title string, logger *slog.Logger) (int, error) {
	stream, err := src.Comments(ctx)
	if err != nil {
		return 0, err
	}
	matched := 0
	for {
		batch, err := stream.Next(ctx)
		if errors.Is(err, iterator.Done) {
			return matched, nil
		}
		if err != nil {
			return matched, err
		}
		telemetry.Inc(telemetry.BatchesFetched)
		for _, m := range batch {
			if !s.opts.Filter.Match(m) {
				continue
			}
			task.Release()
			fmt.Fprintln(task, s.opts.Renderer.Message(m))
			matched++
			s.matched.Add(1)
			telemetry.Inc(telemetry.MessagesMatched)
			s.record(ctx, logger, chat.Match{RunID: s.opts.RunID, Source: title, Message: m, FoundAt: time.Now().UTC()})
		}
	}
}

func (s *Scanner) record(ctx context.Context, logger *slog.Logger, m chat.Match) {
	for _, r := range s.opts.Recorders {
		if err := r.Record(ctx, m); err != nil {
			logger.Warn("record match failed", slog.Any("err", err))
		}
	}
}
