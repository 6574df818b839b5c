// Package workpool bounds how many tasks run at once. Admission is FIFO:
// callers blocked in Go are let in in the order they arrived, so the order
// tasks are submitted in is also the order they start in.
package workpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/onnwee/chatgrep/telemetry"
)

// Pool runs functions on at most Max goroutines at a time.
type Pool struct {
	name   string
	max    int64
	sem    *semaphore.Weighted
	active atomic.Int64
	wg     sync.WaitGroup
}

// New returns a pool named name (used as the metrics label) with room for
// max concurrent tasks. max < 1 is treated as 1.
func New(name string, max int) *Pool {
	if max < 1 {
		max = 1
	}
	slog.Debug("worker pool initialized", slog.String("pool", name), slog.Int("max_concurrent", max))
	return &Pool{name: name, max: int64(max), sem: semaphore.NewWeighted(int64(max))}
}

// Go blocks until a worker is free or ctx is canceled, then runs fn on its
// own goroutine. It returns ctx.Err() if fn was not started.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release()
		fn()
	}()
	return nil
}

// Wait blocks until every function started with Go has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Active returns the number of running tasks.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Max returns the configured concurrency limit.
func (p *Pool) Max() int { return int(p.max) }

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

func (p *Pool) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	telemetry.SetActiveWorkers(p.name, int(p.active.Add(1)))
	return nil
}

func (p *Pool) release() {
	telemetry.SetActiveWorkers(p.name, int(p.active.Add(-1)))
	p.sem.Release(1)
}
