// Package pager turns a remote cursor-paginated endpoint into a lazy,
// pull-based sequence of batches.
//
// A Pager starts Fresh, becomes Active while the endpoint keeps returning a
// continuation token and ends Exhausted, either because a page came back
// without a token or because a fetch failed. Exhausted is terminal: Next
// then returns iterator.Done forever. Failures are returned exactly once and
// are never retried.
package pager

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
)

// State is the cursor state.
type State int

const (
	Fresh State = iota
	Active
	Exhausted
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Active:
		return "active"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Page is one response: its items and the continuation token, empty when
// this is the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// FetchFunc issues one request. token is empty for the first request.
type FetchFunc[T any] func(ctx context.Context, token string) (Page[T], error)

// Pager pulls pages on demand. It is owned by a single goroutine.
type Pager[T any] struct {
	fetch    FetchFunc[T]
	state    State
	token    string
	pages    int
	maxPages int
	limiter  *rate.Limiter
}

// Option configures a Pager.
type Option func(*options)

type options struct {
	limiter  *rate.Limiter
	maxPages int
}

// WithLimiter paces requests; the limiter may be shared between pagers
// hitting the same platform.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithMaxPages stops after n pages even if a continuation token is present.
// n <= 0 means no limit.
func WithMaxPages(n int) Option {
	return func(o *options) { o.maxPages = n }
}

// New returns a Fresh pager over fetch.
func New[T any](fetch FetchFunc[T], opts ...Option) *Pager[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Pager[T]{fetch: fetch, limiter: o.limiter, maxPages: o.maxPages}
}

// State returns the current cursor state.
func (p *Pager[T]) State() State { return p.state }

// Token returns the continuation token of the last page, if Active.
func (p *Pager[T]) Token() string { return p.token }

// Next fetches the next page. It returns iterator.Done once the pager is
// exhausted. A fetch error is returned once and exhausts the pager.
func (p *Pager[T]) Next(ctx context.Context) ([]T, error) {
	if p.state == Exhausted {
		return nil, iterator.Done
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.state = Exhausted
			return nil, err
		}
	}
	page, err := p.fetch(ctx, p.token)
	p.pages++
	if err != nil {
		p.state = Exhausted
		p.token = ""
		return nil, fmt.Errorf("page %d: %w", p.pages, err)
	}
	switch {
	case page.Next == "":
		p.state = Exhausted
	case page.Next == p.token:
		// a token that does not move would loop forever
		p.state = Exhausted
	case p.maxPages > 0 && p.pages >= p.maxPages:
		p.state = Exhausted
	default:
		p.state = Active
	}
	p.token = page.Next
	if p.state == Exhausted {
		p.token = ""
	}
	return page.Items, nil
}

// Collect drains p. Items gathered before an error are returned with it.
func Collect[T any](ctx context.Context, p *Pager[T]) ([]T, error) {
	var out []T
	for {
		items, err := p.Next(ctx)
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, items...)
	}
}
