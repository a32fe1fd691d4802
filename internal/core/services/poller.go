package services

import (
	"context"
	"sync"
	"time"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"

	"go.uber.org/zap"
)

// PollResult is what a poll round reports back to its owner.
type PollResult struct {
	Resource  domain.Resource
	Sequence  uint64
	Records   int
	Err       error
	Discarded bool
	Duration  time.Duration
}

// Poller re-fetches one resource at a fixed interval. Rounds start on
// schedule whether or not the previous round finished; a response older
// than the last applied one is discarded.
type Poller[T any] struct {
	resource   domain.Resource
	interval   time.Duration
	fetch      func(ctx context.Context) ([]T, error)
	apply      func([]T) bool
	invalidate func(ctx context.Context) error
	report     func(PollResult)

	mu          sync.Mutex
	nextSeq     uint64
	lastApplied uint64

	wg       sync.WaitGroup
	observer ports.Observer
	logger   *zap.SugaredLogger
}

// PollerOption customises a Poller.
type PollerOption[T any] func(*Poller[T])

// WithInvalidate sets the hook run before every round except the first,
// so re-polls bypass cached snapshots.
func WithInvalidate[T any](fn func(ctx context.Context) error) PollerOption[T] {
	return func(p *Poller[T]) { p.invalidate = fn }
}

// WithReport sets the per-round result callback.
func WithReport[T any](fn func(PollResult)) PollerOption[T] {
	return func(p *Poller[T]) { p.report = fn }
}

// WithPollObserver sets the metrics observer.
func WithPollObserver[T any](o ports.Observer) PollerOption[T] {
	return func(p *Poller[T]) { p.observer = o }
}

func NewPoller[T any](
	resource domain.Resource,
	interval time.Duration,
	fetch func(ctx context.Context) ([]T, error),
	apply func([]T) bool,
	logger *zap.SugaredLogger,
	opts ...PollerOption[T],
) *Poller[T] {
	p := &Poller[T]{
		resource: resource,
		interval: interval,
		fetch:    fetch,
		apply:    apply,
		observer: ports.NopObserver{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	return p
}

// Run polls immediately and then every interval until ctx is cancelled.
// It returns after in-flight rounds have finished.
func (p *Poller[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.wg.Wait()

	p.launch(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.launch(ctx, false)
		}
	}
}

func (p *Poller[T]) launch(ctx context.Context, first bool) {
	p.mu.Lock()
	p.nextSeq++
	seq := p.nextSeq
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.round(ctx, seq, first)
	}()
}

func (p *Poller[T]) round(ctx context.Context, seq uint64, first bool) {
	start := time.Now()

	if !first && p.invalidate != nil {
		if err := p.invalidate(ctx); err != nil {
			p.logger.Debugw("snapshot invalidation failed", "resource", p.resource, "error", err)
		}
	}

	items, err := p.fetch(ctx)
	result := PollResult{Resource: p.resource, Sequence: seq, Err: err, Duration: time.Since(start)}

	if ctx.Err() != nil {
		// session is going away; nothing to report
		return
	}

	if err != nil {
		p.logger.Warnw("poll failed", "resource", p.resource, "sequence", seq, "error", err)
		p.emit(result)
		return
	}

	p.mu.Lock()
	if seq < p.lastApplied {
		p.mu.Unlock()
		result.Discarded = true
		p.observer.PollDiscarded(p.resource)
		p.logger.Debugw("discarding stale poll response", "resource", p.resource, "sequence", seq)
		p.emit(result)
		return
	}
	p.lastApplied = seq
	// apply under the poller lock so two rounds cannot reorder in the store
	p.apply(items)
	p.mu.Unlock()

	result.Records = len(items)
	p.emit(result)
}

func (p *Poller[T]) emit(r PollResult) {
	if p.report != nil {
		p.report(r)
	}
}
