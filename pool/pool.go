// Package pool runs background-removal work on a fixed set of workers so
// request goroutines never do the heavy lifting themselves.
package pool

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const DefaultWorkers = 4

var ErrClosed = errors.New("worker pool is closed")

// RemoveFunc is the work every item runs.
type RemoveFunc func(ctx context.Context, img image.Image) (image.Image, error)

// Observer receives pool activity.
type Observer interface {
	QueueDepth(n int)
	BusyWorkers(n int)
	JobDone(d time.Duration, err error)
}

type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

func WithObserver(o Observer) Option {
	return func(p *Pool) {
		p.observer = o
	}
}

type task struct {
	ctx    context.Context
	img    image.Image
	future *Future
}

// Future is the result slot of one submission.
type Future struct {
	done chan struct{}
	img  image.Image
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(img image.Image, err error) {
	f.img, f.err = img, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the work finishes or ctx is done. Giving up on ctx does
// not stop the work itself.
func (f *Future) Wait(ctx context.Context) (image.Image, error) {
	select {
	case <-f.done:
		return f.img, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Stats struct {
	Workers int
	Queued  int
	Busy    int
}

// Pool is a fixed-size worker pool with an unbounded FIFO queue.
type Pool struct {
	workers  int
	fn       RemoveFunc
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	busy    int
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func New(workers int, fn RemoveFunc, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		workers: workers,
		fn:      fn,
		logger:  slog.Default(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", "workers", p.workers)
}

// Submit queues img and returns its future. It never blocks.
func (p *Pool) Submit(ctx context.Context, img image.Image) *Future {
	f := newFuture()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.resolve(nil, ErrClosed)
		return f
	}
	p.queue = append(p.queue, &task{ctx: context.WithoutCancel(ctx), img: img, future: f})
	depth := len(p.queue)
	p.mu.Unlock()

	p.cond.Signal()
	if p.observer != nil {
		p.observer.QueueDepth(depth)
	}
	return f
}

// Stop rejects new work, lets the workers drain the queue and waits for
// them until ctx is done.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	if !p.started {
		// 没有 worker，直接拒绝排队中的任务
		for _, t := range p.queue {
			t.future.resolve(nil, ErrClosed)
		}
		p.queue = nil
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop worker pool: %w", ctx.Err())
	}
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Workers: p.workers, Queued: len(p.queue), Busy: p.busy}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)

	for {
		t, ok := p.next()
		if !ok {
			return
		}

		start := time.Now()
		img, err := p.run(t)
		elapsed := time.Since(start)
		if err != nil {
			logger.Warn("removal failed", "elapsed", elapsed, "error", err)
		} else {
			logger.Debug("removal done", "elapsed", elapsed)
		}
		t.future.resolve(img, err)

		p.mu.Lock()
		p.busy--
		busy := p.busy
		p.mu.Unlock()
		if p.observer != nil {
			p.observer.JobDone(elapsed, err)
			p.observer.BusyWorkers(busy)
		}
	}
}

// next pops the oldest task, blocking while the queue is empty. It returns
// false once the pool is closed and drained.
func (p *Pool) next() (*task, bool) {
	p.mu.Lock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return nil, false
	}
	t := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.busy++
	depth, busy := len(p.queue), p.busy
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.QueueDepth(depth)
		p.observer.BusyWorkers(busy)
	}
	return t, true
}

// run calls the work function, turning a panic into an error so the
// worker survives.
func (p *Pool) run(t *task) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("removal panicked", "panic", r, "stack", string(debug.Stack()))
			img, err = nil, fmt.Errorf("removal panicked: %v", r)
		}
	}()
	img, err = p.fn(t.ctx, t.img)
	if err == nil && img == nil {
		err = errors.New("removal returned no image")
	}
	return img, err
}
