// Package pool provides order-preserving batch maps, either
// sequential or on a bounded set of goroutines.
package pool

import (
	"context"
	"runtime"
	"sync"

	"github.com/op/go-logging"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var log = logging.MustGetLogger("pool")

// ErrClosed is returned by Map on a closed pool.
var ErrClosed = errors.New("pool: map on a closed pool")

// Task computes the i-th unit of a batch. Tasks write their result
// to the i-th slot of a caller-owned slice, so the output order
// always matches the input order.
type Task func(ctx context.Context, i int) error

// Mapper applies a task to every index of a batch. Map returns the
// first error encountered; after that the remaining units of the
// batch are abandoned.
type Mapper interface {
	Map(ctx context.Context, n int, task Task) error
	Close() error
}

// Factory creates a new Mapper.
type Factory func() Mapper

// NewFactory returns a factory for the given number of processes: 1
// gives a sequential mapper, anything else a Pool (<= 0 means
// runtime.GOMAXPROCS(0) workers).
func NewFactory(processes int) Factory {
	if processes == 1 {
		return func() Mapper { return Serial{} }
	}
	return func() Mapper { return NewPool(processes) }
}

// Serial is a sequential mapper.
type Serial struct{}

// Map applies task to 0..n-1 in order.
func (Serial) Map(ctx context.Context, n int, task Task) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := task(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// Close does nothing.
func (Serial) Close() error {
	return nil
}

// Pool is a concurrent mapper with a bounded number of workers. Once
// closed, a pool cannot be reused.
type Pool struct {
	workers int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewPool creates a new pool with the given number of workers, <= 0
// means runtime.GOMAXPROCS(0).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	log.Debugf("new pool with %d workers", workers)
	return &Pool{
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Workers returns the maximum number of concurrent tasks.
func (p *Pool) Workers() int {
	return p.workers
}

// Map runs task for 0..n-1 using up to Workers() goroutines. It
// returns as soon as all units are done, a unit fails or ctx is
// cancelled. Units still running at that point are abandoned: they
// are allowed to finish in the background, but pending units are
// never started.
func (p *Pool) Map(ctx context.Context, n int, task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	first := make(chan error, 1)
	done := make(chan error, 1)

	go func() {
		defer p.inflight.Done()
		for i := 0; i < n && gctx.Err() == nil; i++ {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := task(gctx, i); err != nil {
					select {
					case first <- err:
					default:
					}
					return err
				}
				return nil
			})
		}
		err := g.Wait()
		if err == nil {
			// units skipped after cancellation
			err = ctx.Err()
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all the outstanding work. Subsequent calls to Map
// fail with ErrClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.cancel()
		log.Debug("pool closed")
	}
	return nil
}

// Wait blocks until all the abandoned units finish.
func (p *Pool) Wait() {
	p.inflight.Wait()
}
