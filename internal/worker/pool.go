// Package worker runs scans on a bounded pool. Each submitted run gets
// its own cancellable context, tracked by run identifier, so an
// in-flight or queued scan can be aborted from the API layer.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/strixsec/strix/internal/logger"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool closed")

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("worker queue full")

type task struct {
	runID string
	ctx   context.Context
	fn    func(ctx context.Context)
}

type Pool struct {
	tasks  chan task
	group  *errgroup.Group
	cancel context.CancelFunc
	logger *logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// NewPool starts size workers with a queue of queueDepth pending runs.
func NewPool(size, queueDepth int, log *logger.Logger) *Pool {
	if size <= 0 {
		size = 3
	}
	if queueDepth <= 0 {
		queueDepth = 32
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	p := &Pool{
		tasks:   make(chan task, queueDepth),
		group:   group,
		cancel:  cancel,
		logger:  log.WithComponent("workers"),
		cancels: make(map[string]context.CancelFunc),
	}

	for i := 0; i < size; i++ {
		group.Go(func() error {
			p.work(groupCtx)
			return nil
		})
	}

	p.logger.Infow("Worker pool started", "workers", size, "queue_depth", queueDepth)
	return p
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			t.fn(t.ctx)
			p.release(t.runID)
		}
	}
}

// Submit queues a run. The function receives a context that is cancelled
// by Cancel(runID) or pool shutdown; it must honor that context. The
// enqueue happens under the same lock as the closed check so a task can
// never slip into the queue concurrently with Shutdown.
func (p *Pool) Submit(runID string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	runCtx, runCancel := context.WithCancel(context.Background())

	select {
	case p.tasks <- task{runID: runID, ctx: runCtx, fn: fn}:
		p.cancels[runID] = runCancel
		return nil
	default:
		runCancel()
		return ErrQueueFull
	}
}

// Cancel aborts a queued or running scan. It reports whether the run
// identifier was known to the pool.
func (p *Pool) Cancel(runID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[runID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	p.logger.Infow("Run cancelled", "run_id", runID)
	return true
}

// Active returns the number of runs currently queued or executing.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

func (p *Pool) release(runID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[runID]
	delete(p.cancels, runID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown stops accepting work, cancels everything in flight, and
// waits for the workers to exit. Tasks still sitting in the queue when
// the workers stop are then run with their already-cancelled contexts,
// so each one records its own failure instead of staying queued forever.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, cancel := range p.cancels {
		cancel()
	}
	p.mu.Unlock()

	p.cancel()
	err := p.group.Wait()

	// closed is set, so no Submit can send anymore.
	close(p.tasks)
	for t := range p.tasks {
		t.fn(t.ctx)
		p.release(t.runID)
	}

	p.logger.Infow("Worker pool stopped")
	return err
}
