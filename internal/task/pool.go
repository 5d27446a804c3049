// Package task runs deferred generation work. The scheduler is an explicit
// interface so the workflow can be exercised in tests with a synchronous
// implementation instead of a real worker pool.
package task

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of deferred transformation work. It carries ids only;
// the processor re-reads all state, so a task outliving its record is
// harmless.
type Task struct {
	ImageID     string
	BlobKey     string
	ContentType string
}

// Scheduler accepts deferred work. Enqueue never blocks the caller beyond
// queue backpressure and gives no completion signal: submission is
// fire-and-forget.
type Scheduler interface {
	Enqueue(t Task)
}

// Processor handles one task. Errors are terminal for the invocation; any
// retry policy lives inside the processor itself.
type Processor func(ctx context.Context, t Task)

// Pool is a fixed-size worker pool draining a buffered channel.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines processing enqueued tasks with process.
func NewPool(workers int, process Processor) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := &Pool{
		tasks: make(chan Task, 64),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				process(context.Background(), t)
			}
		}()
	}

	return p
}

// Enqueue submits a task. Submissions after Close are dropped with a log
// line instead of panicking; the startup sweep picks the record up on the
// next boot.
func (p *Pool) Enqueue(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		slog.Warn("task pool closed, dropping task", "image_id", t.ImageID)
		return
	}
	p.tasks <- t
}

// Close stops accepting tasks and waits for in-flight work to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
