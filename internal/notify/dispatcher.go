// Package notify runs best-effort notification tasks on a bounded worker
// pool so the trading cycle never waits on analytics or alert sinks.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of notification work.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
	at   time.Time
}

// Stats are cumulative counters.
type Stats struct {
	Pending   int    `json:"pending"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Dispatcher is a fixed worker pool fed by a bounded queue.
type Dispatcher struct {
	queue   chan job
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher starts workers goroutines draining a queue of queueSize.
func NewDispatcher(workers, queueSize int, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		queue:   make(chan job, queueSize),
		timeout: timeout,
		log:     log.Named("notify"),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or the dispatcher is closed; the task is then dropped.
func (d *Dispatcher) Submit(name string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		d.log.Warn("notify_closed_drop", zap.String("task", name))
		return false
	}
	select {
	case d.queue <- job{name: name, fn: fn, at: time.Now()}:
		return true
	default:
		d.dropped.Add(1)
		d.log.Warn("notify_queue_full", zap.String("task", name), zap.Int("capacity", cap(d.queue)))
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.fn(ctx)
	}()

	if err != nil {
		d.failed.Add(1)
		d.log.Warn("notify_task_failed",
			zap.String("task", j.name),
			zap.Duration("latency", time.Since(j.at)),
			zap.Error(err))
		return
	}
	d.completed.Add(1)
}

// Pending returns the number of queued tasks.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Pending:   d.Pending(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}
