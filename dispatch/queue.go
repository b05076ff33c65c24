/*
queue.go - Bounded fire-and-forget work queue

PURPOSE:
  The asynchronous boundary between a primary operation (recalculation, an
  unlock) and its side-channel work (feed writes, achievement evaluation).
  The primary path never blocks on and never fails from the side channel.

BEHAVIOR:
  - Submit is non-blocking. When the buffer is full or the queue is shut
    down the item is dropped, counted and logged.
  - A fixed number of workers consume items. Handler errors and panics are
    counted, logged, and handed to the OnError hook; they never reach the
    submitter.
  - Shutdown stops intake, drains what is buffered and waits for workers up
    to a timeout, after which in-flight handlers see a cancelled context.

EXAMPLE:
  q := dispatch.New(dispatch.Options{Name: "feed", Size: 256, Workers: 2},
      func(ctx context.Context, r activity.Record) error {
          return store.AppendActivity(ctx, r)
      })
  q.Submit(record)
  defer q.Shutdown(5 * time.Second)
*/
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSize    = 256
	DefaultWorkers = 2
)

// Handler processes one item.
type Handler[T any] func(ctx context.Context, item T) error

type Options struct {
	Name    string
	Size    int
	Workers int
	Log     logrus.FieldLogger

	// OnError is called for every failed or panicking item.
	OnError func(err error)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Name      string `json:"name"`
	Submitted int64  `json:"submitted"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
	Pending   int    `json:"pending"`
}

type Queue[T any] struct {
	name    string
	handler Handler[T]
	onError func(err error)
	log     logrus.FieldLogger

	items  chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	idleMu   sync.Mutex
	idle     *sync.Cond
	inflight int

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New starts the workers and returns the queue.
func New[T any](opts Options, handler Handler[T]) *Queue[T] {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[T]{
		name:    opts.Name,
		handler: handler,
		onError: opts.OnError,
		log:     opts.Log.WithField("queue", opts.Name),
		items:   make(chan T, opts.Size),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.idle = sync.NewCond(&q.idleMu)

	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues an item without blocking. Returns false if it was dropped.
func (q *Queue[T]) Submit(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop("queue closed")
		return false
	}

	q.track(1)
	select {
	case q.items <- item:
		q.submitted.Add(1)
		return true
	default:
		q.track(-1)
		q.drop("queue full")
		return false
	}
}

// Wait blocks until every accepted item has been handled.
func (q *Queue[T]) Wait() {
	q.idleMu.Lock()
	defer q.idleMu.Unlock()
	for q.inflight > 0 {
		q.idle.Wait()
	}
}

// Shutdown stops intake, drains buffered items and waits for the workers.
func (q *Queue[T]) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-time.After(timeout):
		q.cancel()
		q.log.WithField("timeout", timeout).Warn("timed out draining queue")
		return context.DeadlineExceeded
	}
}

func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:      q.name,
		Submitted: q.submitted.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   len(q.items),
	}
}

func (q *Queue[T]) work() {
	defer q.wg.Done()
	for item := range q.items {
		q.run(item)
		q.track(-1)
	}
}

func (q *Queue[T]) run(item T) {
	defer func() {
		if r := recover(); r != nil {
			q.fail(fmt.Errorf("panic in %s handler: %v", q.name, r))
		}
	}()

	if err := q.handler(q.ctx, item); err != nil {
		q.fail(err)
		return
	}
	q.processed.Add(1)
}

func (q *Queue[T]) fail(err error) {
	q.failed.Add(1)
	q.log.WithError(err).Error("queued work failed")
	if q.onError != nil {
		q.onError(err)
	}
}

func (q *Queue[T]) drop(reason string) {
	q.dropped.Add(1)
	q.log.WithField("reason", reason).Warn("dropped queued work")
}

func (q *Queue[T]) track(delta int) {
	q.idleMu.Lock()
	q.inflight += delta
	if q.inflight == 0 {
		q.idle.Broadcast()
	}
	q.idleMu.Unlock()
}
