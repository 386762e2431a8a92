// Package treememory provides an in-process treequeue implementation.
//
// It exists for tests and for small single-process deployments; it trades
// the durability of the River backend for determinism and zero
// infrastructure. Delivery order, delays, retries and backoff behave exactly
// as declared, which makes it the reference implementation for queue
// semantics.
package treememory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kettleworks/treesync/treequeue"
)

type job struct {
	id      string
	queue   string
	payload []byte
	attempt int
	seq     int64
}

type namedQueue struct {
	policy treequeue.Policy
	ready  []*job
}

// Queue is an in-memory job queue.
type Queue struct {
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queues   map[string]*namedQueue
	handler  treequeue.Handler
	seq      int64
	inflight int // scheduled + ready + running jobs
	started  bool
	stopping bool

	workCtx    context.Context
	workCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates an in-memory queue. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger: logger,
		queues: make(map[string]*namedQueue),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Declare(name string, policy treequeue.Policy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[name] = &namedQueue{policy: policy}
}

func (q *Queue) SetHandler(handler treequeue.Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

func (q *Queue) Insert(ctx context.Context, payload []byte, opts treequeue.InsertOpts) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	named, ok := q.queues[opts.Queue]
	if !ok {
		return fmt.Errorf("queue %q is not declared", opts.Queue)
	}

	q.seq++
	j := &job{
		id:      uuid.NewString(),
		queue:   opts.Queue,
		payload: append([]byte(nil), payload...),
		seq:     q.seq,
	}
	q.inflight++

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, func() { q.deliver(named, j) })
		return nil
	}
	named.ready = append(named.ready, j)
	q.cond.Broadcast()
	return nil
}

// deliver moves a delayed or retried job onto its queue's ready list.
func (q *Queue) deliver(named *namedQueue, j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	named.ready = append(named.ready, j)
	q.cond.Broadcast()
}

func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return fmt.Errorf("queue already started")
	}
	if q.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	q.started = true
	q.workCtx, q.workCancel = context.WithCancel(ctx)

	for name, named := range q.queues {
		workers := named.policy.MaxWorkers
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			q.wg.Add(1)
			go q.work(name)
		}
	}
	return nil
}

func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopping = true
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.workCancel()
		return ctx.Err()
	}
	q.workCancel()
	return nil
}

func (q *Queue) work(name string) {
	defer q.wg.Done()
	for {
		j := q.take(name)
		if j == nil {
			return
		}
		j.attempt++

		err := q.handler(q.workCtx, &memoryJob{job: j})

		q.mu.Lock()
		named := q.queues[name]
		if err == nil {
			q.inflight--
		} else if j.attempt >= named.policy.MaxAttempts {
			// Exhaustion is terminal and silent to the caller; the drop is
			// only visible here.
			q.inflight--
			q.logger.Error("job dropped after exhausting attempts",
				"queue", name, "job_id", j.id, "attempt", j.attempt, "error", err)
		} else {
			backoff := named.policy.BackoffBase
			if backoff <= 0 {
				backoff = time.Second
			}
			backoff <<= j.attempt - 1
			time.AfterFunc(backoff, func() { q.deliver(named, j) })
		}
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// take blocks until a job on the named queue is ready or the queue is
// stopping, in which case it returns nil.
func (q *Queue) take(name string) *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	named := q.queues[name]
	for {
		if len(named.ready) > 0 {
			var j *job
			if named.policy.Order == treequeue.OrderLIFO {
				j = named.ready[len(named.ready)-1]
				named.ready = named.ready[:len(named.ready)-1]
			} else {
				j = named.ready[0]
				named.ready = named.ready[1:]
			}
			return j
		}
		if q.stopping {
			return nil
		}
		q.cond.Wait()
	}
}

// WaitIdle blocks until no job is scheduled, ready or running, or until the
// context is done. It is intended for tests that need the asynchronous
// engine to settle.
func (q *Queue) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		q.cond.Broadcast()
	}()
	go func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for q.inflight > 0 && ctx.Err() == nil {
			q.cond.Wait()
		}
		close(done)
	}()
	<-done
	return ctx.Err()
}

type memoryJob struct {
	job *job
}

func (j *memoryJob) ID() string      { return j.job.id }
func (j *memoryJob) Queue() string   { return j.job.queue }
func (j *memoryJob) Attempt() int    { return j.job.attempt }
func (j *memoryJob) Payload() []byte { return j.job.payload }
