// Package treeriver provides a treequeue implementation backed by River.
//
// This is the production backend: jobs are durable rows in Postgres and
// delivery is coordinated across processes by River. The code is organized
// this way so that other queue packages can be supported in future versions.
package treeriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/kettleworks/treesync/treequeue"
)

// jobArgs is the single River job kind carrying every sync job. Routing
// happens through the queue name and the opaque payload, not through the
// River kind, so declaring a new resource kind needs no new registration.
type jobArgs struct {
	Payload json.RawMessage `json:"payload"`
}

func (jobArgs) Kind() string { return "treesync.sync" }

// Queue is a River-backed job queue.
type Queue struct {
	dbPool   *pgxpool.Pool
	client   *river.Client[pgx.Tx]
	workers  *river.Workers
	started  time.Time
	anchor   time.Time
	handler  treequeue.Handler
	mu       sync.Mutex
	policies map[string]treequeue.Policy
}

// New creates a River queue on the given database pool.
func New(dbPool *pgxpool.Pool) *Queue {
	now := time.Now()
	return &Queue{
		dbPool:   dbPool,
		workers:  river.NewWorkers(),
		started:  now,
		anchor:   now,
		policies: make(map[string]treequeue.Policy),
	}
}

func (q *Queue) Declare(name string, policy treequeue.Policy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.policies[name] = policy
}

func (q *Queue) SetHandler(handler treequeue.Handler) {
	q.handler = handler
}

func (q *Queue) Start(ctx context.Context) error {
	if q.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	if err := river.AddWorkerSafely(q.workers, &queueWorker{queue: q}); err != nil {
		return err
	}

	queues := make(map[string]river.QueueConfig, len(q.policies))
	for name, policy := range q.policies {
		workers := policy.MaxWorkers
		if workers < 1 {
			workers = 1
		}
		queues[name] = river.QueueConfig{MaxWorkers: workers}
	}

	client, err := river.NewClient(riverpgxv5.New(q.dbPool), &river.Config{
		Queues:  queues,
		Workers: q.workers,
	})
	if err != nil {
		return err
	}
	q.client = client
	return q.client.Start(ctx)
}

func (q *Queue) Stop(ctx context.Context) error {
	if q.client == nil {
		return nil
	}
	return q.client.Stop(ctx)
}

func (q *Queue) Insert(ctx context.Context, payload []byte, opts treequeue.InsertOpts) error {
	q.mu.Lock()
	policy, ok := q.policies[opts.Queue]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("queue %q is not declared", opts.Queue)
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	_, err := q.client.Insert(ctx, jobArgs{Payload: payload}, &river.InsertOpts{
		Queue:       opts.Queue,
		MaxAttempts: maxAttempts,
		ScheduledAt: q.scheduledAt(policy, opts.Delay),
	})
	return err
}

// scheduledAt computes the job's eligibility time. River fetches eligible
// jobs in ascending scheduled_at order, so LIFO queues anchor zero-delay
// jobs progressively further in the past: the newest insert sorts first.
// Delayed jobs have to be scheduled in the future, so ordering across them
// is best-effort only.
func (q *Queue) scheduledAt(policy treequeue.Policy, delay time.Duration) time.Time {
	now := time.Now()
	if delay > 0 {
		return now.Add(delay)
	}
	if policy.Order == treequeue.OrderLIFO {
		return q.anchor.Add(-now.Sub(q.started))
	}
	return now
}

// queueWorker adapts the registered handler to River's worker interface.
type queueWorker struct {
	river.WorkerDefaults[jobArgs]
	queue *Queue
}

func (w *queueWorker) Work(ctx context.Context, job *river.Job[jobArgs]) error {
	return w.queue.handler(ctx, &riverJob{row: job.JobRow, payload: job.Args.Payload})
}

// NextRetry applies the queue's exponential backoff policy.
func (w *queueWorker) NextRetry(job *river.Job[jobArgs]) time.Time {
	w.queue.mu.Lock()
	policy := w.queue.policies[job.Queue]
	w.queue.mu.Unlock()

	backoff := policy.BackoffBase
	if backoff <= 0 {
		backoff = time.Second
	}
	attempt := job.Attempt
	if attempt > 16 {
		attempt = 16
	}
	if attempt > 1 {
		backoff <<= attempt - 1
	}
	return time.Now().Add(backoff)
}

type riverJob struct {
	row     *rivertype.JobRow
	payload []byte
}

func (j *riverJob) ID() string      { return strconv.FormatInt(j.row.ID, 10) }
func (j *riverJob) Queue() string   { return j.row.Queue }
func (j *riverJob) Attempt() int    { return j.row.Attempt }
func (j *riverJob) Payload() []byte { return j.payload }
