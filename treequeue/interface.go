// Package treequeue decouples the sync engine from a specific job queue
// package, in the same way the rest of the module is decoupled from a
// specific database package.
package treequeue

import (
	"context"
	"time"
)

// Order is the delivery order of a queue.
type Order int

const (
	// OrderFIFO delivers jobs oldest first.
	OrderFIFO Order = iota
	// OrderLIFO delivers jobs newest first, so that for high-churn resource
	// kinds only the newest state eventually wins. Delivery order is
	// best-effort: under backoff-induced delay skew an older job can still
	// run after a newer one.
	OrderLIFO
)

// Policy is the static configuration of one named queue. Each resource kind
// owns one queue whose policy reflects the kind's tolerance for staleness.
type Policy struct {
	// MaxAttempts is the number of delivery attempts before a job is dropped.
	MaxAttempts int
	// BackoffBase is the base of the exponential redelivery schedule
	// (base, 2*base, 4*base, ...).
	BackoffBase time.Duration
	// Order is the delivery order.
	Order Order
	// MaxWorkers is the number of concurrent consumers. Defaults to 1.
	MaxWorkers int
}

// InsertOpts are per-insert options.
type InsertOpts struct {
	// Queue names the destination queue. It must have been declared before
	// the queue was started.
	Queue string
	// Delay postpones the job's first delivery.
	Delay time.Duration
}

// Job is one delivered unit of work.
type Job interface {
	// ID is the queue backend's identifier for the job.
	ID() string
	// Queue is the name of the queue the job was inserted into.
	Queue() string
	// Attempt is the 1-based number of this delivery attempt.
	Attempt() int
	// Payload is the opaque job payload as it was inserted. Redeliveries
	// carry the identical payload.
	Payload() []byte
}

// Handler consumes a delivered job. A nil return acknowledges the job; an
// error schedules a redelivery per the queue's policy until attempts are
// exhausted, after which the job is dropped.
type Handler func(ctx context.Context, job Job) error

// Queue provides an ordered job channel with retries and backoff for use
// with the sync engine.
//
// Its purpose is to wrap the interface of a third party queue package, with
// the aim being to keep the main treesync interface decoupled from a
// specific queue package so that other packages or major versions of
// packages can be supported in future versions.
//
// API is not stable. DO NOT IMPLEMENT.
type Queue interface {
	// Declare registers a named queue with its static policy. All queues
	// must be declared before Start.
	Declare(name string, policy Policy)
	// SetHandler registers the single consumer dispatching all jobs. It must
	// be called before Start.
	SetHandler(handler Handler)
	// Insert enqueues a job. Jobs are immutable once enqueued.
	Insert(ctx context.Context, payload []byte, opts InsertOpts) error
	// Start starts delivering jobs.
	Start(ctx context.Context) error
	// Stop stops fetching new work and waits for in-flight jobs to finish.
	Stop(ctx context.Context) error
}
