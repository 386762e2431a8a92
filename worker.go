package treesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kettleworks/treesync/internal/middleware"
	"github.com/kettleworks/treesync/internal/observability"
	"github.com/kettleworks/treesync/remotetree"
	"github.com/kettleworks/treesync/treequeue"
	"github.com/kettleworks/treesync/treestore"
	"github.com/kettleworks/treesync/treetype"
)

// SyncWorker consumes sync jobs and replicates relational-state changes onto
// the remote tree. Each job performs exactly one remote call; on success the
// returned version token is stamped back onto the record. Failures are
// returned to the queue for redelivery and never reach the original caller.
type SyncWorker struct {
	store  treestore.Store
	remote *remotetree.Client
	queue  treequeue.Queue
	kinds  *Kinds
	repo   string
	logger *slog.Logger
}

// NewSyncWorker creates the worker. Register its Handle method as the
// queue's handler.
func NewSyncWorker(store treestore.Store, remote *remotetree.Client, queue treequeue.Queue, kinds *Kinds, repo string, logger *slog.Logger) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{
		store:  store,
		remote: remote,
		queue:  queue,
		kinds:  kinds,
		repo:   repo,
		logger: logger,
	}
}

// Handle is the queue handler. It is wrapped in the logging middleware so
// every job gets a job-scoped logger in its context.
func (w *SyncWorker) Handle(ctx context.Context, job treequeue.Job) error {
	return middleware.NewLoggingHandler(w.logger, w.work)(ctx, job)
}

func (w *SyncWorker) work(ctx context.Context, job treequeue.Job) error {
	sync, err := decodeSyncJob(job.Payload())
	if err != nil {
		// A payload that cannot decode will not decode on redelivery
		// either; log and acknowledge.
		w.logger.ErrorContext(ctx, "dropping undecodable sync job", "job_id", job.ID(), "error", err)
		return nil
	}

	err = w.execute(ctx, sync)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.SyncJobs.WithLabelValues(job.Queue(), string(sync.Op), outcome).Inc()
	return err
}

func (w *SyncWorker) execute(ctx context.Context, job *syncJob) error {
	logger := middleware.LoggerFromContext(ctx)
	record := &job.Record
	author := remotetree.Author{Name: job.Actor.Name, Email: job.Actor.Email}

	switch job.Op {
	case treetype.OpCreateMetadata, treetype.OpUpdateMetadata:
		path := w.kinds.MetadataPath(record)
		var token string
		var err error
		if job.Op == treetype.OpCreateMetadata || record.Sha == "" {
			token, err = w.remote.CreateFile(ctx, w.repo, path, record.Metadata, author)
		} else {
			token, err = w.remote.UpdateFile(ctx, w.repo, path, record.Sha, record.Metadata, author)
		}
		if err != nil {
			return fmt.Errorf("remote metadata write for %s/%s: %w", record.Kind, record.ID, err)
		}
		if err := w.stampToken(ctx, record, treetype.TokenMetadata, token, job.EnqueuedAt); err != nil {
			return err
		}
		logger.InfoContext(ctx, "metadata synced", "kind", record.Kind, "resource_id", record.ID, "path", path)

		// The content jobs depend on the metadata write; enqueue them only
		// now that it has been acknowledged.
		w.enqueuePending(ctx, job)
		return nil

	case treetype.OpCreateFile:
		path := w.kinds.ContentPath(record, job.Blob)
		token, err := w.remote.CreateFile(ctx, w.repo, path, job.Content, author)
		if err != nil {
			return fmt.Errorf("remote content create for %s/%s: %w", record.Kind, record.ID, err)
		}
		if err := w.stampToken(ctx, record, job.Blob, token, job.EnqueuedAt); err != nil {
			return err
		}
		logger.InfoContext(ctx, "content synced", "kind", record.Kind, "resource_id", record.ID, "path", path)
		return nil

	case treetype.OpUpdateFile:
		path := w.kinds.ContentPath(record, job.Blob)
		prior := record.Token(job.Blob)
		var token string
		var err error
		if prior == "" {
			// The blob was never mirrored; an update degenerates to a
			// create.
			token, err = w.remote.CreateFile(ctx, w.repo, path, job.Content, author)
		} else {
			// A stale prior token surfaces as a ConflictError. The worker
			// must not resolve it by overwriting; the job fails and is
			// redelivered per policy with the same snapshot.
			token, err = w.remote.UpdateFile(ctx, w.repo, path, prior, job.Content, author)
		}
		if err != nil {
			return fmt.Errorf("remote content update for %s/%s: %w", record.Kind, record.ID, err)
		}
		if err := w.stampToken(ctx, record, job.Blob, token, job.EnqueuedAt); err != nil {
			return err
		}
		logger.InfoContext(ctx, "content synced", "kind", record.Kind, "resource_id", record.ID, "path", path)
		return nil

	case treetype.OpDelete:
		path := w.kinds.FolderPath(record)
		if err := w.remote.DeleteFolder(ctx, w.repo, path, author); err != nil {
			return fmt.Errorf("remote folder delete for %s/%s: %w", record.Kind, record.ID, err)
		}
		logger.InfoContext(ctx, "remote folder deleted", "kind", record.Kind, "resource_id", record.ID, "path", path)
		return nil

	default:
		w.logger.ErrorContext(ctx, "dropping sync job with unknown operation", "op", job.Op)
		return nil
	}
}

// stampToken persists an acknowledged version token. The store's stamp guard
// keeps a stale worker from rolling a newer token back.
func (w *SyncWorker) stampToken(ctx context.Context, record *treetype.ResourceRecord, field treetype.TokenField, token string, stampedAt time.Time) error {
	if err := w.store.SetVersionToken(ctx, record.Kind, record.ID, field, token, stampedAt); err != nil {
		return fmt.Errorf("stamping %s token for %s/%s: %w", field, record.Kind, record.ID, err)
	}
	// Keep the snapshot coherent for the content jobs chained off this one.
	record.SetToken(field, token)
	return nil
}

// enqueuePending turns a metadata job's pending blobs into content jobs,
// eligible after the kind's configured delay.
func (w *SyncWorker) enqueuePending(ctx context.Context, parent *syncJob) {
	if len(parent.Pending) == 0 {
		return
	}
	desc, err := w.kinds.ByName(parent.Record.Kind)
	if err != nil {
		w.logger.ErrorContext(ctx, "cannot enqueue content jobs for unknown kind", "kind", parent.Record.Kind)
		return
	}
	for _, pending := range parent.Pending {
		child := &syncJob{
			Op:         parent.contentOp(),
			Actor:      parent.Actor,
			Record:     parent.Record,
			Blob:       pending.Blob,
			Content:    pending.Content,
			EnqueuedAt: time.Now().UTC(),
		}
		payload, err := child.encode()
		if err != nil {
			w.logger.ErrorContext(ctx, "failed to encode content job",
				"kind", desc.Name, "resource_id", parent.Record.ID, "error", err)
			continue
		}
		err = w.queue.Insert(ctx, payload, treequeue.InsertOpts{Queue: desc.QueueName(), Delay: desc.ContentDelay})
		if err != nil {
			w.logger.ErrorContext(ctx, "failed to enqueue content job",
				"kind", desc.Name, "resource_id", parent.Record.ID, "error", err)
		}
	}
}
