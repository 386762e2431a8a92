package treesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kettleworks/treesync/remotetree"
	"github.com/kettleworks/treesync/treequeue"
	"github.com/kettleworks/treesync/treestore"
	"github.com/kettleworks/treesync/treetype"
)

// Upload is a read-once lazy accessor over an uploaded file. Bytes is
// invoked exactly once, at enqueue time.
type Upload struct {
	// Name is the file's original name; it becomes the record's pathname.
	Name string
	// Bytes reads the file's content.
	Bytes func() ([]byte, error)
}

// UploadBytes wraps in-memory content as an Upload.
func UploadBytes(name string, content []byte) *Upload {
	return &Upload{Name: name, Bytes: func() ([]byte, error) { return content, nil }}
}

// CreateInput is the caller-supplied state of a new resource.
type CreateInput struct {
	// ID is the resource id. Normally left empty and generated; the archive
	// importer sets it to preserve ids from the container.
	ID string
	// ExerciseID is the owning exercise. Empty only for the exercise root.
	ExerciseID string
	// TestSetID scopes a test under a test set instead of the exercise.
	TestSetID string
	// Metadata holds the kind-specific fields as a JSON object.
	Metadata json.RawMessage
	// File is the content upload for single-blob kinds.
	File *Upload
	// Input and Output are a test's two content uploads.
	Input  *Upload
	Output *Upload
}

// UpdateInput is a partial update merged over the current record. Immutable
// fields are stripped before the merge.
type UpdateInput struct {
	// ExerciseID is ignored: an update can never move a resource to a
	// different exercise.
	ExerciseID string
	// Metadata replaces the record's metadata when non-nil.
	Metadata json.RawMessage
	// File, Input and Output replace the corresponding content blobs.
	File   *Upload
	Input  *Upload
	Output *Upload
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Kinds is the resource kind registry. Defaults to DefaultKinds().
	Kinds *Kinds
	// Repo is the remote tree repository holding the exercise folders.
	Repo string
	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Service is the write path shared by every resource kind: persist to the
// relational store synchronously, enqueue sync jobs fire-and-forget, return
// immediately. The remote mirror is guaranteed eventually, not yet.
type Service struct {
	store  treestore.Store
	queue  treequeue.Queue
	remote *remotetree.Client
	kinds  *Kinds
	repo   string
	logger *slog.Logger
}

// NewService creates the write path on the given store, queue and remote
// tree client.
func NewService(store treestore.Store, queue treequeue.Queue, remote *remotetree.Client, config *ServiceConfig) *Service {
	if config == nil {
		config = &ServiceConfig{}
	}
	kinds := config.Kinds
	if kinds == nil {
		kinds = DefaultKinds()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		queue:  queue,
		remote: remote,
		kinds:  kinds,
		repo:   config.Repo,
		logger: logger,
	}
}

// Kinds returns the service's kind registry.
func (s *Service) Kinds() *Kinds { return s.kinds }

// CreateOne persists a new resource and enqueues its sync jobs. The record
// is returned as soon as the relational write is durable; the remote mirror
// catches up asynchronously.
func (s *Service) CreateOne(ctx context.Context, actor treetype.Actor, kind string, in CreateInput) (*treetype.ResourceRecord, error) {
	desc, err := s.kinds.ByName(kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &treetype.ResourceRecord{
		ID:         firstNonZero(in.ID, uuid.NewString()),
		Kind:       desc.Name,
		ExerciseID: in.ExerciseID,
		TestSetID:  in.TestSetID,
		Metadata:   in.Metadata,
		OwnerName:  actor.Name,
		OwnerEmail: actor.Email,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Uploads are read before the relational write so a broken upload fails
	// the whole call instead of leaving a row whose content job can never
	// run.
	pending, err := readUploads(desc, record, in.File, in.Input, in.Output)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, &PersistenceError{Op: "create", Err: err}
	}

	s.enqueue(ctx, desc, &syncJob{
		Op:      treetype.OpCreateMetadata,
		Actor:   actor,
		Record:  *record,
		Pending: pending,
	}, 0)

	return record, nil
}

// UpdateOne merges the input over the current record, persists and enqueues
// update sync jobs. The exercise_id of the input is stripped before the
// merge; an update can never move a resource.
func (s *Service) UpdateOne(ctx context.Context, actor treetype.Actor, kind, id string, in UpdateInput) (*treetype.ResourceRecord, error) {
	desc, err := s.kinds.ByName(kind)
	if err != nil {
		return nil, err
	}

	record, err := s.store.Get(ctx, desc.Name, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	in.ExerciseID = "" // immutable, stripped from the merge
	if in.Metadata != nil {
		record.Metadata = in.Metadata
	}
	record.UpdatedAt = time.Now().UTC()

	pending, err := readUploads(desc, record, in.File, in.Input, in.Output)
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, record); err != nil {
		return nil, &PersistenceError{Op: "update", Err: err}
	}

	s.enqueue(ctx, desc, &syncJob{
		Op:      treetype.OpUpdateMetadata,
		Actor:   actor,
		Record:  *record,
		Pending: pending,
	}, 0)

	return record, nil
}

// DeleteOne removes the record from the relational store and enqueues the
// remote folder delete. The returned record is the deleted row's last known
// state. The relational delete is never rolled back, even if the remote
// delete ultimately fails.
func (s *Service) DeleteOne(ctx context.Context, actor treetype.Actor, kind, id string) (*treetype.ResourceRecord, error) {
	desc, err := s.kinds.ByName(kind)
	if err != nil {
		return nil, err
	}

	record, err := s.store.Get(ctx, desc.Name, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	if err := s.store.Delete(ctx, desc.Name, id); err != nil {
		return nil, &PersistenceError{Op: "delete", Err: err}
	}

	s.enqueue(ctx, desc, &syncJob{
		Op:     treetype.OpDelete,
		Actor:  actor,
		Record: *record,
	}, 0)

	return record, nil
}

// ReadContents reads one of the record's content blobs through the remote
// tree. Drift between the stores surfaces here as an InternalError.
func (s *Service) ReadContents(ctx context.Context, kind, id string, field treetype.TokenField) ([]byte, error) {
	desc, err := s.kinds.ByName(kind)
	if err != nil {
		return nil, err
	}
	record, err := s.store.Get(ctx, desc.Name, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	content, _, err := s.remote.ReadFile(ctx, s.repo, s.kinds.ContentPath(record, field))
	if err != nil {
		return nil, &InternalError{Pathname: record.BlobPathname(field), Err: err}
	}
	return content, nil
}

// readUploads reads the provided uploads, assigns pathnames onto the record
// and returns the pending content blobs for the kind's file jobs.
func readUploads(desc KindDescriptor, record *treetype.ResourceRecord, file, input, output *Upload) ([]pendingBlob, error) {
	var pending []pendingBlob
	read := func(field treetype.TokenField, upload *Upload) error {
		if upload == nil {
			return nil
		}
		if !desc.HasContentFile() {
			return fmt.Errorf("kind %q does not carry a content file", desc.Name)
		}
		content, err := upload.Bytes()
		if err != nil {
			return fmt.Errorf("failed to read upload %q: %w", upload.Name, err)
		}
		switch field {
		case treetype.TokenFile:
			record.Pathname = upload.Name
		case treetype.TokenInput:
			record.InputPathname = upload.Name
		case treetype.TokenOutput:
			record.OutputPathname = upload.Name
		}
		pending = append(pending, pendingBlob{Blob: field, Content: content})
		return nil
	}

	if err := read(treetype.TokenFile, file); err != nil {
		return nil, err
	}
	if err := read(treetype.TokenInput, input); err != nil {
		return nil, err
	}
	if err := read(treetype.TokenOutput, output); err != nil {
		return nil, err
	}
	return pending, nil
}

// enqueue inserts a sync job fire-and-forget. Queue failures are logged and
// absorbed: the relational write already succeeded from the caller's point
// of view.
func (s *Service) enqueue(ctx context.Context, desc KindDescriptor, job *syncJob, delay time.Duration) {
	job.EnqueuedAt = time.Now().UTC()
	payload, err := job.encode()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode sync job",
			"kind", desc.Name, "op", job.Op, "resource_id", job.Record.ID, "error", err)
		return
	}
	err = s.queue.Insert(ctx, payload, treequeue.InsertOpts{Queue: desc.QueueName(), Delay: delay})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue sync job",
			"kind", desc.Name, "op", job.Op, "resource_id", job.Record.ID, "error", err)
	}
}
