// Package treestore abstracts the relational store holding the catalog's
// resource records. The relational store is the system of record; the remote
// tree is only its eventually-consistent mirror.
package treestore

import (
	"context"
	"errors"
	"time"

	"github.com/kettleworks/treesync/treetype"
)

// ErrNotFound is returned when no record matches the given kind and id.
var ErrNotFound = errors.New("resource record not found")

// Store is the record-level persistence interface consumed by the sync
// engine.
//
// SetVersionToken is deliberately narrow: it is the only mutation a sync
// worker may perform, it touches exactly one token column, and it is guarded
// by the stamp of the job that produced the token so a stale worker
// completing late can never overwrite a newer token.
type Store interface {
	// Create persists a new record.
	Create(ctx context.Context, record *treetype.ResourceRecord) error
	// Get loads one record by kind and id, or ErrNotFound.
	Get(ctx context.Context, kind, id string) (*treetype.ResourceRecord, error)
	// Update replaces the record's own fields. Version tokens are not
	// written by Update; they belong to SetVersionToken.
	Update(ctx context.Context, record *treetype.ResourceRecord) error
	// Delete removes the record, or ErrNotFound.
	Delete(ctx context.Context, kind, id string) error
	// ListByExercise returns every record owned by the exercise, across all
	// kinds, with no particular order guaranteed.
	ListByExercise(ctx context.Context, exerciseID string) ([]*treetype.ResourceRecord, error)
	// SetVersionToken stamps one token field of one record. The write is
	// dropped silently when a newer stamp has already been recorded for that
	// field, and is not an error when the record no longer exists (a sync
	// job can outlive its resource).
	SetVersionToken(ctx context.Context, kind, id string, field treetype.TokenField, token string, stampedAt time.Time) error
	// GetAccessLevel computes the caller's coarse access to an exercise via
	// the permission join, falling back to viewer when the owning project is
	// public.
	GetAccessLevel(ctx context.Context, userID, exerciseID string) (treetype.AccessLevel, error)
}
