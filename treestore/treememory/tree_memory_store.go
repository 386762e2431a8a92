// Package treememory provides an in-memory treestore implementation for
// tests and examples.
package treememory

import (
	"context"
	"sync"
	"time"

	"github.com/kettleworks/treesync/treestore"
	"github.com/kettleworks/treesync/treetype"
)

type key struct {
	kind string
	id   string
}

type stampKey struct {
	key
	field treetype.TokenField
}

// Store is an in-memory resource record store.
type Store struct {
	mu      sync.RWMutex
	records map[key]*treetype.ResourceRecord
	stamps  map[stampKey]time.Time

	// AccessFunc overrides GetAccessLevel. When nil every caller is an
	// admin, which is what most tests want.
	AccessFunc func(userID, exerciseID string) treetype.AccessLevel
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[key]*treetype.ResourceRecord),
		stamps:  make(map[stampKey]time.Time),
	}
}

func (s *Store) Create(ctx context.Context, record *treetype.ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[key{record.Kind, record.ID}] = &clone
	return nil
}

func (s *Store) Get(ctx context.Context, kind, id string) (*treetype.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key{kind, id}]
	if !ok {
		return nil, treestore.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *Store) Update(ctx context.Context, record *treetype.ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[key{record.Kind, record.ID}]
	if !ok {
		return treestore.ErrNotFound
	}
	clone := *record
	// Token fields belong to SetVersionToken; keep the stored ones.
	clone.Sha = current.Sha
	clone.FileSha = current.FileSha
	clone.InputSha = current.InputSha
	clone.OutputSha = current.OutputSha
	s.records[key{record.Kind, record.ID}] = &clone
	return nil
}

func (s *Store) Delete(ctx context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{kind, id}
	if _, ok := s.records[k]; !ok {
		return treestore.ErrNotFound
	}
	delete(s.records, k)
	return nil
}

func (s *Store) ListByExercise(ctx context.Context, exerciseID string) ([]*treetype.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*treetype.ResourceRecord
	for _, record := range s.records {
		if record.ExerciseID == exerciseID {
			clone := *record
			records = append(records, &clone)
		}
	}
	return records, nil
}

func (s *Store) SetVersionToken(ctx context.Context, kind, id string, field treetype.TokenField, token string, stampedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key{kind, id}]
	if !ok {
		// The resource was deleted while the job was in flight; nothing to
		// stamp.
		return nil
	}
	sk := stampKey{key{kind, id}, field}
	if last, ok := s.stamps[sk]; ok && !last.Before(stampedAt) {
		return nil
	}
	s.stamps[sk] = stampedAt
	record.SetToken(field, token)
	return nil
}

func (s *Store) GetAccessLevel(ctx context.Context, userID, exerciseID string) (treetype.AccessLevel, error) {
	if s.AccessFunc != nil {
		return s.AccessFunc(userID, exerciseID), nil
	}
	return treetype.AccessAdmin, nil
}
