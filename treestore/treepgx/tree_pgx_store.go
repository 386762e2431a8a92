// Package treepgx provides a treestore implementation for Pgx v5.
//
// This is currently the only production store and will therefore be used by
// all deployments, but the code is organized this way so that other database
// packages can be supported in future versions.
package treepgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kettleworks/treesync/treestore"
	"github.com/kettleworks/treesync/treetype"
)

// Store is a Postgres-backed resource record store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS treesync_resource (
	id TEXT NOT NULL,
	kind TEXT NOT NULL,
	exercise_id TEXT NOT NULL DEFAULT '',
	testset_id TEXT NOT NULL DEFAULT '',
	pathname TEXT NOT NULL DEFAULT '',
	input_pathname TEXT NOT NULL DEFAULT '',
	output_pathname TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	owner_name TEXT NOT NULL DEFAULT '',
	owner_email TEXT NOT NULL DEFAULT '',
	sha TEXT NOT NULL DEFAULT '',
	file_sha TEXT NOT NULL DEFAULT '',
	input_sha TEXT NOT NULL DEFAULT '',
	output_sha TEXT NOT NULL DEFAULT '',
	sha_synced_at TIMESTAMPTZ,
	file_sha_synced_at TIMESTAMPTZ,
	input_sha_synced_at TIMESTAMPTZ,
	output_sha_synced_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, id)
);

CREATE INDEX IF NOT EXISTS treesync_resource_exercise_idx
	ON treesync_resource (exercise_id);

CREATE TABLE IF NOT EXISTS treesync_project_member (
	project_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	level INT NOT NULL,
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS treesync_project (
	id TEXT PRIMARY KEY,
	public BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS treesync_exercise_project (
	exercise_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL
);
`

// Migrate creates the store's tables when they don't exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const recordColumns = `id, kind, exercise_id, testset_id, pathname, input_pathname,
	output_pathname, metadata, owner_name, owner_email, sha, file_sha,
	input_sha, output_sha, created_at, updated_at`

func scanRecord(row pgx.Row) (*treetype.ResourceRecord, error) {
	var record treetype.ResourceRecord
	err := row.Scan(
		&record.ID, &record.Kind, &record.ExerciseID, &record.TestSetID,
		&record.Pathname, &record.InputPathname, &record.OutputPathname,
		&record.Metadata, &record.OwnerName, &record.OwnerEmail,
		&record.Sha, &record.FileSha, &record.InputSha, &record.OutputSha,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, treestore.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (s *Store) Create(ctx context.Context, record *treetype.ResourceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO treesync_resource
			(id, kind, exercise_id, testset_id, pathname, input_pathname,
			 output_pathname, metadata, owner_name, owner_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID, record.Kind, record.ExerciseID, record.TestSetID,
		record.Pathname, record.InputPathname, record.OutputPathname,
		record.Metadata, record.OwnerName, record.OwnerEmail,
		record.CreatedAt, record.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, kind, id string) (*treetype.ResourceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM treesync_resource WHERE kind = $1 AND id = $2`,
		kind, id)
	return scanRecord(row)
}

func (s *Store) Update(ctx context.Context, record *treetype.ResourceRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE treesync_resource
		SET testset_id = $3, pathname = $4, input_pathname = $5,
			output_pathname = $6, metadata = $7, updated_at = $8
		WHERE kind = $1 AND id = $2`,
		record.Kind, record.ID, record.TestSetID, record.Pathname,
		record.InputPathname, record.OutputPathname, record.Metadata,
		record.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return treestore.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, kind, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM treesync_resource WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return treestore.ErrNotFound
	}
	return nil
}

func (s *Store) ListByExercise(ctx context.Context, exerciseID string) ([]*treetype.ResourceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM treesync_resource WHERE exercise_id = $1`,
		exerciseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*treetype.ResourceRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// tokenColumns maps a token field to its value and stamp columns. Only these
// four pairs are ever touched by SetVersionToken, keeping the update
// field-scoped rather than a whole-row overwrite.
var tokenColumns = map[treetype.TokenField][2]string{
	treetype.TokenMetadata: {"sha", "sha_synced_at"},
	treetype.TokenFile:     {"file_sha", "file_sha_synced_at"},
	treetype.TokenInput:    {"input_sha", "input_sha_synced_at"},
	treetype.TokenOutput:   {"output_sha", "output_sha_synced_at"},
}

func (s *Store) SetVersionToken(ctx context.Context, kind, id string, field treetype.TokenField, token string, stampedAt time.Time) error {
	columns, ok := tokenColumns[field]
	if !ok {
		return fmt.Errorf("unknown token field %q", field)
	}
	// The stamp guard drops stale writes: a worker completing after a newer
	// one must not roll the token back. A missing row is not an error; sync
	// jobs can outlive their resource.
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE treesync_resource
		SET %s = $3, %s = $4
		WHERE kind = $1 AND id = $2 AND (%s IS NULL OR %s < $4)`,
		columns[0], columns[1], columns[1], columns[1]),
		kind, id, token, stampedAt,
	)
	return err
}

func (s *Store) GetAccessLevel(ctx context.Context, userID, exerciseID string) (treetype.AccessLevel, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT MAX(m.level)
			 FROM treesync_exercise_project ep
			 JOIN treesync_project_member m ON m.project_id = ep.project_id
			 WHERE ep.exercise_id = $1 AND m.user_id = $2),
			(SELECT CASE WHEN p.public THEN 1 ELSE 0 END
			 FROM treesync_exercise_project ep
			 JOIN treesync_project p ON p.id = ep.project_id
			 WHERE ep.exercise_id = $1),
			0)`,
		exerciseID, userID)

	var level int
	if err := row.Scan(&level); err != nil {
		return treetype.AccessNone, err
	}
	if level < int(treetype.AccessNone) || level > int(treetype.AccessAdmin) {
		return treetype.AccessNone, fmt.Errorf("access level %d out of range", level)
	}
	return treetype.AccessLevel(level), nil
}
