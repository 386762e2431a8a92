package treesync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kettleworks/treesync/treestore"
)

func TestCreateOneSyncsMetadataThenContent(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)
	ctx := context.Background()

	bundle.createExercise(t, "ex1")

	statement, err := bundle.service.CreateOne(ctx, bundle.actor, "statement", CreateInput{
		ExerciseID: "ex1",
		Metadata:   json.RawMessage(`{"language":"en"}`),
		File:       UploadBytes("report.pdf", []byte("%PDF-1.4")),
	})
	require.NoError(t, err)
	require.NotEmpty(t, statement.ID)
	require.Equal(t, "report.pdf", statement.Pathname)
	require.Equal(t, bundle.actor.Email, statement.OwnerEmail)

	// The caller gets the record back before the mirror caught up.
	require.Empty(t, statement.Sha)
	require.Empty(t, statement.FileSha)

	bundle.settle(t)

	// One metadata job plus one content job, both on the kind's queue (the
	// exercise create accounts for the one job on its own queue).
	require.Equal(t, 2, bundle.queue.insertCount("sync_statement"))

	synced, err := bundle.store.Get(ctx, "statement", statement.ID)
	require.NoError(t, err)
	require.NotEmpty(t, synced.Sha)
	require.NotEmpty(t, synced.FileSha)
	require.NotEqual(t, synced.Sha, synced.FileSha)

	folder := "exercises/ex1/statements/" + statement.ID
	metadata := bundle.remote.get(t, folder+"/metadata.json")
	require.JSONEq(t, `{"language":"en"}`, string(metadata.content))
	require.Equal(t, synced.Sha, metadata.sha)

	content := bundle.remote.get(t, folder+"/report.pdf")
	require.Equal(t, []byte("%PDF-1.4"), content.content)
	require.Equal(t, synced.FileSha, content.sha)
}

func TestCreateOneUnknownKind(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)

	_, err := bundle.service.CreateOne(context.Background(), bundle.actor, "diagram", CreateInput{})
	require.ErrorIs(t, err, &UnknownResourceKindError{})
}

func TestCreateOneTestUnderTestSet(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)
	ctx := context.Background()

	bundle.createExercise(t, "ex1")

	testset, err := bundle.service.CreateOne(ctx, bundle.actor, "testset", CreateInput{
		ID:         "ts1",
		ExerciseID: "ex1",
		Metadata:   json.RawMessage(`{"name":"edge cases"}`),
	})
	require.NoError(t, err)

	created, err := bundle.service.CreateOne(ctx, bundle.actor, "test", CreateInput{
		ExerciseID: "ex1",
		TestSetID:  testset.ID,
		Metadata:   json.RawMessage(`{"name":"empty input"}`),
		Input:      UploadBytes("input.txt", []byte("")),
		Output:     UploadBytes("expected.txt", []byte("0\n")),
	})
	require.NoError(t, err)
	bundle.settle(t)

	synced, err := bundle.store.Get(ctx, "test", created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, synced.Sha)
	require.NotEmpty(t, synced.InputSha)
	require.NotEmpty(t, synced.OutputSha)
	require.NotEqual(t, synced.InputSha, synced.OutputSha)

	folder := "exercises/ex1/testsets/ts1/tests/" + created.ID
	require.True(t, bundle.remote.has(folder+"/metadata.json"))
	require.True(t, bundle.remote.has(folder+"/input.txt"))
	require.Equal(t, []byte("0\n"), bundle.remote.get(t, folder+"/expected.txt").content)
}

func TestUpdateOneMetadataOnly(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)
	ctx := context.Background()

	bundle.createExercise(t, "ex1")
	created, err := bundle.service.CreateOne(ctx, bundle.actor, "asset", CreateInput{
		ExerciseID: "ex1",
		Metadata:   json.RawMessage(`{"alt":"before"}`),
		File:       UploadBytes("logo.png", []byte("png-bytes")),
	})
	require.NoError(t, err)
	bundle.settle(t)

	before, err := bundle.store.Get(ctx, "asset", created.ID)
	require.NoError(t, err)

	updated, err := bundle.service.UpdateOne(ctx, bundle.actor, "asset", created.ID, UpdateInput{
		ExerciseID: "elsewhere", // ignored: a resource never moves
		Metadata:   json.RawMessage(`{"alt":"after"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "ex1", updated.ExerciseID)
	bundle.settle(t)

	after, err := bundle.store.Get(ctx, "asset", created.ID)
	require.NoError(t, err)
	require.NotEqual(t, before.Sha, after.Sha)
	// No content upload, so the file token is untouched.
	require.Equal(t, before.FileSha, after.FileSha)

	metadata := bundle.remote.get(t, "exercises/ex1/assets/"+created.ID+"/metadata.json")
	require.JSONEq(t, `{"alt":"after"}`, string(metadata.content))
}

func TestUpdateOneConflictLeavesRemoteUntouched(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)
	ctx := context.Background()

	bundle.createExercise(t, "ex1")
	created, err := bundle.service.CreateOne(ctx, bundle.actor, "asset", CreateInput{
		ExerciseID: "ex1",
		Metadata:   json.RawMessage(`{"alt":"logo"}`),
		File:       UploadBytes("logo.png", []byte("original")),
	})
	require.NoError(t, err)
	bundle.settle(t)

	synced, err := bundle.store.Get(ctx, "asset", created.ID)
	require.NoError(t, err)
	contentPath := "exercises/ex1/assets/" + created.ID + "/logo.png"

	// An out-of-band edit bumps the remote version token; the catalog's
	// stored token is now stale.
	bundle.remote.overwrite(contentPath, []byte("edited elsewhere"))

	// The conditional content write conflicts on every attempt and the job
	// exhausts its retries. That is invisible to the caller.
	_, err = bundle.service.UpdateOne(ctx, bundle.actor, "asset", created.ID, UpdateInput{
		File: UploadBytes("logo.png", []byte("catalog version")),
	})
	require.NoError(t, err)
	bundle.settle(t)

	// The conflicting write never overwrote the newer remote state.
	require.Equal(t, []byte("edited elsewhere"), bundle.remote.get(t, contentPath).content)

	after, err := bundle.store.Get(ctx, "asset", created.ID)
	require.NoError(t, err)
	require.Equal(t, synced.FileSha, after.FileSha)
	// The metadata write carried a fresh token and went through.
	require.NotEqual(t, synced.Sha, after.Sha)
}

func TestDeleteOneRemovesRowAndRemoteFolder(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)
	ctx := context.Background()

	bundle.createExercise(t, "ex1")
	created, err := bundle.service.CreateOne(ctx, bundle.actor, "statement", CreateInput{
		ExerciseID: "ex1",
		Metadata:   json.RawMessage(`{}`),
		File:       UploadBytes("intro.md", []byte("# Intro")),
	})
	require.NoError(t, err)
	bundle.settle(t)

	folder := "exercises/ex1/statements/" + created.ID
	require.True(t, bundle.remote.has(folder+"/metadata.json"))

	deleted, err := bundle.service.DeleteOne(ctx, bundle.actor, "statement", created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, deleted.ID)
	bundle.settle(t)

	_, err = bundle.store.Get(ctx, "statement", created.ID)
	require.ErrorIs(t, err, treestore.ErrNotFound)
	require.False(t, bundle.remote.has(folder+"/metadata.json"))
	require.False(t, bundle.remote.has(folder+"/intro.md"))

	// Deleting again fails on the load, wrapped as a persistence error.
	_, err = bundle.service.DeleteOne(ctx, bundle.actor, "statement", created.ID)
	require.ErrorIs(t, err, &PersistenceError{})
	require.ErrorIs(t, err, treestore.ErrNotFound)
}

func TestReadContents(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)
	ctx := context.Background()

	bundle.createExercise(t, "ex1")
	created, err := bundle.service.CreateOne(ctx, bundle.actor, "statement", CreateInput{
		ExerciseID: "ex1",
		Metadata:   json.RawMessage(`{}`),
		File:       UploadBytes("intro.md", []byte("# Intro")),
	})
	require.NoError(t, err)
	bundle.settle(t)

	content, err := bundle.service.ReadContents(ctx, "statement", created.ID, TokenFile)
	require.NoError(t, err)
	require.Equal(t, []byte("# Intro"), content)

	// Drift: the blob disappears out-of-band while the row still points at
	// it.
	bundle.remote.remove("exercises/ex1/statements/" + created.ID + "/intro.md")

	_, err = bundle.service.ReadContents(ctx, "statement", created.ID, TokenFile)
	var internal *InternalError
	require.True(t, errors.As(err, &internal))
	require.Equal(t, "failed to read intro.md", internal.Error())
}

func TestCreateOneBrokenUploadWritesNothing(t *testing.T) {
	t.Parallel()
	bundle := newTestBundle(t)
	ctx := context.Background()

	bundle.createExercise(t, "ex1")
	_, err := bundle.service.CreateOne(ctx, bundle.actor, "statement", CreateInput{
		ID:         "s1",
		ExerciseID: "ex1",
		Metadata:   json.RawMessage(`{}`),
		File:       &Upload{Name: "intro.md", Bytes: func() ([]byte, error) { return nil, errors.New("disk gone") }},
	})
	require.Error(t, err)

	// The upload is read before the relational write, so a broken upload
	// leaves no row behind.
	_, err = bundle.store.Get(ctx, "statement", "s1")
	require.ErrorIs(t, err, treestore.ErrNotFound)
}
