package treesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kettleworks/treesync/treequeue"
	"github.com/kettleworks/treesync/treetype"
)

func TestDefaultKinds(t *testing.T) {
	t.Parallel()
	kinds := DefaultKinds()

	// The exercise root plus the thirteen child kinds.
	require.Len(t, kinds.All(), 14)

	exercise, err := kinds.ByName(KindExercise)
	require.NoError(t, err)
	require.Empty(t, exercise.Folder)
	require.False(t, exercise.HasContentFile())

	statement, err := kinds.ByName("statement")
	require.NoError(t, err)
	require.Equal(t, "statements", statement.Folder)
	require.Equal(t, []treetype.TokenField{treetype.TokenFile}, statement.ContentBlobs)
	require.Equal(t, time.Second, statement.ContentDelay)
	require.Equal(t, treequeue.OrderLIFO, statement.Queue.Order)
	require.Equal(t, 500*time.Millisecond, statement.Queue.BackoffBase)
	require.Equal(t, "sync_statement", statement.QueueName())

	test, err := kinds.ByName("test")
	require.NoError(t, err)
	require.Equal(t, []treetype.TokenField{treetype.TokenInput, treetype.TokenOutput}, test.ContentBlobs)
	require.Equal(t, 2*time.Second, test.ContentDelay)
	require.Equal(t, treequeue.OrderFIFO, test.Queue.Order)

	testset, err := kinds.ByName("testset")
	require.NoError(t, err)
	require.False(t, testset.HasContentFile())

	byFolder, ok := kinds.ByFolder("libraries")
	require.True(t, ok)
	require.Equal(t, "library", byFolder.Name)

	_, err = kinds.ByName("diagram")
	require.ErrorIs(t, err, &UnknownResourceKindError{})
	_, ok = kinds.ByFolder("diagrams")
	require.False(t, ok)
}

func TestAddKindSafely(t *testing.T) {
	t.Parallel()
	kinds := NewKinds()

	require.NoError(t, AddKindSafely(kinds, KindDescriptor{Name: "statement", Folder: "statements"}))

	require.Error(t, AddKindSafely(kinds, KindDescriptor{Name: "statement", Folder: "other"}))
	require.Error(t, AddKindSafely(kinds, KindDescriptor{Name: "other", Folder: "statements"}))
	require.Error(t, AddKindSafely(kinds, KindDescriptor{Folder: "nameless"}))
	require.Error(t, AddKindSafely(kinds, KindDescriptor{Name: "folderless"}))

	require.Panics(t, func() {
		AddKind(kinds, KindDescriptor{Name: "statement", Folder: "statements"})
	})
}

func TestRemotePaths(t *testing.T) {
	t.Parallel()
	kinds := DefaultKinds()

	exercise := &treetype.ResourceRecord{ID: "ex1", Kind: KindExercise}
	require.Equal(t, "exercises/ex1", kinds.FolderPath(exercise))
	require.Equal(t, "exercises/ex1/metadata.json", kinds.MetadataPath(exercise))

	statement := &treetype.ResourceRecord{ID: "s1", Kind: "statement", ExerciseID: "ex1", Pathname: "intro.md"}
	require.Equal(t, "exercises/ex1/statements/s1", kinds.FolderPath(statement))
	require.Equal(t, "exercises/ex1/statements/s1/metadata.json", kinds.MetadataPath(statement))
	require.Equal(t, "exercises/ex1/statements/s1/intro.md", kinds.ContentPath(statement, treetype.TokenFile))

	// A test owned by the exercise directly.
	direct := &treetype.ResourceRecord{ID: "t1", Kind: "test", ExerciseID: "ex1", InputPathname: "input.txt"}
	require.Equal(t, "exercises/ex1/tests/t1", kinds.FolderPath(direct))
	require.Equal(t, "exercises/ex1/tests/t1/input.txt", kinds.ContentPath(direct, treetype.TokenInput))

	// A test owned by a test set nests under the test set's folder.
	nested := &treetype.ResourceRecord{ID: "t2", Kind: "test", ExerciseID: "ex1", TestSetID: "ts1", OutputPathname: "expected.txt"}
	require.Equal(t, "exercises/ex1/testsets/ts1/tests/t2", kinds.FolderPath(nested))
	require.Equal(t, "exercises/ex1/testsets/ts1/tests/t2/expected.txt", kinds.ContentPath(nested, treetype.TokenOutput))
}
