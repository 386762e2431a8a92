package treesync

import (
	"fmt"
	"path"
	"time"

	"github.com/kettleworks/treesync/treequeue"
	"github.com/kettleworks/treesync/treetype"
)

// KindExercise is the kind name of the exercise root record. It is not a
// child kind: it owns no folder of its own and carries only metadata.json.
const KindExercise = "exercise"

// KindDescriptor parameterizes the sync engine for one resource kind. One
// generic engine driven by descriptors replaces a sync processor and service
// per kind.
type KindDescriptor struct {
	// Name uniquely identifies the kind ("statement", "test", ...).
	Name string
	// Folder is the kind's folder name on the remote tree and in archives
	// ("statements", "tests", ...). Empty only for the exercise root.
	Folder string
	// ContentBlobs lists the kind's separate content files beyond
	// metadata.json. Most kinds carry one (TokenFile); tests carry two
	// (TokenInput, TokenOutput); test sets and the exercise root carry none.
	ContentBlobs []treetype.TokenField
	// ContentDelay is how long after the metadata write's acknowledgement
	// the content job becomes eligible. Longer for multi-blob kinds to avoid
	// collisions.
	ContentDelay time.Duration
	// Queue is the static policy of the kind's sync queue. High-churn kinds
	// use LIFO with a short backoff so only the newest state eventually
	// wins; append-mostly kinds use FIFO with a longer backoff.
	Queue treequeue.Policy
}

// HasContentFile reports whether the kind carries at least one content file
// separate from its metadata.
func (d KindDescriptor) HasContentFile() bool {
	return len(d.ContentBlobs) > 0
}

// QueueName returns the name of the kind's sync queue.
func (d KindDescriptor) QueueName() string {
	return "sync_" + d.Name
}

// Kinds is a registry of resource kind descriptors. A descriptor must be
// registered for each kind of resource to be handled.
//
// Use the top-level AddKind function combined with a Kinds bundle to
// register a descriptor, or start from DefaultKinds.
type Kinds struct {
	kindMap   map[string]KindDescriptor // kind name -> descriptor
	folderMap map[string]KindDescriptor // folder name -> descriptor
}

// NewKinds initializes an empty registry of resource kinds.
func NewKinds() *Kinds {
	return &Kinds{
		kindMap:   make(map[string]KindDescriptor),
		folderMap: make(map[string]KindDescriptor),
	}
}

// AddKind registers a descriptor on the provided Kinds bundle. It panics if
// the kind is already registered or the descriptor is invalid; use
// AddKindSafely to get an error instead.
func AddKind(kinds *Kinds, desc KindDescriptor) {
	if err := AddKindSafely(kinds, desc); err != nil {
		panic(err)
	}
}

// AddKindSafely registers a descriptor on the provided Kinds bundle. Unlike
// AddKind it does not panic and instead returns an error if the kind is
// already registered or the descriptor is invalid.
func AddKindSafely(kinds *Kinds, desc KindDescriptor) error {
	return kinds.add(desc)
}

func (k *Kinds) add(desc KindDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("kind descriptor has no name")
	}
	if desc.Name != KindExercise && desc.Folder == "" {
		return fmt.Errorf("kind %q has no folder name", desc.Name)
	}
	if _, ok := k.kindMap[desc.Name]; ok {
		return fmt.Errorf("kind %q is already registered", desc.Name)
	}
	if desc.Folder != "" {
		if _, ok := k.folderMap[desc.Folder]; ok {
			return fmt.Errorf("folder %q is already registered", desc.Folder)
		}
	}
	k.kindMap[desc.Name] = desc
	if desc.Folder != "" {
		k.folderMap[desc.Folder] = desc
	}
	return nil
}

// ByName looks up a descriptor by kind name.
func (k *Kinds) ByName(name string) (KindDescriptor, error) {
	desc, ok := k.kindMap[name]
	if !ok {
		return KindDescriptor{}, &UnknownResourceKindError{Kind: name}
	}
	return desc, nil
}

// ByFolder looks up a descriptor by its archive/remote folder name.
func (k *Kinds) ByFolder(folder string) (KindDescriptor, bool) {
	desc, ok := k.folderMap[folder]
	return desc, ok
}

// All returns every registered descriptor, exercise root included.
func (k *Kinds) All() []KindDescriptor {
	descs := make([]KindDescriptor, 0, len(k.kindMap))
	for _, desc := range k.kindMap {
		descs = append(descs, desc)
	}
	return descs
}

// DefaultKinds returns a registry of the thirteen child kinds plus the
// exercise root, with each kind's production queue policy.
func DefaultKinds() *Kinds {
	lifo := func(backoff time.Duration) treequeue.Policy {
		return treequeue.Policy{MaxAttempts: 5, BackoffBase: backoff, Order: treequeue.OrderLIFO, MaxWorkers: 1}
	}
	fifo := func(backoff time.Duration) treequeue.Policy {
		return treequeue.Policy{MaxAttempts: 8, BackoffBase: backoff, Order: treequeue.OrderFIFO, MaxWorkers: 1}
	}

	file := []treetype.TokenField{treetype.TokenFile}

	kinds := NewKinds()
	for _, desc := range []KindDescriptor{
		{Name: KindExercise, Queue: fifo(2 * time.Second)},
		{Name: "statement", Folder: "statements", ContentBlobs: file, ContentDelay: time.Second, Queue: lifo(500 * time.Millisecond)},
		{Name: "instruction", Folder: "instructions", ContentBlobs: file, ContentDelay: time.Second, Queue: lifo(500 * time.Millisecond)},
		{Name: "skeleton", Folder: "skeletons", ContentBlobs: file, ContentDelay: time.Second, Queue: lifo(500 * time.Millisecond)},
		{Name: "solution", Folder: "solutions", ContentBlobs: file, ContentDelay: time.Second, Queue: fifo(2 * time.Second)},
		{Name: "test", Folder: "tests", ContentBlobs: []treetype.TokenField{treetype.TokenInput, treetype.TokenOutput}, ContentDelay: 2 * time.Second, Queue: fifo(2 * time.Second)},
		{Name: "testset", Folder: "testsets", Queue: fifo(2 * time.Second)},
		{Name: "corrector", Folder: "correctors", ContentBlobs: file, ContentDelay: time.Second, Queue: fifo(2 * time.Second)},
		{Name: "generator", Folder: "generators", ContentBlobs: file, ContentDelay: time.Second, Queue: fifo(2 * time.Second)},
		{Name: "embeddable", Folder: "embeddables", ContentBlobs: file, ContentDelay: time.Second, Queue: fifo(2 * time.Second)},
		{Name: "library", Folder: "libraries", ContentBlobs: file, ContentDelay: time.Second, Queue: fifo(4 * time.Second)},
		{Name: "template", Folder: "templates", ContentBlobs: file, ContentDelay: time.Second, Queue: lifo(500 * time.Millisecond)},
		{Name: "validator", Folder: "validators", ContentBlobs: file, ContentDelay: time.Second, Queue: fifo(2 * time.Second)},
		{Name: "asset", Folder: "assets", ContentBlobs: file, ContentDelay: time.Second, Queue: fifo(4 * time.Second)},
	} {
		AddKind(kinds, desc)
	}
	return kinds
}

// DeclareQueues declares one sync queue per registered kind on the given
// queue backend. It must run before the queue is started.
func DeclareQueues(queue treequeue.Queue, kinds *Kinds) {
	for _, desc := range kinds.All() {
		queue.Declare(desc.QueueName(), desc.Queue)
	}
}

// FolderPath returns the record's own folder on the remote tree. Deleting a
// resource deletes this folder recursively.
func (k *Kinds) FolderPath(record *treetype.ResourceRecord) string {
	if record.Kind == KindExercise {
		return path.Join("exercises", record.ID)
	}
	desc, err := k.ByName(record.Kind)
	if err != nil {
		// Unknown kinds can only reach here through a hand-built record;
		// fall back to the kind name as folder.
		return path.Join("exercises", record.ExerciseID, record.Kind, record.ID)
	}
	if record.Kind == "test" && record.TestSetID != "" {
		return path.Join("exercises", record.ExerciseID, "testsets", record.TestSetID, "tests", record.ID)
	}
	return path.Join("exercises", record.ExerciseID, desc.Folder, record.ID)
}

// MetadataPath returns the remote path of the record's metadata.json.
func (k *Kinds) MetadataPath(record *treetype.ResourceRecord) string {
	return path.Join(k.FolderPath(record), "metadata.json")
}

// ContentPath returns the remote path of one of the record's content blobs.
func (k *Kinds) ContentPath(record *treetype.ResourceRecord, field treetype.TokenField) string {
	return path.Join(k.FolderPath(record), record.BlobPathname(field))
}
