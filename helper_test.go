package treesync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kettleworks/treesync/remotetree"
	"github.com/kettleworks/treesync/treequeue"
	queuemem "github.com/kettleworks/treesync/treequeue/treememory"
	storemem "github.com/kettleworks/treesync/treestore/treememory"
)

const testRepo = "catalog"

// testKinds mirrors the default registry's shape with millisecond timing so
// tests can drive the whole asynchronous engine and settle quickly.
func testKinds() *Kinds {
	lifo := treequeue.Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, Order: treequeue.OrderLIFO, MaxWorkers: 1}
	fifo := treequeue.Policy{MaxAttempts: 3, BackoffBase: time.Millisecond, Order: treequeue.OrderFIFO, MaxWorkers: 1}

	kinds := NewKinds()
	AddKind(kinds, KindDescriptor{Name: KindExercise, Queue: fifo})
	AddKind(kinds, KindDescriptor{Name: "statement", Folder: "statements", ContentBlobs: []TokenField{TokenFile}, ContentDelay: time.Millisecond, Queue: lifo})
	AddKind(kinds, KindDescriptor{Name: "asset", Folder: "assets", ContentBlobs: []TokenField{TokenFile}, ContentDelay: time.Millisecond, Queue: fifo})
	AddKind(kinds, KindDescriptor{Name: "testset", Folder: "testsets", Queue: fifo})
	AddKind(kinds, KindDescriptor{Name: "test", Folder: "tests", ContentBlobs: []TokenField{TokenInput, TokenOutput}, ContentDelay: time.Millisecond, Queue: fifo})
	return kinds
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRemote emulates the remote tree API: version-token conditioned writes,
// base64 content bodies, recursive folder deletes.
type fakeRemote struct {
	server *httptest.Server

	mu    sync.Mutex
	blobs map[string]fakeBlob
	seq   int
}

type fakeBlob struct {
	content []byte
	sha     string
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	remote := &fakeRemote{blobs: make(map[string]fakeBlob)}
	remote.server = httptest.NewServer(http.HandlerFunc(remote.handle))
	t.Cleanup(remote.server.Close)
	return remote
}

func (f *fakeRemote) nextSha() string {
	f.seq++
	return "sha-" + strconv.Itoa(f.seq)
}

type fakeRequest struct {
	Content string `json:"content"`
	Sha     string `json:"sha"`
}

func (f *fakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/sessions" {
		writeJSON(w, http.StatusCreated, map[string]string{"token": "session-token"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/repos/"+testRepo+"/")
	var body fakeRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(rest, "contents/"):
		f.handleContents(w, r, strings.TrimPrefix(rest, "contents/"), body)
	case strings.HasPrefix(rest, "trees/"):
		f.handleTrees(w, r, strings.TrimPrefix(rest, "trees/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeRemote) handleContents(w http.ResponseWriter, r *http.Request, path string, body fakeRequest) {
	blob, exists := f.blobs[path]
	switch r.Method {
	case http.MethodPost:
		if exists {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "path already exists"})
			return
		}
		content, _ := base64.StdEncoding.DecodeString(body.Content)
		blob = fakeBlob{content: content, sha: f.nextSha()}
		f.blobs[path] = blob
		writeJSON(w, http.StatusCreated, map[string]string{"sha": blob.sha})

	case http.MethodPut:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if body.Sha != blob.sha {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "sha mismatch"})
			return
		}
		content, _ := base64.StdEncoding.DecodeString(body.Content)
		blob = fakeBlob{content: content, sha: f.nextSha()}
		f.blobs[path] = blob
		writeJSON(w, http.StatusOK, map[string]string{"sha": blob.sha})

	case http.MethodDelete:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if body.Sha != blob.sha {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "sha mismatch"})
			return
		}
		delete(f.blobs, path)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"content": base64.StdEncoding.EncodeToString(blob.content),
			"sha":     blob.sha,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeRemote) handleTrees(w http.ResponseWriter, r *http.Request, path string) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deleted := false
	for blobPath := range f.blobs {
		if blobPath == path || strings.HasPrefix(blobPath, path+"/") {
			delete(f.blobs, blobPath)
			deleted = true
		}
	}
	if !deleted {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// get returns the stored blob at path.
func (f *fakeRemote) get(t *testing.T, path string) fakeBlob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[path]
	require.True(t, ok, "remote has no blob at %q", path)
	return blob
}

func (f *fakeRemote) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[path]
	return ok
}

// overwrite simulates an out-of-band edit: new content, new version token.
func (f *fakeRemote) overwrite(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[path] = fakeBlob{content: content, sha: f.nextSha()}
}

// remove simulates an out-of-band delete.
func (f *fakeRemote) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, path)
}

// recordingQueue wraps the in-memory queue to count inserts per queue name.
type recordingQueue struct {
	*queuemem.Queue

	mu      sync.Mutex
	inserts map[string]int
}

func newRecordingQueue(logger *slog.Logger) *recordingQueue {
	return &recordingQueue{Queue: queuemem.New(logger), inserts: make(map[string]int)}
}

func (q *recordingQueue) Insert(ctx context.Context, payload []byte, opts treequeue.InsertOpts) error {
	q.mu.Lock()
	q.inserts[opts.Queue]++
	q.mu.Unlock()
	return q.Queue.Insert(ctx, payload, opts)
}

func (q *recordingQueue) insertCount(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inserts[queue]
}

// testBundle wires the whole engine on in-memory backends and a fake remote.
type testBundle struct {
	kinds   *Kinds
	store   *storemem.Store
	queue   *recordingQueue
	remote  *fakeRemote
	client  *remotetree.Client
	service *Service
	actor   Actor
}

func newTestBundle(t *testing.T) *testBundle {
	t.Helper()

	logger := testLogger()
	kinds := testKinds()
	remote := newFakeRemote(t)
	client := remotetree.New(remote.server.URL, "test-credential", &remotetree.Options{Logger: logger})

	store := storemem.New()
	queue := newRecordingQueue(logger)
	DeclareQueues(queue, kinds)

	service := NewService(store, queue, client, &ServiceConfig{Kinds: kinds, Repo: testRepo, Logger: logger})
	worker := NewSyncWorker(store, client, queue, kinds, testRepo, logger)
	queue.SetHandler(worker.Handle)

	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
	})

	return &testBundle{
		kinds:   kinds,
		store:   store,
		queue:   queue,
		remote:  remote,
		client:  client,
		service: service,
		actor:   Actor{Name: "Ada Lovelace", Email: "ada@example.com"},
	}
}

// settle blocks until every enqueued sync job has run to completion or been
// dropped.
func (b *testBundle) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, b.queue.WaitIdle(ctx))
}

// createExercise creates and settles an exercise root record.
func (b *testBundle) createExercise(t *testing.T, id string) *ResourceRecord {
	t.Helper()
	exercise, err := b.service.CreateOne(context.Background(), b.actor, KindExercise, CreateInput{
		ID:       id,
		Metadata: json.RawMessage(`{"title":"Sorting 101"}`),
	})
	require.NoError(t, err)
	b.settle(t)
	return exercise
}
