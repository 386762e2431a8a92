/*
Treesync keeps a catalog of programming-exercise resources consistent with an
external version-controlled blob store ("the remote tree") without ever
blocking the write path on remote latency.

Each resource is stored twice: as a row in the relational store, which is the
system of record for structured metadata and relationships, and as files
under a per-exercise folder on the remote tree. The relational write is
synchronous and authoritative; the remote mirror is maintained by an
asynchronous per-kind job queue and is guaranteed eventually, not
immediately.

## Resource kinds

An exercise owns children of thirteen kinds (statements, instructions,
skeletons, solutions, tests, test sets, correctors, generators, embeddables,
libraries, templates, validators, assets). All kinds share one record shape
and one write path; a KindDescriptor parameterizes the folder name, whether
the kind carries a separate content file, the content-job delay and the sync
queue policy:

	kinds := treesync.DefaultKinds()
	desc, _ := kinds.ByName("statement")

## Write path

A Service persists synchronously and then enqueues sync jobs fire-and-forget:

	service := treesync.NewService(store, queue, remote, &treesync.ServiceConfig{
	    Kinds: kinds,
	    Repo:  "exercise-content",
	})

	record, err := service.CreateOne(ctx, actor, "statement", treesync.CreateInput{
	    ExerciseID: exercise.ID,
	    Metadata:   []byte(`{"format":"markdown"}`),
	    File:       treesync.UploadBytes("intro.md", content),
	})

CreateOne returns as soon as the relational row is durable. The metadata sync
job runs immediately; the content job is enqueued by the worker once the
metadata write has been acknowledged, after the kind's configured delay.

## Sync queue and worker

Every kind owns one named queue with a static policy (attempts, exponential
backoff base, FIFO or LIFO delivery). A worker executes exactly one remote
tree call per job and stamps the returned version token back onto the record
through a field-scoped partial update:

	treesync.DeclareQueues(queue, kinds)
	worker := treesync.NewSyncWorker(store, remote, queue, kinds, "exercise-content", logger)
	queue.SetHandler(worker.Handle)
	if err := queue.Start(ctx); err != nil {
	    // ...
	}

Worker failures are retried per policy and never surface to the original
caller; retry exhaustion drops the job with only a log line. The relational
store stays authoritative for the user-facing experience even if the mirror
never catches up.

## Queue and store backends

The engine is decoupled from its infrastructure through the treequeue.Queue
and treestore.Store interfaces. treequeue/treeriver (River on Postgres) and
treestore/treepgx are the production backends; treequeue/treememory and
treestore/treememory make the asynchronous engine deterministic under test.

## Archives

An Importer reconstructs a whole exercise tree from a flat path-addressed
container using the grammar <kind-folder>/<id>/<rest>, creating rows and
enqueueing the same sync jobs as a normal create. An Exporter walks the
entity graph, fetches every blob from the remote tree concurrently and
writes a mirrored container, omitting blobs the mirror never received.
*/
package treesync
