package treesync

import (
	"encoding/json"
	"time"

	"github.com/kettleworks/treesync/treetype"
)

// syncJob is the payload of one queued replication step. Jobs are immutable
// once enqueued: a redelivery carries the identical payload, including the
// entity snapshot taken at enqueue time.
type syncJob struct {
	// Op is the remote tree operation to perform.
	Op treetype.Operation `json:"op"`

	// Actor is the user the remote write is attributed to.
	Actor treetype.Actor `json:"actor"`

	// Record is the entity snapshot at enqueue time. The worker never
	// re-reads the row; the snapshot is the job's single source of truth.
	Record treetype.ResourceRecord `json:"record"`

	// Blob identifies which content blob a file operation targets.
	Blob treetype.TokenField `json:"blob,omitempty"`

	// Content carries the raw bytes for file operations.
	Content []byte `json:"content,omitempty"`

	// Pending lists content blobs whose file jobs the worker enqueues once
	// this metadata job has been acknowledged. This is the dependency edge
	// that orders metadata before content within one create or update.
	Pending []pendingBlob `json:"pending,omitempty"`

	// EnqueuedAt stamps the job for the version token ledger: a token from
	// an older job never overwrites one stamped by a newer job.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// pendingBlob is one content blob riding along on a metadata job.
type pendingBlob struct {
	Blob    treetype.TokenField `json:"blob"`
	Content []byte              `json:"content"`
}

func (j *syncJob) encode() ([]byte, error) {
	return json.Marshal(j)
}

func decodeSyncJob(payload []byte) (*syncJob, error) {
	var job syncJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// contentOp returns the file operation that follows this job's metadata
// operation on the dependency edge.
func (j *syncJob) contentOp() treetype.Operation {
	if j.Op == treetype.OpUpdateMetadata {
		return treetype.OpUpdateFile
	}
	return treetype.OpCreateFile
}
