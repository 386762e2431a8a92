package treetype

import (
	"encoding/json"
	"time"
)

// ResourceRecord is the relational row shared by every resource kind. The
// relational store is the system of record for its structured fields; the
// version token fields mirror the last acknowledged write on the remote tree
// and may lag the rest of the row while a sync job is in flight or has
// failed. A record with a non-nil token but unsynced field values is in a
// valid "dirty but durable" state.
type ResourceRecord struct {
	// ID is the opaque unique identifier of the resource.
	ID string `json:"id"`

	// Kind names the resource kind ("statement", "test", ...) or "exercise"
	// for the root record.
	Kind string `json:"kind"`

	// ExerciseID is the owning exercise. Empty only for exercise records.
	ExerciseID string `json:"exercise_id,omitempty"`

	// TestSetID is set when a test is owned by a test set rather than
	// directly by its exercise.
	TestSetID string `json:"testset_id,omitempty"`

	// Pathname is the file name of the content blob under the resource's own
	// remote folder. Assigned from the uploaded file's original name.
	Pathname string `json:"pathname,omitempty"`

	// InputPathname and OutputPathname name a test's two content blobs.
	InputPathname  string `json:"input_pathname,omitempty"`
	OutputPathname string `json:"output_pathname,omitempty"`

	// Metadata holds the kind-specific fields (command line, natural
	// language, format, ...) as a JSON object. It is written verbatim to the
	// resource's metadata.json on the remote tree.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// OwnerName and OwnerEmail identify the owning user. Remote writes are
	// attributed to a synthetic author derived from them.
	OwnerName  string `json:"owner_name,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`

	// Version tokens, one per remote blob. Stamped back exclusively by sync
	// worker success callbacks through a field-scoped partial update.
	Sha       string `json:"sha,omitempty"`
	FileSha   string `json:"file_sha,omitempty"`
	InputSha  string `json:"input_sha,omitempty"`
	OutputSha string `json:"output_sha,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenField identifies which version token of a record a remote write
// acknowledged. Each maps to its own relational column so concurrent workers
// stamping different blobs of the same record never clobber each other.
type TokenField string

const (
	TokenMetadata TokenField = "sha"
	TokenFile     TokenField = "file_sha"
	TokenInput    TokenField = "input_sha"
	TokenOutput   TokenField = "output_sha"
)

// Token returns the record's version token for the given field.
func (r *ResourceRecord) Token(field TokenField) string {
	switch field {
	case TokenMetadata:
		return r.Sha
	case TokenFile:
		return r.FileSha
	case TokenInput:
		return r.InputSha
	case TokenOutput:
		return r.OutputSha
	}
	return ""
}

// SetToken sets the record's version token for the given field.
func (r *ResourceRecord) SetToken(field TokenField, token string) {
	switch field {
	case TokenMetadata:
		r.Sha = token
	case TokenFile:
		r.FileSha = token
	case TokenInput:
		r.InputSha = token
	case TokenOutput:
		r.OutputSha = token
	}
}

// BlobPathname returns the file name of the content blob tracked by the
// given token field.
func (r *ResourceRecord) BlobPathname(field TokenField) string {
	switch field {
	case TokenFile:
		return r.Pathname
	case TokenInput:
		return r.InputPathname
	case TokenOutput:
		return r.OutputPathname
	}
	return ""
}

// Actor is the user on whose behalf an operation runs. Remote tree writes
// are attributed to the actor for audit parity with the source system.
type Actor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Operation is the remote-tree replication step a sync job performs.
type Operation string

const (
	OpCreateMetadata Operation = "create_metadata"
	OpCreateFile     Operation = "create_file"
	OpUpdateMetadata Operation = "update_metadata"
	OpUpdateFile     Operation = "update_file"
	OpDelete         Operation = "delete"
)

// AccessLevel is the coarse read-access level computed by the relational
// store's permission join.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessViewer
	AccessContributor
	AccessManager
	AccessAdmin
)

func (l AccessLevel) String() string {
	switch l {
	case AccessNone:
		return "none"
	case AccessViewer:
		return "viewer"
	case AccessContributor:
		return "contributor"
	case AccessManager:
		return "manager"
	case AccessAdmin:
		return "admin"
	}
	return "unknown"
}
