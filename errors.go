package treesync

import "fmt"

// UnknownResourceKindError is returned when an operation names a resource
// kind that has not been registered on the Kinds bundle (using AddKind).
type UnknownResourceKindError struct {
	// Kind is the unrecognized kind name.
	Kind string
}

// Error returns the error string.
func (e *UnknownResourceKindError) Error() string {
	return "resource kind is not registered in the Kinds bundle: " + e.Kind
}

// Is implements the interface used by errors.Is to determine if errors are
// equivalent. It returns true for any other UnknownResourceKindError without
// regard to the Kind string so it is possible to detect this type of error
// with:
//
//	errors.Is(err, &UnknownResourceKindError{})
func (e *UnknownResourceKindError) Is(target error) bool {
	_, ok := target.(*UnknownResourceKindError)
	return ok
}

// PersistenceError wraps a relational store failure on the synchronous write
// path. Unlike remote tree failures, it always surfaces to the caller and is
// never retried automatically.
type PersistenceError struct {
	// Op is the operation that failed ("create", "update", "delete", "load").
	Op string
	// Err is the underlying store error.
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	_, ok := target.(*PersistenceError)
	return ok
}

// MissingMetadataError is returned by the archive importer when a required
// metadata.json entry is absent: fatal to the whole import at the archive
// root, fatal to one sub-import inside a resource group.
type MissingMetadataError struct {
	// Scope is the archive path prefix the metadata.json was expected under,
	// empty for the archive root.
	Scope string
}

func (e *MissingMetadataError) Error() string {
	if e.Scope == "" {
		return "archive has no metadata.json at its root"
	}
	return fmt.Sprintf("archive group %q has no metadata.json", e.Scope)
}

func (e *MissingMetadataError) Is(target error) bool {
	_, ok := target.(*MissingMetadataError)
	return ok
}

// MissingReferencedFileError is returned by the archive importer when a
// resource's metadata references a content file that is not present among
// the resource's archive entries.
type MissingReferencedFileError struct {
	// Scope is the archive path prefix of the resource group.
	Scope string
	// Pathname is the referenced but absent content file.
	Pathname string
}

func (e *MissingReferencedFileError) Error() string {
	return fmt.Sprintf("archive group %q references missing content file %q", e.Scope, e.Pathname)
}

func (e *MissingReferencedFileError) Is(target error) bool {
	_, ok := target.(*MissingReferencedFileError)
	return ok
}

// InternalError is returned by read-through-remote operations when the
// mirror has drifted from the relational store, for example after retry
// exhaustion or an out-of-band delete.
type InternalError struct {
	// Pathname is the content file that could not be read.
	Pathname string
	// Err is the underlying remote tree error.
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("failed to read %s", e.Pathname)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Is(target error) bool {
	_, ok := target.(*InternalError)
	return ok
}
