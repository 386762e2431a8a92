package remotetree

import "fmt"

// WriteError is returned when the remote tree rejects a write, for example
// because of a path collision on create.
type WriteError struct {
	// Path is the repository-relative path of the rejected write.
	Path string
	// StatusCode is the HTTP status returned by the remote API.
	StatusCode int
	// Message is the remote API's error message, if any.
	Message string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("remote tree rejected write to %q (status %d): %s", e.Path, e.StatusCode, e.Message)
}

// Is implements the interface used by errors.Is to determine if errors are
// equivalent. It returns true for any other WriteError without regard to the
// path, so this class of error can be detected with:
//
//	errors.Is(err, &WriteError{})
func (e *WriteError) Is(target error) bool {
	_, ok := target.(*WriteError)
	return ok
}

// ConflictError is returned by UpdateFile when the prior version token is
// stale. The caller must not blindly retry with the same token; the current
// token has to be re-read first.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote tree update of %q conflicts with a newer version", e.Path)
}

func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)
	return ok
}

// NotFoundError is returned by ReadFile when the path does not exist on the
// remote tree, typically because the mirror never caught up or the blob was
// deleted out-of-band.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote tree path %q does not exist", e.Path)
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
