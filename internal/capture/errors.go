package capture

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// ErrorClass splits storage failures into the two retry behaviors.
type ErrorClass string

const (
	// ClassTransient marks contention expected to clear on retry,
	// e.g. a held resource lock.
	ClassTransient ErrorClass = "transient"
	// ClassFatal marks failures retrying cannot fix: missing
	// connectivity, validation rejects, bad credentials.
	ClassFatal ErrorClass = "fatal"
)

// ErrContention is the sentinel storage backends wrap when a write
// lost to a held lock or a precondition on the same key.
var ErrContention = errors.New("storage resource is locked")

// ClassifyStorageError maps a storage failure onto its retry class.
func ClassifyStorageError(err error) ErrorClass {
	if errors.Is(err, ErrContention) {
		return ClassTransient
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 409, 412, 423, 429, 500, 503:
			return ClassTransient
		}
	}
	return ClassFatal
}

// UploadError aggregates a failed upload across its attempts.
type UploadError struct {
	Class    ErrorClass
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed after %d attempt(s) (%s): %v", e.Attempts, e.Class, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed record insert after the artifact
// already landed in storage. The orphaned key is carried so operators
// can reconcile; the pipeline does not attempt compensation.
type PersistenceError struct {
	StorageKey string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.StorageKey == "" {
		return fmt.Sprintf("saving expense record: %v", e.Err)
	}
	return fmt.Sprintf("saving expense record (artifact %q orphaned in storage): %v", e.StorageKey, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ManualValidationError rejects a manual fiscal key with the wrong
// digit count. Raised locally, before any backend contact.
type ManualValidationError struct {
	Digits int
}

func (e *ManualValidationError) Error() string {
	return fmt.Sprintf("fiscal key must have exactly 44 digits, got %d", e.Digits)
}
