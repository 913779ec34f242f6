package kvk

import (
	"errors"
	"fmt"
)

// ErrUploadNotFound is returned when an upload id does not match a manifest.
var ErrUploadNotFound = errors.New("upload not found")

// ValidationError reports missing or malformed ingestion input. No storage
// work has been done when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PersistenceError reports a failed write during ingestion. Batches
// committed before the failure stay committed.
type PersistenceError struct {
	Op    string
	Batch int // -1 when the failure is not tied to a batch
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("%s (batch %d): %v", e.Op, e.Batch+1, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DeleteError reports a failed upload deletion.
type DeleteError struct {
	UploadID string
	Err      error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete upload %s: %v", e.UploadID, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }
