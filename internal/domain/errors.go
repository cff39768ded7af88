package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an incident id does not exist in the store.
	ErrNotFound = errors.New("incident not found")

	// ErrInvalidTransition is returned when a status update would move an
	// incident backwards (for example Resolved -> Active).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports a missing or malformed field. Reports that fail
// validation are never queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError reports a failed write to local persistence. The report is
// not considered queued when this is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UploadError reports a failed media upload. It never fails a submission.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("media upload: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// RemoteError reports that the remote incident store was unreachable
// (StatusCode 0) or rejected the request.
type RemoteError struct {
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote store unreachable: %v", e.Err)
	}
	return fmt.Sprintf("remote store status %d: %v", e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
