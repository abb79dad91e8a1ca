// Package faults defines the error taxonomy shared by the dataset and
// document managers and the HTTP layer. Each category maps to a distinct
// propagation policy: validation, not-found and unauthorized errors abort
// before any side effects, remote sync errors abort before local writes,
// and consistency warnings report a best-effort remote call that failed
// after local state already committed.
package faults

import (
	"errors"
	"fmt"
)

// ValidationError indicates malformed input, rejected before any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidation creates a ValidationError for the given field.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError indicates the resource id is unknown locally.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Resource, e.ID)
}

// NewNotFound creates a NotFoundError for the given resource.
func NewNotFound(resource string, id int64) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ErrUnauthorized is the generic denial. It deliberately carries no detail:
// an unauthorized caller must not be able to distinguish a forbidden
// resource from a deleted one.
var ErrUnauthorized = errors.New("access denied")

// RemoteSyncError indicates a call to the external content repository
// failed. During create/update this aborts the operation before any local
// write; during delete it is downgraded to a ConsistencyWarning.
type RemoteSyncError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteSyncError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote sync failed: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("remote sync failed: %s: %v", e.Op, e.Err)
}

func (e *RemoteSyncError) Unwrap() error { return e.Err }

// NewRemoteSync creates a RemoteSyncError for a transport-level failure.
func NewRemoteSync(op string, err error) *RemoteSyncError {
	return &RemoteSyncError{Op: op, Err: err}
}

// NewRemoteStatus creates a RemoteSyncError for a non-2xx response.
func NewRemoteStatus(op string, status int) *RemoteSyncError {
	return &RemoteSyncError{Op: op, StatusCode: status}
}

// ConsistencyWarning records a best-effort remote call that failed after
// the corresponding local mutation already committed. It is never surfaced
// as a user-facing failure; the operation the user requested succeeded.
type ConsistencyWarning struct {
	Resource string
	LocalID  int64
	RemoteID string
	Err      error
}

func (w *ConsistencyWarning) Error() string {
	return fmt.Sprintf("consistency warning: %s %d (remote %s) deleted locally but remote call failed: %v",
		w.Resource, w.LocalID, w.RemoteID, w.Err)
}

func (w *ConsistencyWarning) Unwrap() error { return w.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsUnauthorized reports whether err is the generic denial.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsRemoteSync reports whether err is a RemoteSyncError.
func IsRemoteSync(err error) bool {
	var rs *RemoteSyncError
	return errors.As(err, &rs)
}
