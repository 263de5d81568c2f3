// Package errors provides custom error types for the syncbridge system.
// These errors enable programmatic classification of failures into the
// retryable and fatal kinds the coordinator's retry policy consumes.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is reports whether any error in err's chain matches target.
// It's an alias for the standard library errors.Is.
var Is = errors.Is

// As finds the first error in err's chain that matches target.
// It's an alias for the standard library errors.As.
var As = errors.As

// Common sentinel errors for the syncbridge system
var (
	// ErrNotFound indicates that a requested entity or resource was not found
	ErrNotFound = errors.New("not found")

	// ErrLockTimeout indicates a lock could not be acquired within the
	// caller's window; callers should treat this as "try again later"
	ErrLockTimeout = errors.New("lock timeout")

	// ErrLockLost indicates a held lock expired or was taken over before
	// the holder released it
	ErrLockLost = errors.New("lock lost")

	// ErrVersionConflict indicates an optimistic-concurrency write raced
	// with a newer version; retryable after a re-read
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreUnavailable indicates a side store could not be reached;
	// retryable with backoff
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMalformedData indicates structurally invalid input; fatal, never
	// retried
	ErrMalformedData = errors.New("malformed data")

	// ErrEscalationRequired is not a failure: a conflict needs human
	// resolution before the field can be synchronized
	ErrEscalationRequired = errors.New("escalation required")

	// ErrCancelled indicates the caller cancelled the run; fatal for the
	// run but not a system fault
	ErrCancelled = errors.New("cancelled by caller")

	// ErrReadOnly indicates an attempt to modify a read-only resource
	ErrReadOnly = errors.New("read only")
)

// LockError represents a lock acquisition or renewal failure.
type LockError struct {
	Key     string
	Holder  string
	Op      string // "acquire", "renew", "release"
	Waited  time.Duration
	Lost    bool
	Err     error
	Message string
}

// Error implements the error interface
func (e *LockError) Error() string {
	if e.Lost {
		return fmt.Sprintf("lock on %s lost during %s: %s", e.Key, e.Op, e.Message)
	}
	if e.Waited > 0 {
		return fmt.Sprintf("failed to %s lock on %s after %s: %s", e.Op, e.Key, e.Waited, e.Message)
	}
	return fmt.Sprintf("failed to %s lock on %s: %s", e.Op, e.Key, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *LockError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *LockError) Is(target error) bool {
	if e.Lost {
		return target == ErrLockLost
	}
	return target == ErrLockTimeout
}

// NewLockTimeoutError creates a LockError for an exhausted acquire window.
func NewLockTimeoutError(key string, waited time.Duration) *LockError {
	return &LockError{Key: key, Op: "acquire", Waited: waited, Message: "held by another coordinator"}
}

// NewLockLostError creates a LockError for a lock that expired mid-operation.
func NewLockLostError(key, holder, op string) *LockError {
	return &LockError{Key: key, Holder: holder, Op: op, Lost: true, Message: "ttl expired or lock taken over"}
}

// VersionConflictError represents a stale optimistic-concurrency write.
type VersionConflictError struct {
	EntityID string
	Expected int64
	Actual   int64
	Err      error
}

// Error implements the error interface
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, store has %d", e.EntityID, e.Expected, e.Actual)
}

// Unwrap implements errors.Unwrap
func (e *VersionConflictError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *VersionConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// NewVersionConflictError creates a new VersionConflictError
func NewVersionConflictError(entityID string, expected, actual int64) *VersionConflictError {
	return &VersionConflictError{EntityID: entityID, Expected: expected, Actual: actual}
}

// StoreError represents a failure talking to a store. Unavailable marks
// transport and I/O failures the retry policy may back off and retry;
// other store errors (unexpected responses, bad arguments) are fatal.
type StoreError struct {
	Store       string // "registry", "agent_store", "event_store", "lock_store"
	Op          string // "read", "write", "append", "replay"
	EntityID    string
	Message     string
	Unavailable bool
	Err         error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s %s failed for %s: %s", e.Store, e.Op, e.EntityID, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Store, e.Op, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support. Only unavailability matches the
// transient sentinel; Unwrap lets errors.Is consult the wrapped cause for
// everything else.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable && e.Unavailable
}

// NewStoreError creates a StoreError without transient classification.
func NewStoreError(store, op, entityID string, err error) *StoreError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &StoreError{Store: store, Op: op, EntityID: entityID, Message: message, Err: err}
}

// MalformedDataError represents structurally invalid entity data.
type MalformedDataError struct {
	EntityID string
	Path     string
	Message  string
}

// Error implements the error interface
func (e *MalformedDataError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("malformed data at %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("malformed data: %s", e.Message)
}

// Is implements errors.Is support
func (e *MalformedDataError) Is(target error) bool {
	return target == ErrMalformedData
}

// NewMalformedDataError creates a new MalformedDataError
func NewMalformedDataError(entityID, path, message string) *MalformedDataError {
	return &MalformedDataError{EntityID: entityID, Path: path, Message: message}
}

// SyncError represents a failed synchronization run with enough context
// for the audit log: entity, last durable version, and the failing step.
type SyncError struct {
	EntityID    string
	Step        string
	LastVersion int64
	Err         error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync of %s failed at %s (last version %d): %v", e.EntityID, e.Step, e.LastVersion, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a new SyncError
func NewSyncError(entityID, step string, lastVersion int64, err error) *SyncError {
	return &SyncError{EntityID: entityID, Step: step, LastVersion: lastVersion, Err: err}
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsLockTimeout checks if an error is a lock timeout
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsLockLost checks if an error indicates a lost lock
func IsLockLost(err error) bool {
	return errors.Is(err, ErrLockLost)
}

// IsVersionConflict checks if an error is a version conflict
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsStoreUnavailable checks if an error indicates store unavailability
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsMalformedData checks if an error is a malformed data error
func IsMalformedData(err error) bool {
	return errors.Is(err, ErrMalformedData)
}

// IsCancelled checks if an error is a cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRetryable reports whether the coordinator may retry after this error.
// Lock timeouts, version conflicts, and store unavailability are transient;
// everything else is fatal for the run.
func IsRetryable(err error) bool {
	return IsLockTimeout(err) || IsVersionConflict(err) || IsStoreUnavailable(err)
}

// WrapStore wraps a transport or I/O failure talking to a store. The
// result classifies as ErrStoreUnavailable, so the retry policy treats it
// as transient.
func WrapStore(store, op, entityID string, err error) error {
	if err == nil {
		return nil
	}
	e := NewStoreError(store, op, entityID, err)
	e.Unavailable = true
	return e
}
