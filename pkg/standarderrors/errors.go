package standarderrors

import "errors"

var (
	// ErrDenied is returned when the conflict tracker refuses to admit an operation.
	// Denials are final; callers must not retry them automatically.
	ErrDenied = errors.New("operation denied")

	// ErrRequestConstruction is returned when a network collaborator fails to build
	// the request payload for an operation.
	ErrRequestConstruction = errors.New("request construction failed")

	// ErrNetwork wraps transport and business failures reported by the backend.
	ErrNetwork = errors.New("network request failed")

	// ErrCancelled is returned when an operation was cancelled before it completed.
	ErrCancelled = errors.New("operation cancelled")

	// ErrRecordNotFound is returned when an operation targets an unknown record id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned by create when the record id is already committed.
	ErrRecordExists = errors.New("record already exists")

	// ErrRecordBusy is returned by create while another operation is tracked for the id.
	ErrRecordBusy = errors.New("record has pending operations")

	// ErrScopeConflict is returned when a scope cannot be resolved against the
	// committed tree, e.g. an array segment that meets a non-array value.
	ErrScopeConflict = errors.New("scope does not match committed data")

	// ErrFlushDenied is returned by a flush that would discard pending operations
	// without being allowed to cancel them.
	ErrFlushDenied = errors.New("flush denied: operations pending")

	// ErrBuildRunning is returned when a build id is already running in a worker.
	ErrBuildRunning = errors.New("build already running")
)
