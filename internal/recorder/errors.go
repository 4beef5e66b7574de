package recorder

import "errors"

var (
	// ErrNotRunning is returned to callers waiting on a task the engine
	// will never run because it has stopped.
	ErrNotRunning = errors.New("recorder is not running")

	// ErrLockTimeout is returned by LockDatabase when the engine did not
	// take the lock within the configured timeout.
	ErrLockTimeout = errors.New("timed out waiting for database lock")

	// ErrLockInProgress is returned by LockDatabase while another lock
	// request is outstanding.
	ErrLockInProgress = errors.New("database lock already requested")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("recorder already started")
)
