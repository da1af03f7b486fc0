package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrBackend is matched by every BackendError via errors.Is.
	ErrBackend = errors.New("backend failure")

	// ErrCorruptRecord means a stored record could not be turned back into a
	// valid conversation. Backends surface it instead of returning partial data.
	ErrCorruptRecord = errors.New("corrupt record")
)

// BackendError carries the native diagnostic of a failed storage call.
type BackendError struct {
	Backend string // backend name, e.g. "sqlite"
	Op      string // operation, e.g. "save"
	Key     string // conversation ID or storage key, when known
	Err     error
}

func (e *BackendError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBackend) succeed.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackend
}

func backendErr(backend, op, key string, err error) error {
	return &BackendError{Backend: backend, Op: op, Key: key, Err: err}
}
