package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks non-retryable configuration problems: an unknown
	// module or domain, an unknown backend type, missing driver options.
	ErrConfiguration = errors.New("storage configuration error")

	// ErrBackendUnavailable marks transient faults reaching a backend
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrNotExist is returned when a file does not exist
	ErrNotExist = errors.New("file does not exist")

	// ErrPathTraversal is returned for paths that would escape the handle root
	ErrPathTraversal = errors.New("path escapes storage root")

	// ErrInvalidPath is returned for empty or malformed file paths
	ErrInvalidPath = errors.New("invalid storage path")
)

// ConfigurationError reports what was misconfigured
type ConfigurationError struct {
	Module string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("storage configuration: %s", e.Reason)
	}
	return fmt.Sprintf("storage configuration: module %q: %s", e.Module, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// BackendUnavailableError wraps the fault returned by a backend
type BackendUnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

func configErr(module, format string, args ...any) error {
	return &ConfigurationError{Module: module, Reason: fmt.Sprintf(format, args...)}
}

func unavailable(backend, op string, err error) error {
	return &BackendUnavailableError{Backend: backend, Op: op, Err: err}
}

func notExist(key string) error {
	return fmt.Errorf("%w: %s", ErrNotExist, key)
}
