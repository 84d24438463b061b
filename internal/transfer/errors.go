package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound is matched with errors.Is when the store has no object under the key.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAccessDenied is matched with errors.Is when the store rejects the credentials or policy.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidKey marks keys that cannot be mapped below a base directory.
	ErrInvalidKey = errors.New("invalid object key")
)

// DirectoryError represents a failure to create a destination directory. It is
// the one failure that aborts a whole batch instead of being recorded per item,
// since it almost always points at a misconfigured destination.
type DirectoryError struct {
	Path   string // Directory that could not be created
	Reason string // Human-readable explanation of the failure
	Err    error  // Underlying error, if any
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory error for '%s': %s", e.Path, e.Reason)
}

func (e *DirectoryError) Unwrap() error {
	return e.Err
}

// StorageError represents a failed call to the object store: missing objects,
// denied access and transport failures.
type StorageError struct {
	Operation string // The operation that failed (e.g., "get_object", "put_object")
	Bucket    string
	Key       string
	Err       error // Underlying error, matched against ErrObjectNotFound / ErrAccessDenied
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s %s/%s: %v", e.Operation, e.Bucket, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// LocalFileError represents a local read or write failure during a single transfer.
type LocalFileError struct {
	Operation string // "open", "create", "write", "stat"
	Path      string
	Err       error
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("local file error during %s of '%s': %v", e.Operation, e.Path, e.Err)
}

func (e *LocalFileError) Unwrap() error {
	return e.Err
}

// InvalidKeyError is returned when an object key cannot be safely placed below
// a base directory (absolute keys, parent traversal, empty keys).
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid object key '%s': %s", e.Key, e.Reason)
}

func (e *InvalidKeyError) Unwrap() error {
	return ErrInvalidKey
}

// ConfigError represents an engine misconfiguration detected at construction time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// IsFatal reports whether err aborts a whole operation rather than a single item.
func IsFatal(err error) bool {
	var dirErr *DirectoryError

	var cfgErr *ConfigError

	return errors.As(err, &dirErr) || errors.As(err, &cfgErr)
}
