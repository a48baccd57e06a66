package vfskit

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/gobeaver/vfskit/archive"
)

// ErrorCode classifies a failure so callers can branch on the kind of error
// instead of its message.
type ErrorCode string

const (
	// ErrCodeNotSupported means the active provider lacks the capability.
	ErrCodeNotSupported ErrorCode = "unsupported-operation"
	// ErrCodeNotFound means the address does not exist where existence is required.
	ErrCodeNotFound ErrorCode = "not-found"
	// ErrCodePermission is a permission failure reported by the backend.
	ErrCodePermission ErrorCode = "access-denied"
	// ErrCodeTransport covers connection, read and write failures.
	ErrCodeTransport ErrorCode = "transport-failure"
	// ErrCodeConfiguration is an unknown protocol or missing provider mapping.
	ErrCodeConfiguration ErrorCode = "configuration-error"
	// ErrCodeFormat is a malformed or unsupported archive container.
	ErrCodeFormat ErrorCode = "format-error"
	// ErrCodeExists means the target already exists.
	ErrCodeExists ErrorCode = "already-exists"
	// ErrCodeDisposed means the handle or context was already released.
	ErrCodeDisposed ErrorCode = "disposed"
	// ErrCodeInvalid is a malformed address or argument.
	ErrCodeInvalid ErrorCode = "invalid-argument"
)

// Common errors. A *PathError matches the sentinel of its Code with errors.Is.
var (
	ErrNotSupported  = errors.New("operation not supported")
	ErrNotExist      = errors.New("file does not exist")
	ErrPermission    = errors.New("permission denied")
	ErrTransport     = errors.New("transport failure")
	ErrConfiguration = errors.New("configuration error")
	ErrFormat        = archive.ErrFormat
	ErrExist         = errors.New("file already exists")
	ErrDisposed      = errors.New("handle disposed")
	ErrInvalid       = errors.New("invalid argument")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
)

// codeSentinels is ordered: an error matching several sentinels gets the
// code listed first.
var codeSentinels = []struct {
	code     ErrorCode
	sentinel error
}{
	{ErrCodeNotSupported, ErrNotSupported},
	{ErrCodeDisposed, ErrDisposed},
	{ErrCodeConfiguration, ErrConfiguration},
	{ErrCodeInvalid, ErrInvalid},
	{ErrCodeFormat, ErrFormat},
	{ErrCodeNotFound, ErrNotExist},
	{ErrCodeExists, ErrExist},
	{ErrCodePermission, ErrPermission},
	{ErrCodeTransport, ErrTransport},
}

func sentinelOf(code ErrorCode) error {
	for _, cs := range codeSentinels {
		if cs.code == code {
			return cs.sentinel
		}
	}
	return nil
}

// PathError records an error together with the operation, the address that
// caused it and its classification.
type PathError struct {
	Op   string
	Path string
	Code ErrorCode
	Err  error
}

// Error implements the error interface
func (e *PathError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *PathError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel error for the code of e.
func (e *PathError) Is(target error) bool {
	sentinel := sentinelOf(e.Code)
	return sentinel != nil && sentinel == target
}

// NewPathError creates a PathError with an explicit code and message.
func NewPathError(op, path string, code ErrorCode, msg string) *PathError {
	return &PathError{Op: op, Path: path, Code: code, Err: errors.New(msg)}
}

// WrapPathErr wraps err into a PathError, inferring the code from err.
// Errors that carry no recognizable classification become transport failures.
func WrapPathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) && pe.Op == op && pe.Path == path {
		return err
	}
	code := CodeOf(err)
	if code == "" {
		code = ErrCodeTransport
	}
	return &PathError{Op: op, Path: path, Code: code, Err: err}
}

// Unsupported returns the error used when a provider lacks a capability.
func Unsupported(op, path string) error {
	return &PathError{Op: op, Path: path, Code: ErrCodeNotSupported, Err: ErrNotSupported}
}

// CodeOf returns the classification of err, or "" for nil and unclassified errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PathError
	if errors.As(err, &pe) && pe.Code != "" {
		return pe.Code
	}
	for _, cs := range codeSentinels {
		if errors.Is(err, cs.sentinel) {
			return cs.code
		}
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrCodePermission
	case errors.Is(err, fs.ErrExist):
		return ErrCodeExists
	case errors.Is(err, fs.ErrInvalid):
		return ErrCodeInvalid
	}
	return ""
}

// IsNotExist reports whether an error indicates that a file or directory
// does not exist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsExist reports whether an error indicates that a file or directory
// already exists
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsPermission reports whether an error indicates that permission is denied
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsNotSupported reports whether an error indicates a missing capability.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
