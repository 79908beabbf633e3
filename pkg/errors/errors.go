// Package errors provides the structured error type FTPFS uses to carry an
// error code, category, and cause through the translation layer and out to
// the VFS surface as a POSIX errno.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"syscall"
	"time"
)

// ErrorCode identifies one of the error kinds spec.md §7 names.
type ErrorCode string

const (
	// ErrCodeNoSuchFile — path not present in a directory listing.
	ErrCodeNoSuchFile ErrorCode = "NO_SUCH_FILE"
	// ErrCodeAccess — open/probe failed, or O_EXCL target already exists.
	ErrCodeAccess ErrorCode = "ACCESS"
	// ErrCodePermission — any command-executor failure (generalized).
	ErrCodePermission ErrorCode = "PERMISSION"
	// ErrCodeNotSupported — O_APPEND, O_RDWR without the compatibility shim.
	ErrCodeNotSupported ErrorCode = "NOT_SUPPORTED"
	// ErrCodeIO — read failed after restart, write failed, non-sequential
	// write, flush size mismatch, unclassified client errors.
	ErrCodeIO ErrorCode = "IO_ERROR"
	// ErrCodeOutOfMemory — buffer allocation failed during write.
	ErrCodeOutOfMemory ErrorCode = "OUT_OF_MEMORY"

	// ErrCodeInvalidConfig and ErrCodeInternal are ambient additions outside
	// the VFS-facing taxonomy. No package in this module returns them;
	// configuration loading and validation report plain errors.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeInternal      ErrorCode = "INTERNAL"
)

// ErrorCategory groups codes for logging and metrics labels.
type ErrorCategory string

const (
	CategoryFilesystem   ErrorCategory = "filesystem"
	CategoryConnection   ErrorCategory = "connection"
	CategoryResource     ErrorCategory = "resource"
	CategoryConfig       ErrorCategory = "configuration"
	CategoryInternal     ErrorCategory = "internal"
)

// FTPFSError is the structured error returned by the translation layer.
type FTPFSError struct {
	Code      ErrorCode
	Category  ErrorCategory
	Message   string
	Component string
	Operation string
	Context   map[string]string
	Cause     error
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface.
func (e *FTPFSError) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap supports errors.Is/As against the underlying cause.
func (e *FTPFSError) Unwrap() error {
	return e.Cause
}

// Is compares by error code so sentinel comparisons via errors.Is work.
func (e *FTPFSError) Is(target error) bool {
	if other, ok := target.(*FTPFSError); ok {
		return e.Code == other.Code
	}
	return false
}

// String renders a detailed, loggable representation.
func (e *FTPFSError) String() string {
	parts := []string{fmt.Sprintf("code=%s", e.Code), fmt.Sprintf("category=%s", e.Category)}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if len(e.Context) > 0 {
		data, _ := json.Marshal(e.Context)
		parts = append(parts, fmt.Sprintf("context=%s", data))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("FTPFSError{%s}", strings.Join(parts, ", "))
}

// Errno maps the error code onto the POSIX errno spec.md §7 specifies for
// the VFS surface to return. Unknown codes map to EIO, never to success.
func (e *FTPFSError) Errno() syscall.Errno {
	return CodeToErrno(e.Code)
}

// CodeToErrno is the taxonomy-to-errno table from spec.md §7. It never
// narrows the set: every non-nil FTPFSError maps to a non-zero errno.
func CodeToErrno(code ErrorCode) syscall.Errno {
	switch code {
	case ErrCodeNoSuchFile:
		return syscall.ENOENT
	case ErrCodeAccess:
		return syscall.EACCES
	case ErrCodePermission:
		return syscall.EPERM
	case ErrCodeNotSupported:
		return syscall.ENOTSUP
	case ErrCodeOutOfMemory:
		return syscall.ENOMEM
	case ErrCodeIO:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// New creates an FTPFSError with the category derived from the code.
func New(code ErrorCode, message string) *FTPFSError {
	return &FTPFSError{
		Code:      code,
		Category:  categoryFor(code),
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap creates an FTPFSError with the given code and message, attaching
// cause so errors.Unwrap/errors.Is still reach the original error.
func Wrap(code ErrorCode, message string, cause error) *FTPFSError {
	return New(code, message).WithCause(cause)
}

// FromFTPError classifies an error returned by the jlaffaye/ftp client into
// the spec.md §7 taxonomy, using the textproto status code when one is
// present and falling back to ErrCodeIO otherwise. Replies to the raw
// commands internal/ftpconn sends for SendSiteCommand are not classified
// here: that code maps them to ErrCodePermission directly.
func FromFTPError(err error) *FTPFSError {
	if err == nil {
		return nil
	}
	var tpe *textproto.Error
	if errors.As(err, &tpe) {
		switch {
		case tpe.Code == 550:
			return Wrap(ErrCodeNoSuchFile, "path not found", err)
		case tpe.Code == 530 || tpe.Code == 532:
			return Wrap(ErrCodeAccess, "authentication failed", err)
		case tpe.Code >= 500 && tpe.Code < 600:
			return Wrap(ErrCodePermission, "command rejected", err)
		}
	}
	return Wrap(ErrCodeIO, "FTP client error", err)
}

func categoryFor(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNoSuchFile, ErrCodeAccess, ErrCodePermission, ErrCodeNotSupported:
		return CategoryFilesystem
	case ErrCodeOutOfMemory:
		return CategoryResource
	case ErrCodeInvalidConfig:
		return CategoryConfig
	case ErrCodeIO:
		return CategoryConnection
	default:
		return CategoryInternal
	}
}

// WithComponent sets the component that raised the error, for logging.
func (e *FTPFSError) WithComponent(component string) *FTPFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation name that raised the error.
func (e *FTPFSError) WithOperation(operation string) *FTPFSError {
	e.Operation = operation
	return e
}

// WithCause attaches the underlying error.
func (e *FTPFSError) WithCause(cause error) *FTPFSError {
	e.Cause = cause
	return e
}

// WithContext attaches a key/value pair of diagnostic context.
func (e *FTPFSError) WithContext(key, value string) *FTPFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// Retry marks the error as retryable (used by pkg/retry's default classifier).
func (e *FTPFSError) Retry() *FTPFSError {
	e.Retryable = true
	return e
}

// ErrnoFrom converts any error to a POSIX errno: an *FTPFSError maps via its
// code, everything else maps to EIO.
func ErrnoFrom(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var fe *FTPFSError
	if asFTPFSError(err, &fe) {
		return fe.Errno()
	}
	return syscall.EIO
}

func asFTPFSError(err error, target **FTPFSError) bool {
	for err != nil {
		if fe, ok := err.(*FTPFSError); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
