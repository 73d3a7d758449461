package apperr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrConflict           = errors.New("write conflict")
)

// Error carries the failing operation and one of the sentinel kinds above.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := ""
	switch {
	case e.Err != nil:
		msg = e.Err.Error()
	case e.Kind != nil:
		msg = e.Kind.Error()
	default:
		msg = "error"
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return e != nil && e.Kind != nil && target == e.Kind
}

func New(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func NotFound(op, format string, args ...any) error {
	return New(op, ErrNotFound, fmt.Errorf(format, args...))
}

func Validation(op, format string, args ...any) error {
	return New(op, ErrValidation, fmt.Errorf(format, args...))
}

func Conflict(op, format string, args ...any) error {
	return New(op, ErrConflict, fmt.Errorf(format, args...))
}

func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(op, ErrBackendUnavailable, err)
}

// FromDB classifies a storage error. Errors that already carry a kind pass
// through untouched.
func FromDB(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return New(op, ErrNotFound, err)
	}
	return Backend(op, err)
}

// Code is the short machine-readable name of err's kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "internal"
	}
}
