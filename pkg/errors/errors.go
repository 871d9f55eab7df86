package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the class of a failure surfaced to callers
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeForbidden   ErrorType = "forbidden"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeCapacity    ErrorType = "capacity"
	ErrorTypeInternal    ErrorType = "internal"
)

var (
	// ErrNotFound is returned when an application or document does not exist.
	ErrNotFound = stderrors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed from the current status.
	ErrInvalidTransition = stderrors.New("invalid status transition")
	// ErrForbidden is returned when a privileged action is attempted without the reviewer credential.
	ErrForbidden = stderrors.New("forbidden")
)

// ValidationInputError reports a request rejected before any remote call was made.
type ValidationInputError struct {
	Fields []FieldError
}

// FieldError is a single rejected input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationInputError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Add records a field failure.
func (e *ValidationInputError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field failed, so callers can `return v.OrNil()`.
func (e *ValidationInputError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// PersistenceError wraps a repository failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err unless it is nil or already a PersistenceError.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if stderrors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// Classify returns the ErrorType for err. Capacity errors are detected by the
// caller-provided sentinel so this package stays free of pool imports.
func Classify(err error, capacity error) ErrorType {
	var (
		ve *ValidationInputError
		pe *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &ve):
		return ErrorTypeValidation
	case stderrors.Is(err, ErrNotFound):
		return ErrorTypeNotFound
	case stderrors.Is(err, ErrInvalidTransition):
		return ErrorTypeConflict
	case stderrors.Is(err, ErrForbidden):
		return ErrorTypeForbidden
	case capacity != nil && stderrors.Is(err, capacity):
		return ErrorTypeCapacity
	case stderrors.As(err, &pe):
		return ErrorTypePersistence
	default:
		return ErrorTypeInternal
	}
}

// HTTPStatus maps an ErrorType to a response code
func HTTPStatus(t ErrorType) int {
	switch t {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
