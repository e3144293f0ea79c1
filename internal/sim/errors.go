package sim

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes control-layer errors.
type ErrorCode string

const (
	// ErrCodeEngine indicates the engine reported an error through its error callback.
	ErrCodeEngine ErrorCode = "ENGINE_ERROR"

	// ErrCodeNotFound indicates a named or indexed peripheral does not exist.
	ErrCodeNotFound ErrorCode = "PERIPHERAL_NOT_FOUND"

	// ErrCodeDuplicateRegistration indicates a callback slot is already taken.
	ErrCodeDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION"

	// ErrCodeRejected indicates the engine refused a callback registration or injection.
	ErrCodeRejected ErrorCode = "CALLBACK_REJECTED"

	// ErrCodeClosed indicates the handle was used after the engine was deinitialized.
	ErrCodeClosed ErrorCode = "HANDLE_CLOSED"
)

// Error is the typed failure returned by the simulation control layer.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description. For engine errors it is the
	// message string reported by the engine, verbatim.
	Message string

	// Kind and Name identify the peripheral involved, if any.
	Kind  Kind
	Name  string
	Index int
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeEngine:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case ErrCodeNotFound:
		if e.Name != "" {
			return fmt.Sprintf("%s with name '%s' could not be found", e.Kind, e.Name)
		}
		return fmt.Sprintf("%s with index %d could not be found", e.Kind, e.Index)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewEngineError wraps a message reported by the engine.
func NewEngineError(msg string) *Error {
	return &Error{Code: ErrCodeEngine, Message: msg}
}

// NewNotFoundError reports a failed lookup by name.
func NewNotFoundError(kind Kind, name string) *Error {
	return &Error{Code: ErrCodeNotFound, Kind: kind, Name: name, Index: -1}
}

// NewIndexNotFoundError reports a failed lookup by index.
func NewIndexNotFoundError(kind Kind, index int) *Error {
	return &Error{Code: ErrCodeNotFound, Kind: kind, Index: index}
}

// NewDuplicateRegistrationError reports a second registration on a taken slot.
func NewDuplicateRegistrationError(kind Kind, name string, index int) *Error {
	return &Error{
		Code:    ErrCodeDuplicateRegistration,
		Message: fmt.Sprintf("an edge callback is already registered for %s %q (index %d)", kind, name, index),
		Kind:    kind,
		Name:    name,
		Index:   index,
	}
}

// NewRejectedError reports an entry point that returned false.
func NewRejectedError(kind Kind, index int, op string) *Error {
	return &Error{
		Code:    ErrCodeRejected,
		Message: fmt.Sprintf("engine rejected %s on %s %d", op, kind, index),
		Kind:    kind,
		Index:   index,
	}
}

var errClosed = &Error{Code: ErrCodeClosed, Message: "engine handle is closed"}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsEngineError returns true if err carries an engine-reported error.
// Uses errors.As to handle wrapped and joined errors.
func IsEngineError(err error) bool { return hasCode(err, ErrCodeEngine) }

// IsNotFound returns true if err is a peripheral lookup failure.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsDuplicateRegistration returns true if err is a duplicate callback registration.
func IsDuplicateRegistration(err error) bool { return hasCode(err, ErrCodeDuplicateRegistration) }

// IsRejected returns true if the engine refused an operation.
func IsRejected(err error) bool { return hasCode(err, ErrCodeRejected) }

// IsClosed returns true if the handle had already been closed.
func IsClosed(err error) bool { return hasCode(err, ErrCodeClosed) }
