package utils

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every failure the engine can return. The presentation
// layer (excluded from this service) maps codes to transport status; the
// engine itself never swallows or downgrades a failure.
type ErrorCode string

const (
	ErrorCodeValidation    ErrorCode = "VALIDATION"
	ErrorCodeStateConflict ErrorCode = "STATE_CONFLICT"
	ErrorCodeAuthorization ErrorCode = "AUTHORIZATION"
	ErrorCodeConsistency   ErrorCode = "CONSISTENCY"
	ErrorCodeGateway       ErrorCode = "GATEWAY"
	ErrorCodeNotFound      ErrorCode = "NOT_FOUND"
)

type EngineError struct {
	Code    ErrorCode
	Message string
	// Details carries structured payloads (e.g. committed vs failed sector
	// ids on a gateway failure) for the caller to act on.
	Details any
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// ErrorRecordNotFound is the shared sentinel for missing rows; it satisfies
// errors.Is against itself and carries the NOT_FOUND code.
var ErrorRecordNotFound = &EngineError{Code: ErrorCodeNotFound, Message: "record not found"}

func NewValidationError(format string, args ...any) error {
	return &EngineError{Code: ErrorCodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewStateConflictError(format string, args ...any) error {
	return &EngineError{Code: ErrorCodeStateConflict, Message: fmt.Sprintf(format, args...)}
}

func NewAuthorizationError(format string, args ...any) error {
	return &EngineError{Code: ErrorCodeAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NewConsistencyError(format string, args ...any) error {
	return &EngineError{Code: ErrorCodeConsistency, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) error {
	return &EngineError{Code: ErrorCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewGatewayError(details any, cause error, format string, args ...any) error {
	return &EngineError{Code: ErrorCodeGateway, Message: fmt.Sprintf(format, args...), Details: details, Err: cause}
}

// AsEngineError unwraps err to the engine taxonomy.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

func HasErrorCode(err error, code ErrorCode) bool {
	ee, ok := AsEngineError(err)
	return ok && ee.Code == code
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
