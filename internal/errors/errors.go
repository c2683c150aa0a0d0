package errors

import (
	stderrors "errors"
	"fmt"
)

// GenericUserMessage is shown to users whenever a request fails. Details go
// to the log, never to the caller.
const GenericUserMessage = "An error occurred while processing your request. Please try again."

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches AppErrors by code so callers can compare against the
// predefined values below after wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrProviderNotConfigured = &AppError{Code: "LLM_001", Message: "no LLM provider configured"}
	ErrProviderUnavailable   = &AppError{Code: "LLM_002", Message: "LLM provider unavailable"}
	ErrRateLimited           = &AppError{Code: "LLM_003", Message: "rate limit exceeded"}
	ErrNoFunctionCall        = &AppError{Code: "LLM_004", Message: "model did not call the requested function"}
	ErrProviderRejected      = &AppError{Code: "LLM_005", Message: "request rejected by LLM provider"}

	ErrInvalidArguments = &AppError{Code: "PARSE_001", Message: "invalid function arguments"}
	ErrMissingField     = &AppError{Code: "PARSE_002", Message: "required field missing"}
	ErrInvalidDateTime  = &AppError{Code: "PARSE_003", Message: "invalid date or time"}
	ErrInvalidAction    = &AppError{Code: "PARSE_004", Message: "unknown edit action"}

	ErrCalendarUnavailable = &AppError{Code: "CAL_001", Message: "calendar service unavailable"}
	ErrEventCreate         = &AppError{Code: "CAL_002", Message: "failed to create event"}
	ErrEventUpdate         = &AppError{Code: "CAL_003", Message: "failed to update event"}
	ErrEventNotFound       = &AppError{Code: "CAL_004", Message: "no matching events found"}
	ErrFreeBusy            = &AppError{Code: "CAL_005", Message: "free/busy query failed"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}
	ErrForbidden    = &AppError{Code: "AUTH_002", Message: "forbidden"}
	ErrTokenMissing = &AppError{Code: "AUTH_003", Message: "calendar token missing, run 'chronosage auth'"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the code of the outermost AppError in err's chain.
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapAs wraps err under a predefined error's code and message.
func WrapAs(base *AppError, err error) *AppError {
	return Wrap(err, base.Code, base.Message)
}

// UserMessage returns the text safe to show an end user. Event lookups that
// found nothing are reported as such; everything else is generic.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch GetCode(err) {
	case ErrEventNotFound.Code:
		return "No matching events found."
	case ErrTokenMissing.Code:
		return "Calendar access has not been authorised yet."
	}
	return GenericUserMessage
}
