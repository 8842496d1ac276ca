package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes rendered to API callers and bot command handlers.
const (
	CodeValidation      = "VALIDATION_FAILED"
	CodeAnswersRequired = "ANSWERS_REQUIRED"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeLimitExceeded   = "LIMIT_EXCEEDED"
	CodeCooldownActive  = "COOLDOWN_ACTIVE"
	CodeConflict        = "CONFLICT"
	CodeNotFound        = "NOT_FOUND"
	CodeNotReady        = "NOT_READY"
	CodeExternalService = "EXTERNAL_SERVICE"
	CodeInternal        = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

// NewAnswersRequired tells the caller to collect question answers before retrying.
func NewAnswersRequired(questions []map[string]any) error {
	return NewDomainError(CodeAnswersRequired, "answers to the category questions are required", http.StatusBadRequest,
		map[string]any{"questions": questions})
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

// NewForbidden is the AuthorizationError of the ticket workflows.
func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewLimitExceeded reports a total or per-member ticket limit; scope is "total" or "member".
func NewLimitExceeded(scope string, limit int) error {
	return NewDomainError(CodeLimitExceeded, fmt.Sprintf("%s ticket limit of %d reached", scope, limit), http.StatusTooManyRequests,
		map[string]any{"scope": scope, "limit": limit})
}

// NewCooldownActive carries the remaining cooldown rounded up to whole seconds.
func NewCooldownActive(remainingSeconds int) error {
	return NewDomainError(CodeCooldownActive, fmt.Sprintf("please wait %d seconds before opening another ticket", remainingSeconds),
		http.StatusTooManyRequests, map[string]any{"remaining_seconds": remainingSeconds})
}

func NewNotReady(message string, details map[string]any) error {
	return NewDomainError(CodeNotReady, message, http.StatusTooEarly, details)
}

func NewExternalServiceError(service string, err error) error {
	return &DomainError{
		Code:       CodeExternalService,
		Message:    fmt.Sprintf("%s request failed", service),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
