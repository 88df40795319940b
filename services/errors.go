package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeUnauthenticated ErrorType = "unauthenticated"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeUnprocessable   ErrorType = "unprocessable"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeUnavailable     ErrorType = "unavailable"
	ErrorTypeExternal        ErrorType = "external"
	ErrorTypeInvariant       ErrorType = "invariant"
	ErrorTypeInternal        ErrorType = "internal"
)

// DomainError represents a structured error with additional context.
// Type is the category used for transport mapping; Code names the specific failure.
type DomainError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. A target without a Code matches any error of its Type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithDetail returns a copy of the error carrying an extra detail.
// Sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	cp := e.clone()
	cp.Details[key] = value
	return cp
}

// Wrap returns a copy of the error with err attached as its cause.
func (e *DomainError) Wrap(err error) *DomainError {
	cp := e.clone()
	cp.Err = err
	return cp
}

// WithMessage returns a copy of the error with a more specific message.
func (e *DomainError) WithMessage(format string, args ...interface{}) *DomainError {
	cp := e.clone()
	cp.Message = fmt.Sprintf(format, args...)
	return cp
}

func (e *DomainError) clone() *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, code, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Authentication
	ErrUnauthenticated    = NewDomainError(ErrorTypeUnauthenticated, "unauthenticated", "authentication required", nil)
	ErrInvalidCredentials = NewDomainError(ErrorTypeUnauthenticated, "invalid_credentials", "invalid username or credentials", nil)
	ErrInvalidToken       = NewDomainError(ErrorTypeUnauthenticated, "invalid_token", "invalid or expired access token", nil)

	// Authorization
	ErrForbidden = NewDomainError(ErrorTypeForbidden, "forbidden", "operation not permitted for this principal", nil)

	// Credential store
	ErrUserNotFound        = NewDomainError(ErrorTypeNotFound, "user_not_found", "user does not exist", nil)
	ErrDuplicateUser       = NewDomainError(ErrorTypeConflict, "duplicate_user", "user already exists", nil)
	ErrDuplicateUserRecord = NewDomainError(ErrorTypeInvariant, "duplicate_user_record", "more than one record stored for user", nil)
	ErrWeakPassword        = NewDomainError(ErrorTypeValidation, "weak_password", "password must be at least 8 characters and contain an uppercase letter, a lowercase letter and a digit", nil)
	ErrInvalidAPIKey       = NewDomainError(ErrorTypeValidation, "invalid_api_key", "api key is too long", nil)
	ErrInvalidRole         = NewDomainError(ErrorTypeValidation, "invalid_role", "role must be one of admin, data_scientist, user", nil)

	// Model registry
	ErrModelNotFound          = NewDomainError(ErrorTypeNotFound, "model_not_found", "model not found", nil)
	ErrModelNotLoaded         = NewDomainError(ErrorTypeNotFound, "model_not_loaded", "that model is not loaded; load it before predicting", nil)
	ErrModelLoadFailed        = NewDomainError(ErrorTypeExternal, "model_load_failed", "model could not be resolved as a version or an alias", nil)
	ErrInvalidFlavor          = NewDomainError(ErrorTypeValidation, "invalid_flavor", "flavor must be one of pyfunc, sklearn, transformers, hfhub", nil)
	ErrLoadQueueFull          = NewDomainError(ErrorTypeUnavailable, "load_queue_full", "too many pending model loads, retry later", nil)
	ErrInvalidPredictFunction = NewDomainError(ErrorTypeValidation, "invalid_predict_function", "predict_function must be predict or predict_proba", nil)

	// Inference
	ErrMalformedInput  = NewDomainError(ErrorTypeValidation, "malformed_input", "data malformed", nil)
	ErrInferenceFailed = NewDomainError(ErrorTypeUnprocessable, "inference_failed", "model raised an error during inference", nil)

	// Data and variable stores
	ErrFileNotFound     = NewDomainError(ErrorTypeNotFound, "file_not_found", "file does not exist", nil)
	ErrFileExists       = NewDomainError(ErrorTypeConflict, "file_exists", "file already exists; set overwrite to replace it", nil)
	ErrInvalidPath      = NewDomainError(ErrorTypeValidation, "invalid_path", "path escapes the data directory", nil)
	ErrVariableNotFound = NewDomainError(ErrorTypeNotFound, "variable_not_found", "variable does not exist", nil)
	ErrVariableExists   = NewDomainError(ErrorTypeConflict, "variable_exists", "variable already exists; set overwrite to replace it", nil)

	// Transport
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid_input", "invalid input", nil)
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate_limit_exceeded", "rate limit exceeded", nil)

	// Internal
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal_error", "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database_error", "database error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthenticatedError checks if an error is an authentication failure
func IsUnauthenticatedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthenticated
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInvariantError checks if an error signals corrupted state
func IsInvariantError(err error) bool {
	return GetErrorType(err) == ErrorTypeInvariant
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the Code of a domain error, or empty string if not a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorMessage returns the human readable message of a domain error without its cause.
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		if len(domainErr.Details) == 0 {
			return nil
		}
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, ErrInternal.Code, message, err)
}

// WrapDatabase wraps a storage failure as an internal database error
func WrapDatabase(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, ErrDatabaseError.Code, message, err)
}
