// Package apperror defines the error kinds shared by every layer.
//
// HOW ERRORS FLOW:
// Repositories and services return *AppError values (usually wrapped with
// fmt.Errorf("...: %w", err)). The HTTP layer never inspects messages; it
// calls errors.Is against the sentinels below and picks a status code.
//
//	sqlite  → apperror.Conflict(...)        → 409
//	service → apperror.AlreadyLinked(...)   → 409
//	service → apperror.TokenExpired(...)    → 401 "reconnect account"
//	client  → apperror.ExternalAPI(502,...) → 502
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthorized   = errors.New("unauthorized")
	ErrAlreadyLinked  = errors.New("account already linked")
	ErrExternalAPI    = errors.New("external api error")
	ErrTokenExpired   = errors.New("token expired")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrPersistence    = errors.New("persistence error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error

	// Status and Detail are only set for ErrExternalAPI: the upstream
	// HTTP status and response body.
	Status int
	Detail string

	cause error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and, when present, the underlying cause,
// so errors.Is(err, ErrPersistence) and errors.Is(err, sql.ErrConnDone)
// both hold for a wrapped storage failure.
func (e *AppError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized is returned for bad credentials and invalid sessions.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// AlreadyLinked reports that a marketplace identity belongs to another user.
// The message does not reveal who owns it.
func AlreadyLinked(marketplaceUserID string) *AppError {
	return &AppError{
		Err:     ErrAlreadyLinked,
		Message: fmt.Sprintf("marketplace account %s is already linked to another user", marketplaceUserID),
	}
}

// ExternalAPI wraps a non-success response from the marketplace.
// status is the upstream HTTP status (0 for transport failures) and body
// is the raw upstream payload, kept for logs and diagnostics.
func ExternalAPI(status int, body string) *AppError {
	msg := "marketplace request failed"
	if status > 0 {
		msg = fmt.Sprintf("marketplace request failed with status %d", status)
	}
	return &AppError{
		Err:     ErrExternalAPI,
		Message: msg,
		Status:  status,
		Detail:  body,
	}
}

// TokenExpired signals that the stored access token was rejected and the
// user has to reconnect the account.
func TokenExpired(accountID string) *AppError {
	return &AppError{
		Err:     ErrTokenExpired,
		Message: fmt.Sprintf("access token for account %s expired, reconnect account", accountID),
	}
}

func NoRefreshToken(accountID string) *AppError {
	return &AppError{
		Err:     ErrNoRefreshToken,
		Message: fmt.Sprintf("account %s has no refresh token, reconnect account", accountID),
	}
}

// Persistence wraps a storage failure. The cause stays reachable through
// errors.Is/As but never reaches the client.
func Persistence(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrPersistence,
		Message: fmt.Sprintf("could not %s", op),
		cause:   cause,
	}
}
