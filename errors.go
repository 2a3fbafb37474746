package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind is the closed set of failures the core reports.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindTokenExpired       ErrorKind = "TokenExpired"
	KindTokenInvalid       ErrorKind = "TokenInvalid"
	KindTokenMalformed     ErrorKind = "TokenMalformed"
	KindTokenKindMismatch  ErrorKind = "TokenKindMismatch"
	KindActorNotFound      ErrorKind = "ActorNotFound"
	KindActorDeleted       ErrorKind = "ActorDeleted"
	KindForbidden          ErrorKind = "Forbidden"
	KindNotFound           ErrorKind = "NotFound"
	KindConflict           ErrorKind = "Conflict"
	KindValidation         ErrorKind = "ValidationError"
	KindUnavailable        ErrorKind = "Unavailable"
	KindInternal           ErrorKind = "Internal"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenKindMismatch  = "TOKEN_KIND_MISMATCH"
	TextCodeActorNotFound      = "ACTOR_NOT_FOUND"
	TextCodeActorDeleted       = "ACTOR_DELETED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeAccountSuspended   = "ACCOUNT_SUSPENDED"
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeConflict           = "CONFLICT"
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeUnavailable        = "UNAVAILABLE"
	TextCodeInternal           = "INTERNAL"
)

var (
	ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenExpired).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenInvalid = goerrors.New("token invalid", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenInvalid).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenMalformed = goerrors.New("token malformed", goerrors.CategoryAuth).
				WithTextCode(TextCodeTokenMalformed).
				WithCode(goerrors.CodeUnauthorized)

	ErrTokenKindMismatch = goerrors.New("unexpected token type", goerrors.CategoryAuth).
				WithTextCode(TextCodeTokenKindMismatch).
				WithCode(goerrors.CodeUnauthorized)

	ErrActorNotFound = goerrors.New("actor not found", goerrors.CategoryAuth).
				WithTextCode(TextCodeActorNotFound).
				WithCode(goerrors.CodeUnauthorized)

	ErrActorDeleted = goerrors.New("actor deleted", goerrors.CategoryAuth).
			WithTextCode(TextCodeActorDeleted).
			WithCode(goerrors.CodeUnauthorized)

	ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuthz).
			WithTextCode(TextCodeForbidden).
			WithCode(goerrors.CodeForbidden)

	ErrAccountSuspended = goerrors.New("account suspended", goerrors.CategoryAuthz).
				WithTextCode(TextCodeAccountSuspended).
				WithCode(goerrors.CodeForbidden)

	ErrNotFound = goerrors.New("resource not found", goerrors.CategoryNotFound).
			WithTextCode(TextCodeNotFound).
			WithCode(goerrors.CodeNotFound)

	ErrConflict = goerrors.New("resource already exists", goerrors.CategoryConflict).
			WithTextCode(TextCodeConflict).
			WithCode(goerrors.CodeConflict)

	ErrValidation = goerrors.New("validation failed", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)

	ErrUnavailable = goerrors.New("store unavailable", goerrors.CategoryOperation).
			WithTextCode(TextCodeUnavailable).
			WithCode(http.StatusServiceUnavailable)

	ErrInternal = goerrors.New("internal error", goerrors.CategoryInternal).
			WithTextCode(TextCodeInternal).
			WithCode(goerrors.CodeInternal)
)

var kindsByTextCode = map[string]ErrorKind{
	TextCodeInvalidCredentials: KindInvalidCredentials,
	TextCodeTokenExpired:       KindTokenExpired,
	TextCodeTokenInvalid:       KindTokenInvalid,
	TextCodeTokenMalformed:     KindTokenMalformed,
	TextCodeTokenKindMismatch:  KindTokenKindMismatch,
	TextCodeActorNotFound:      KindActorNotFound,
	TextCodeActorDeleted:       KindActorDeleted,
	TextCodeForbidden:          KindForbidden,
	TextCodeAccountSuspended:   KindForbidden,
	TextCodeNotFound:           KindNotFound,
	TextCodeConflict:           KindConflict,
	TextCodeValidation:         KindValidation,
	textCodeInvalidTransition:  KindValidation,
	TextCodeUnavailable:        KindUnavailable,
	TextCodeInternal:           KindInternal,
}

// KindOf reports the kind carried by err. Errors that did not originate
// in this package are classified as Unavailable when caused by context
// cancellation and as Internal otherwise.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if kind, ok := kindsByTextCode[richErr.TextCode]; ok {
			return kind
		}
	}

	if isContextError(err) {
		return KindUnavailable
	}

	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return IsKind(err, KindTokenExpired)
}

// IsMalformedError will check for undecodable tokens
func IsMalformedError(err error) bool {
	return IsKind(err, KindTokenMalformed)
}

// ErrorClass groups kinds by how a transport should answer them.
type ErrorClass string

const (
	ClassUnauthenticated ErrorClass = "unauthenticated"
	ClassUnauthorized    ErrorClass = "unauthorized"
	ClassMissing         ErrorClass = "missing"
	ClassAlreadyExists   ErrorClass = "already_exists"
	ClassInvalid         ErrorClass = "invalid"
	ClassUnavailable     ErrorClass = "unavailable"
	ClassInternal        ErrorClass = "internal"
)

// ClassOf maps err to its transport class.
func ClassOf(err error) ErrorClass {
	switch KindOf(err) {
	case KindInvalidCredentials, KindTokenExpired, KindTokenInvalid,
		KindTokenMalformed, KindTokenKindMismatch, KindActorNotFound, KindActorDeleted:
		return ClassUnauthenticated
	case KindForbidden:
		return ClassUnauthorized
	case KindNotFound:
		return ClassMissing
	case KindConflict:
		return ClassAlreadyExists
	case KindValidation:
		return ClassInvalid
	case KindUnavailable:
		return ClassUnavailable
	case "":
		return ""
	default:
		return ClassInternal
	}
}

// HTTPStatus is the status code a transport should answer with.
func (c ErrorClass) HTTPStatus() int {
	switch c {
	case ClassUnauthenticated:
		return http.StatusUnauthorized
	case ClassUnauthorized:
		return http.StatusForbidden
	case ClassMissing:
		return http.StatusNotFound
	case ClassAlreadyExists:
		return http.StatusConflict
	case ClassInvalid:
		return http.StatusBadRequest
	case ClassUnavailable:
		return http.StatusServiceUnavailable
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return ClassOf(err) == ClassUnavailable
}

// withCause clones base and attaches the source error and metadata.
// Sentinels are never mutated.
func withCause(base *goerrors.Error, source error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if source != nil {
		clone.Source = source
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// storeError classifies an error returned by the store. Errors that are
// already part of the taxonomy pass through unchanged.
func storeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if classified(err) {
		return err
	}

	return withCause(ErrUnavailable, err, map[string]any{
		"operation": operation,
	})
}

// StoreError reports err as Unavailable unless it already carries a kind.
// Use it for store calls made inside an audited mutation.
func StoreError(err error, operation string) error {
	return storeError(err, operation)
}

// mutationError classifies an error returned by a caller's mutation.
// Failures reaching the store are Unavailable. Anything the core does not
// recognize is Internal.
func mutationError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if classified(err) || isConnectionError(err) {
		return storeError(err, operation)
	}

	return withCause(ErrInternal, err, map[string]any{
		"operation": operation,
	})
}

func classified(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		_, ok := kindsByTextCode[richErr.TextCode]
		return ok
	}
	return false
}

func isConnectionError(err error) bool {
	if isContextError(err) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// validationError turns ozzo validation output into a ValidationError
// carrying the per field messages.
func validationError(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
	} else {
		fields["error"] = err.Error()
	}

	return withCause(ErrValidation, err, map[string]any{
		"fields": fields,
	})
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate=23505")
}
