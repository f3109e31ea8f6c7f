package auth

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	TextCodeInvalidInvite      = "INVALID_INVITE_TOKEN"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeInvalidToken       = "INVALID_TOKEN"
	TextCodeTokenRevoked       = "TOKEN_REVOKED"
	TextCodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	TextCodeLastAdmin          = "LAST_ADMIN_PROTECTED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeMembershipNotFound = "MEMBERSHIP_NOT_FOUND"
	TextCodeUserNotFound       = "USER_NOT_FOUND"
	TextCodeInvalidProjectRole = "INVALID_PROJECT_ROLE"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeInvalidTransition  = "INVALID_USER_STATE_TRANSITION"
)

// ErrInvalidCredentials is returned for an unknown email and for a wrong
// password alike
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrDuplicateEmail is returned when any user already holds the email
var ErrDuplicateEmail = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidInviteToken covers unknown and already consumed invite tokens
var ErrInvalidInviteToken = goerrors.New("invite token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidInvite).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidToken is returned for bad signatures, malformed tokens and
// issuer or audience mismatches
var ErrInvalidToken = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenRevoked is returned for a valid refresh token that is no longer
// in the credential store
var ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

var ErrTooManyAttempts = goerrors.New("too many failed attempts, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(goerrors.CodeTooManyRequests)

// ErrLastAdminProtected is returned when a change would leave a project
// without an admin
var ErrLastAdminProtected = goerrors.New("project must keep at least one admin", goerrors.CategoryConflict).
	WithTextCode(TextCodeLastAdmin).
	WithCode(goerrors.CodeConflict)

var ErrForbidden = goerrors.New("operation not allowed", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrMembershipNotFound = goerrors.New("project membership not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeMembershipNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrInvalidProjectRole = goerrors.New("project role must be admin or member", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidProjectRole).
	WithCode(goerrors.CodeBadRequest)

var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrCredentialNotFound is internal, callers see ErrTokenRevoked
var ErrCredentialNotFound = goerrors.New("refresh credential not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when a requested status change is not allowed
var ErrInvalidTransition = goerrors.New("invalid user state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrorKind returns the stable machine readable kind of an error, or an
// empty string for errors outside the auth taxonomy
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// isUniqueViolation matches unique constraint failures from the
// postgres and sqlite drivers
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
