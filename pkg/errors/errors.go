package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind tags an AuthError with one of the caller-facing failure classes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAccountLocked
	KindRateLimit
	KindInvalidToken
	KindPasswordValidation
	KindSessionExpired
)

// Messages that are safe to show to any caller.
const (
	MsgInvalidCredentials = "invalid username or password"
	MsgAccountLocked      = "account is temporarily locked, please try again later"
	MsgRateLimited        = "too many attempts, please try again later"
	MsgSessionExpired     = "session has expired"
	MsgInternal           = "internal server error"
)

// Code returns the machine-readable code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuthentication:
		return "AUTHENTICATION_FAILED"
	case KindAccountLocked:
		return "ACCOUNT_LOCKED"
	case KindRateLimit:
		return "RATE_LIMIT_EXCEEDED"
	case KindInvalidToken:
		return "INVALID_TOKEN"
	case KindPasswordValidation:
		return "PASSWORD_VALIDATION_FAILED"
	case KindSessionExpired:
		return "SESSION_EXPIRED"
	default:
		return "INTERNAL_ERROR"
	}
}

// StatusCode is the HTTP status a transport layer would usually map the kind to.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation, KindInvalidToken, KindPasswordValidation:
		return 400
	case KindAuthentication, KindSessionExpired:
		return 401
	case KindAccountLocked:
		return 423
	case KindRateLimit:
		return 429
	default:
		return 500
	}
}

func (k Kind) String() string {
	return strings.ToLower(k.Code())
}

// AuthError is the single error type surfaced by the auth core. Only the
// fields relevant to Kind are populated.
type AuthError struct {
	Kind    Kind
	Message string

	// KindValidation
	Field string
	// KindAccountLocked
	LockedUntil *time.Time
	// KindRateLimit
	RetryAfter time.Duration
	// KindInvalidToken
	TokenType string
	// KindPasswordValidation
	Violations []string

	// Err is the internal cause. It is never part of Message.
	Err error
}

// Error carries only the code and caller-facing message. The cause stays
// reachable through Unwrap for logging.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any *AuthError of the same kind, so errors.Is(err, ErrRateLimit) works.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInternal           = &AuthError{Kind: KindInternal, Message: MsgInternal}
	ErrValidation         = &AuthError{Kind: KindValidation, Message: "invalid input"}
	ErrAuthentication     = &AuthError{Kind: KindAuthentication, Message: MsgInvalidCredentials}
	ErrAccountLocked      = &AuthError{Kind: KindAccountLocked, Message: MsgAccountLocked}
	ErrRateLimit          = &AuthError{Kind: KindRateLimit, Message: MsgRateLimited}
	ErrInvalidToken       = &AuthError{Kind: KindInvalidToken, Message: "invalid or expired token"}
	ErrPasswordValidation = &AuthError{Kind: KindPasswordValidation, Message: "password does not meet requirements"}
	ErrSessionExpired     = &AuthError{Kind: KindSessionExpired, Message: MsgSessionExpired}
)

// NewValidationError reports a missing or malformed input field.
func NewValidationError(field, message string) *AuthError {
	return &AuthError{Kind: KindValidation, Field: field, Message: message}
}

// NewAuthenticationError always carries the generic credentials message.
func NewAuthenticationError() *AuthError {
	return &AuthError{Kind: KindAuthentication, Message: MsgInvalidCredentials}
}

func NewAccountLockedError(lockedUntil *time.Time) *AuthError {
	return &AuthError{Kind: KindAccountLocked, Message: MsgAccountLocked, LockedUntil: lockedUntil}
}

func NewRateLimitError(retryAfter time.Duration) *AuthError {
	return &AuthError{Kind: KindRateLimit, Message: MsgRateLimited, RetryAfter: retryAfter}
}

// NewInvalidTokenError tags the failure with the token type ("reset", "session").
func NewInvalidTokenError(tokenType, message string) *AuthError {
	if message == "" {
		message = "invalid or expired token"
	}
	return &AuthError{Kind: KindInvalidToken, TokenType: tokenType, Message: message}
}

func NewPasswordValidationError(violations []string) *AuthError {
	return &AuthError{
		Kind:       KindPasswordValidation,
		Message:    "password does not meet requirements",
		Violations: append([]string(nil), violations...),
	}
}

func NewSessionExpiredError() *AuthError {
	return &AuthError{Kind: KindSessionExpired, Message: MsgSessionExpired}
}

// NewInternalError hides cause behind the generic server message.
func NewInternalError(cause error) *AuthError {
	return &AuthError{Kind: KindInternal, Message: MsgInternal, Err: cause}
}

// KindOf returns the kind of the first AuthError in err's chain, or
// KindInternal for anything unrecognized.
func KindOf(err error) Kind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsRecognized reports whether err may be returned to a login caller as is.
func IsRecognized(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindRateLimit, KindAccountLocked, KindAuthentication:
		return true
	default:
		return false
	}
}

// SafeMessage returns a message that never contains internal error text.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(err, &ae) && ae.Kind != KindInternal {
		return ae.Message
	}
	return MsgInternal
}
