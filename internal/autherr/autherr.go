package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an authentication or authorization failure that the
// gateway is willing to surface to callers. Anything else is wrapped and
// mapped to one of these before it reaches the wire.
type Code string

const (
	InvalidEmail             Code = "INVALID_EMAIL"
	InvalidPassword          Code = "INVALID_PASSWORD"
	WeakPassword             Code = "WEAK_PASSWORD"
	UserAlreadyExists        Code = "USER_ALREADY_EXIST"
	UserDoesNotExist         Code = "USER_DOES_NOT_EXIST"
	InvalidMagicCode         Code = "INVALID_MAGIC_CODE"
	MagicExpired             Code = "MAGIC_EXPIRED"
	MagicExhausted           Code = "MAGIC_EXHAUSTED"
	OAuthTokenExchangeFailed Code = "OAUTH_TOKEN_EXCHANGE_FAILED"
	InstanceNotConfigured    Code = "INSTANCE_NOT_CONFIGURED"
	SignupDisabled           Code = "SIGNUP_DISABLED"
	InvalidGrant             Code = "INVALID_GRANT"
	InvalidAppInstallation   Code = "INVALID_APP_INSTALLATION"
	TokenExpired             Code = "TOKEN_EXPIRED"
	TokenNotSet              Code = "TOKEN_NOT_SET"
	RateLimitExceeded        Code = "RATE_LIMIT_EXCEEDED"
	Forbidden                Code = "FORBIDDEN"
)

var statusByCode = map[Code]int{
	InvalidEmail:             http.StatusBadRequest,
	InvalidPassword:          http.StatusBadRequest,
	WeakPassword:             http.StatusBadRequest,
	UserAlreadyExists:        http.StatusBadRequest,
	UserDoesNotExist:         http.StatusBadRequest,
	InvalidMagicCode:         http.StatusBadRequest,
	MagicExpired:             http.StatusBadRequest,
	MagicExhausted:           http.StatusBadRequest,
	OAuthTokenExchangeFailed: http.StatusBadRequest,
	InstanceNotConfigured:    http.StatusBadRequest,
	SignupDisabled:           http.StatusBadRequest,
	InvalidGrant:             http.StatusBadRequest,
	InvalidAppInstallation:   http.StatusBadRequest,
	TokenExpired:             http.StatusUnauthorized,
	TokenNotSet:              http.StatusUnauthorized,
	RateLimitExceeded:        http.StatusTooManyRequests,
	Forbidden:                http.StatusForbidden,
}

// Error is the tagged failure every credential adapter and policy check
// returns instead of raising. The HTTP edge renders it as either a JSON
// body or a redirect with error_code/error_message query parameters.
type Error struct {
	Code    Code
	Message string
	Payload map[string]string
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithPayload(key, value string) *Error {
	if e.Payload == nil {
		e.Payload = make(map[string]string)
	}
	e.Payload[key] = value
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the status the edge should respond with.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusBadRequest
}

// From extracts a typed gateway error, or nil when err is something else.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if ae := From(err); ae != nil {
		return ae.Code == code
	}
	return false
}
