package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the gateway
var (
	// Credential errors
	ErrNoCredentials   = errors.New("no credentials")
	ErrNoRefreshToken  = errors.New("no refresh token")
	ErrRefreshRejected = errors.New("refresh rejected")
	ErrSessionExpired  = errors.New("session expired")
	ErrUnauthorized    = errors.New("unauthorized")

	// Upstream errors
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")

	// Transcoding errors
	ErrAmbiguousKeyCollision = errors.New("ambiguous key collision")

	// Request errors
	ErrRouteNotFound   = errors.New("route not found")
	ErrBodyTooLarge    = errors.New("request body too large")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrTooManyRequests = errors.New("too many requests")

	// General errors
	ErrInternal = errors.New("internal error")
)

// Kind names a class of gateway failure. It is the value of the "error" field in
// error bodies written by the gateway.
type Kind string

const (
	KindNoCredentials       Kind = "noCredentials"
	KindUnauthorized        Kind = "unauthorized"
	KindRefreshRejected     Kind = "refreshRejected"
	KindSessionExpired      Kind = "sessionExpired"
	KindUpstreamUnreachable Kind = "upstreamUnreachable"
	KindUpstreamTimeout     Kind = "upstreamTimeout"
	KindRouteNotFound       Kind = "notFound"
	KindBodyTooLarge        Kind = "bodyTooLarge"
	KindInvalidRequest      Kind = "invalidRequest"
	KindTooManyRequests     Kind = "tooManyRequests"
	KindInternal            Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindNoCredentials:       http.StatusUnauthorized,
	KindUnauthorized:        http.StatusUnauthorized,
	KindRefreshRejected:     http.StatusUnauthorized,
	KindSessionExpired:      http.StatusUnauthorized,
	KindUpstreamUnreachable: http.StatusBadGateway,
	KindUpstreamTimeout:     http.StatusGatewayTimeout,
	KindRouteNotFound:       http.StatusNotFound,
	KindBodyTooLarge:        http.StatusRequestEntityTooLarge,
	KindInvalidRequest:      http.StatusBadRequest,
	KindTooManyRequests:     http.StatusTooManyRequests,
	KindInternal:            http.StatusInternalServerError,
}

var kindSentinel = map[Kind]error{
	KindNoCredentials:       ErrNoCredentials,
	KindUnauthorized:        ErrUnauthorized,
	KindRefreshRejected:     ErrRefreshRejected,
	KindSessionExpired:      ErrSessionExpired,
	KindUpstreamUnreachable: ErrUpstreamUnreachable,
	KindUpstreamTimeout:     ErrUpstreamTimeout,
	KindRouteNotFound:       ErrRouteNotFound,
	KindBodyTooLarge:        ErrBodyTooLarge,
	KindInvalidRequest:      ErrInvalidRequest,
	KindTooManyRequests:     ErrTooManyRequests,
	KindInternal:            ErrInternal,
}

// GatewayError is a failure produced by the gateway itself, as opposed to a
// non-2xx reply relayed from the upstream API.
type GatewayError struct {
	Kind    Kind
	Status  int
	Message string
	Err     error // underlying cause, may be nil
}

// New creates a GatewayError of the given kind with the kind's default status.
func New(kind Kind, message string, cause error) *GatewayError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &GatewayError{Kind: kind, Status: status, Message: message, Err: cause}
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the cause and the sentinel for the kind so that
// errors.Is works against either.
func (e *GatewayError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := kindSentinel[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// AsGatewayError returns err as a *GatewayError, wrapping unknown errors as internal.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return New(KindInternal, "internal error", err)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
