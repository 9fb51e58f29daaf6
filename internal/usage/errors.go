package usage

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredentials = errors.New("no session credential configured")
	ErrUnauthorized  = errors.New("unauthorized")
	// ErrSessionExpired is a 403 carrying a permission_error payload: the
	// session cookie is no longer valid and must be replaced.
	ErrSessionExpired = errors.New("session expired")
	// ErrBlocked is an edge or anti-bot block: any other 403, or an HTML
	// body where JSON was expected.
	ErrBlocked     = errors.New("blocked by edge protection")
	ErrRateLimited = errors.New("rate limited")
	// ErrNoOrganization means organization discovery returned no entries.
	ErrNoOrganization = errors.New("no organization found for this session")
)

// HTTPError is a non-2xx status with no more specific classification.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Status)
}

// NetworkError wraps transport failures and timeouts.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError is a 2xx response whose body did not match the expected
// payload.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Error kinds as published in Status.
const (
	KindNone           = ""
	KindNoCredentials  = "no_credentials"
	KindNoOrganization = "no_organization"
	KindUnauthorized   = "unauthorized"
	KindSessionExpired = "session_expired"
	KindBlocked        = "blocked"
	KindRateLimited    = "rate_limited"
	KindHTTP           = "http_error"
	KindNetwork        = "network_error"
	KindDecode         = "decode_error"
	KindUnknown        = "unknown"
)

// Kind maps err to a stable string for clients.
func Kind(err error) string {
	var httpErr *HTTPError
	var netErr *NetworkError
	var decErr *DecodeError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoCredentials):
		return KindNoCredentials
	case errors.Is(err, ErrNoOrganization):
		return KindNoOrganization
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrSessionExpired):
		return KindSessionExpired
	case errors.Is(err, ErrBlocked):
		return KindBlocked
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &decErr):
		return KindDecode
	default:
		return KindUnknown
	}
}
