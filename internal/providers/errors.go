package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies backend failures so callers can branch without
// string-matching.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfigInvalid
	KindUnavailable
	KindRateLimited
	KindAuth
	KindSafetyBlocked
	KindMalformedResponse
	KindTimeout
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config_invalid"
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindSafetyBlocked:
		return "safety_block"
	case KindMalformedResponse:
		return "malformed_response"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// BackendError is a classified provider failure.
type BackendError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError builds a classified failure for the named provider.
func NewBackendError(provider string, kind ErrorKind, message string, err error) *BackendError {
	return &BackendError{Provider: provider, Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from an error chain. Context cancellation
// and deadlines map to KindTimeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindUnknown
}
