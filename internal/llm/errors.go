package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

// UnavailableError means a provider cannot be used at all: missing
// credentials, rejected credentials or bad configuration. It is not retried.
type UnavailableError struct {
	Provider string
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Reason)
}

// TransportError is a timeout, rate limit, network or server failure.
type TransportError struct {
	Provider   string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s returned %d: %v", e.Provider, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("provider %s transport error: %v", e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// RateLimited reports whether the backend rejected the call with 429.
func (e *TransportError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Cause, &ne) && ne.Timeout()
}

// IsUnavailable reports whether err is, or wraps, an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Classify converts an arbitrary provider error into an *UnavailableError or
// *TransportError based on its type and HTTP status.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}

	status := 0
	var oe *openai.Error
	var ae *anthropic.Error
	switch {
	case errors.As(err, &oe):
		status = oe.StatusCode
	case errors.As(err, &ae):
		status = ae.StatusCode
	}
	return fromStatus(provider, status, err)
}

func fromStatus(provider string, status int, cause error) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &UnavailableError{Provider: provider, Reason: fmt.Sprintf("credentials rejected (%d): %v", status, cause)}
	}
	return &TransportError{Provider: provider, StatusCode: status, Cause: cause}
}
