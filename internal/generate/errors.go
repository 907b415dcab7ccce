package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TobiSchelling/contentforge/internal/cascade"
	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/history"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/quality"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindProviderUnavailable      Kind = "ProviderUnavailable"
	KindProviderTransportError   Kind = "ProviderTransportError"
	KindProviderResponseInvalid  Kind = "ProviderResponseInvalid"
	KindContentQualityFailure    Kind = "ContentQualityFailure"
	KindDuplicateContentDetected Kind = "DuplicateContentDetected"
	KindAllAttemptsExhausted     Kind = "AllAttemptsExhausted"
	// KindInvalidRequest rejects a request before any provider is called.
	KindInvalidRequest Kind = "InvalidRequest"
)

// Error is a terminal generation failure surfaced to the caller.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// MarshalJSON encodes the failure as {kind, message}.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(Failure{Kind: e.Kind, Message: e.Message})
}

// Failure is the wire form of an error.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// FailureOf converts any error into its wire form.
func FailureOf(err error) Failure {
	var ge *Error
	if errors.As(err, &ge) {
		return Failure{Kind: ge.Kind, Message: ge.Message}
	}
	return Failure{Kind: KindOf(err), Message: err.Error()}
}

// ResponseInvalidError means a provider answered but the answer could not be
// turned into an artifact.
type ResponseInvalidError struct {
	Provider string
	Reason   string
}

func (e *ResponseInvalidError) Error() string {
	return fmt.Sprintf("invalid response from %s: %s", e.Provider, e.Reason)
}

// QualityError wraps a failed quality report.
type QualityError struct {
	Report quality.Report
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("quality check failed (%s): %s", e.Report.Reason, e.Report.Detail)
}

// KindOf classifies err. It returns "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var ge *Error
	var ri *ResponseInvalidError
	var qe *QualityError
	var de *history.DuplicateError
	var all *cascade.AllProvidersFailedError
	var te *llm.TransportError

	switch {
	case errors.As(err, &ge):
		return ge.Kind
	case errors.Is(err, content.ErrInvalidRequest):
		return KindInvalidRequest
	case errors.As(err, &ri):
		return KindProviderResponseInvalid
	case errors.As(err, &qe):
		return KindContentQualityFailure
	case errors.As(err, &de):
		return KindDuplicateContentDetected
	case errors.As(err, &all):
		if all.Retryable() {
			return KindProviderTransportError
		}
		return KindProviderUnavailable
	case llm.IsUnavailable(err):
		return KindProviderUnavailable
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindProviderTransportError
	}
	return ""
}
