package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/openai/openai-go"
)

// ErrUnavailable matches provider failures that should clear up on their own:
// overload, rate limiting, 5xx responses and broken connections.
var ErrUnavailable = errors.New("llm unavailable")

// APIError is a failed provider call.
type APIError struct {
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm api error (%d): %s", e.StatusCode, e.Message)
	}
	return "llm api error: " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnavailable) true for transient failures.
func (e *APIError) Is(target error) bool {
	return target == ErrUnavailable && e.Transient()
}

// Transient reports whether the provider is overloaded or unreachable.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case 0, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

// classifyError converts provider and transport failures to *APIError.
// Context cancellation and handler errors pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &APIError{StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &APIError{Message: err.Error(), Err: err}
	}

	// Errors delivered inside the event stream carry no status code; the
	// provider names the condition in the payload instead.
	if msg := err.Error(); strings.Contains(msg, "overloaded") {
		return &APIError{StatusCode: 529, Message: msg, Err: err}
	}

	return &APIError{StatusCode: -1, Message: err.Error(), Err: err}
}
