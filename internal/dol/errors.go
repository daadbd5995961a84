package dol

import (
	"fmt"
	"net/http"
)

// Kind classifies a failed DOL API call.
type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindUpstreamDown Kind = "upstream_down"
	KindNotFound     Kind = "not_found"
	KindHTTP         Kind = "http_error"
	KindConnectivity Kind = "connectivity"
	KindMalformed    Kind = "malformed"
)

// Transient reports whether retrying later could succeed. Transient failures
// abort a conversation instead of being handed back to the model.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindUpstreamDown, KindConnectivity:
		return true
	}
	return false
}

// Error is the only error type returned by Client.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying later.
func (e *Error) Transient() bool {
	return e.Kind.Transient()
}

// statusError maps a non-2xx response to an Error.
func statusError(status int) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:    KindRateLimited,
			Status:  status,
			Message: "DOL API rate limit exceeded (429). Please wait a moment and try again.",
		}
	case status >= 500:
		return &Error{
			Kind:    KindUpstreamDown,
			Status:  status,
			Message: fmt.Sprintf("The DOL API is currently unavailable (%d %s). Please try again later.", status, http.StatusText(status)),
		}
	case status == http.StatusNotFound:
		return &Error{
			Kind:    KindNotFound,
			Status:  status,
			Message: "Dataset not found (404). Check the agency abbreviation and endpoint name.",
		}
	default:
		return &Error{
			Kind:    KindHTTP,
			Status:  status,
			Message: fmt.Sprintf("DOL API error: %d %s", status, http.StatusText(status)),
		}
	}
}

func connectivityError(err error) *Error {
	return &Error{
		Kind:    KindConnectivity,
		Message: fmt.Sprintf("Failed to fetch data from the DOL API: %v", err),
		Err:     err,
	}
}

// tooLargeError reports a response over the body cap. The API answered, so
// the model can retry with a narrower query.
func tooLargeError(limit int64) *Error {
	return &Error{
		Kind:    KindMalformed,
		Message: fmt.Sprintf("DOL API response is larger than %d MiB. Narrow the query with limit, fields or filter_object.", limit>>20),
	}
}
