package tools

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result is the outcome of one tool invocation: a JSON-serializable payload
// or an error. A failed Result is still handed back to the model as
// {"error": "..."} unless the error is transient.
type Result struct {
	Payload any
	Err     error
}

// OK wraps a successful payload.
func OK(payload any) Result {
	return Result{Payload: payload}
}

// Fail wraps an error.
func Fail(err error) Result {
	return Result{Err: err}
}

// Failf builds a soft error result.
func Failf(format string, args ...any) Result {
	return Result{Err: fmt.Errorf(format, args...)}
}

// Failed reports whether the invocation failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

type transient interface {
	Transient() bool
}

// Transient reports whether the failure comes from an upstream that is
// rate limited, down or unreachable.
func (r Result) Transient() bool {
	var t transient
	return r.Err != nil && errors.As(r.Err, &t) && t.Transient()
}

// JSON renders the result for the model.
func (r Result) JSON() string {
	if r.Err != nil {
		data, _ := json.Marshal(map[string]string{"error": r.Err.Error()})
		return string(data)
	}
	if s, ok := r.Payload.(string); ok {
		return s
	}
	data, err := json.Marshal(r.Payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": "tool returned an unserializable result"})
	}
	return string(data)
}
