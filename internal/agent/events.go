package agent

import (
	"errors"
	"sync"
)

// EventKind names one kind of stream event.
type EventKind string

const (
	EventText       EventKind = "text"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventError      EventKind = "error"
	EventDone       EventKind = "done"
)

// Terminal reports whether no event may follow k.
func (k EventKind) Terminal() bool {
	return k == EventError || k == EventDone
}

// Event is one frame of a chat stream. Data marshals to the frame payload.
type Event struct {
	Kind EventKind
	Data any
}

type TextData struct {
	Delta string `json:"delta"`
}

type ToolCallData struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type ToolResultData struct {
	Name string `json:"name"`
}

type ErrorData struct {
	Message string `json:"message"`
}

type DoneData struct{}

// Sink receives the events of one conversation in order. A Send error means
// the consumer is gone and the loop stops.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error {
	return f(e)
}

// errStreamClosed is returned for events sent after a terminal event.
var errStreamClosed = errors.New("event stream closed")

// emitter guards a Sink so that nothing follows done or error and the
// first send failure sticks.
type emitter struct {
	mu     sync.Mutex
	sink   Sink
	closed bool
	err    error
	text   []byte
}

func newEmitter(s Sink) *emitter {
	return &emitter{sink: s}
}

func (e *emitter) send(kind EventKind, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}
	if e.closed {
		return errStreamClosed
	}
	if kind.Terminal() {
		e.closed = true
	}
	if err := e.sink.Send(Event{Kind: kind, Data: data}); err != nil {
		e.err = err
		return err
	}
	if kind == EventText {
		e.text = append(e.text, data.(TextData).Delta...)
	}
	return nil
}

func (e *emitter) delta(s string) error {
	return e.send(EventText, TextData{Delta: s})
}

func (e *emitter) done() error {
	return e.send(EventDone, DoneData{})
}

func (e *emitter) fail(message string) error {
	return e.send(EventError, ErrorData{Message: message})
}

// failed reports whether the sink rejected an event.
func (e *emitter) failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err != nil
}

// streamed returns all text sent so far.
func (e *emitter) streamed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.text)
}
