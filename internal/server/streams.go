package server

import (
	"context"
	"sync"
)

// StreamTracker tracks in-flight chat streams so shutdown can cancel them.
// An open SSE or WebSocket stream would otherwise hold http.Server.Shutdown
// until its conversation finished.
type StreamTracker struct {
	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// NewStreamTracker creates an empty StreamTracker.
func NewStreamTracker() *StreamTracker {
	return &StreamTracker{
		streams: make(map[string]context.CancelFunc),
	}
}

// Add registers a stream under id.
func (st *StreamTracker) Add(id string, cancel context.CancelFunc) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.streams[id] = cancel
}

// Remove forgets a finished stream.
func (st *StreamTracker) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.streams, id)
}

// Len returns the number of in-flight streams.
func (st *StreamTracker) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.streams)
}

// CloseAll cancels all in-flight streams.
func (st *StreamTracker) CloseAll() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, cancel := range st.streams {
		cancel()
		delete(st.streams, id)
	}
}
