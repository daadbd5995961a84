package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/dolchat/internal/agent"
	"github.com/michaelbrown/dolchat/internal/config"
	"github.com/michaelbrown/dolchat/internal/llm"
	"github.com/michaelbrown/dolchat/internal/storage"
	"github.com/michaelbrown/dolchat/internal/storage/sqlite"
)

const frontend = "http://localhost:5173"

// fakeRunner answers every message with a fixed text reply, or with events
// when set.
type fakeRunner struct {
	mu       sync.Mutex
	messages []string
	history  [][]llm.Message
	events   []agent.Event
	panics   bool
	// block waits for cancellation and reports it on canceled.
	block    bool
	canceled chan struct{}
	// gate, when set, holds the run after its first event.
	gate chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, history []llm.Message, message string, sink agent.Sink) *agent.Result {
	f.mu.Lock()
	f.messages = append(f.messages, message)
	f.history = append(f.history, history)
	f.mu.Unlock()

	if f.panics {
		panic("boom")
	}
	if f.block {
		<-ctx.Done()
		close(f.canceled)
		return &agent.Result{Status: agent.StatusCanceled, Err: ctx.Err()}
	}

	events := f.events
	if events == nil {
		events = []agent.Event{
			{Kind: agent.EventText, Data: agent.TextData{Delta: "Hello "}},
			{Kind: agent.EventText, Data: agent.TextData{Delta: "there."}},
			{Kind: agent.EventDone, Data: agent.DoneData{}},
		}
	}
	for i, e := range events {
		if err := sink.Send(e); err != nil {
			return &agent.Result{Status: agent.StatusCanceled, Err: err}
		}
		if i == 0 && f.gate != nil {
			<-f.gate
		}
	}

	msgs := append(append([]llm.Message{}, history...), llm.UserMessage(message), llm.AssistantMessage("Hello there."))
	return &agent.Result{Status: agent.StatusDone, Messages: msgs, Text: "Hello there.", Turns: 1}
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestServer(t *testing.T, runner Runner, store storage.Store) *Server {
	t.Helper()
	return New(config.ServerConfig{FrontendURL: frontend}, runner, store, "claude-test")
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type sseFrame struct {
	Event string
	Data  string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if block == "" {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.Data = strings.TrimPrefix(line, "data: ")
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChatRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"empty message", `{"message":""}`, http.StatusBadRequest, "Message is required."},
		{"whitespace message", `{"message":"  \n\t"}`, http.StatusBadRequest, "Message is required."},
		{"missing message", `{}`, http.StatusBadRequest, "Message is required."},
		{"too long", fmt.Sprintf(`{"message":%q}`, strings.Repeat("a", 2001)), http.StatusBadRequest, "Message too long."},
		{"invalid json", `{"message":`, http.StatusBadRequest, "Invalid JSON body."},
		{"bad history role", `{"message":"hi","history":[{"role":"system","content":"x"}]}`, http.StatusBadRequest, "History messages must have role user or assistant."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			s := newTestServer(t, runner, nil)

			rec := postChat(t, s.Handler(), tt.body)

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body["error"])
			assert.Zero(t, runner.calls(), "runner must not be invoked")
		})
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil)

	body := fmt.Sprintf(`{"message":"hi","history":[{"role":"user","content":%q}]}`, strings.Repeat("x", maxBodyBytes))
	rec := postChat(t, s.Handler(), body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestChatMessageLengthCountsCharacters(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(t, runner, nil)

	// 2000 two-byte characters is within the limit.
	rec := postChat(t, s.Handler(), fmt.Sprintf(`{"message":%q}`, strings.Repeat("é", 2000)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls())
}

func TestChatStreamsEvents(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(t, runner, nil)

	rec := postChat(t, s.Handler(), `{"message":"What datasets does OSHA publish?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, sseFrame{"text", `{"delta":"Hello "}`}, frames[0])
	assert.Equal(t, sseFrame{"text", `{"delta":"there."}`}, frames[1])
	assert.Equal(t, sseFrame{"done", `{}`}, frames[2])

	assert.Equal(t, []string{"What datasets does OSHA publish?"}, runner.messages)
}

func TestChatToolEvents(t *testing.T) {
	runner := &fakeRunner{events: []agent.Event{
		{Kind: agent.EventToolCall, Data: agent.ToolCallData{Name: "query_data", Input: map[string]any{"agency": "osha"}}},
		{Kind: agent.EventToolResult, Data: agent.ToolResultData{Name: "query_data"}},
		{Kind: agent.EventError, Data: agent.ErrorData{Message: "DOL API rate limit exceeded. Please wait a moment and try again."}},
	}}
	s := newTestServer(t, runner, nil)

	rec := postChat(t, s.Handler(), `{"message":"inspections"}`)

	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "tool_call", frames[0].Event)
	assert.JSONEq(t, `{"name":"query_data","input":{"agency":"osha"}}`, frames[0].Data)
	assert.Equal(t, sseFrame{"tool_result", `{"name":"query_data"}`}, frames[1])
	assert.Equal(t, "error", frames[2].Event)
	assert.JSONEq(t, `{"message":"DOL API rate limit exceeded. Please wait a moment and try again."}`, frames[2].Data)
}

func TestChatTrimsHistory(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(t, runner, nil)

	var history []map[string]string
	for i := 0; i < 25; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, map[string]string{"role": role, "content": fmt.Sprintf("m%d", i)})
	}
	body, err := json.Marshal(map[string]any{"message": "next", "history": history})
	require.NoError(t, err)

	rec := postChat(t, s.Handler(), string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, runner.history, 1)
	got := runner.history[0]
	require.Len(t, got, agent.DefaultMaxHistory)
	assert.Equal(t, "m5", got[0].Content)
	assert.Equal(t, "m24", got[len(got)-1].Content)
}

func TestChatCORS(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", frontend)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, frontend, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", frontend)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, frontend, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})
}

func TestChatPanicAfterStreamStarts(t *testing.T) {
	s := newTestServer(t, &fakeRunner{panics: true}, nil)

	rec := postChat(t, s.Handler(), `{"message":"hi"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	frames := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Event)
	assert.JSONEq(t, `{"message":"An internal error occurred."}`, frames[0].Data)
}

// plainWriter hides http.Flusher.
type plainWriter struct {
	header http.Header
	code   int
	body   strings.Builder
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return w.body.Write(b) }
func (w *plainWriter) WriteHeader(code int)        { w.code = code }

func TestChatWithoutFlusher(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(t, runner, nil)

	w := &plainWriter{header: http.Header{}}
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	s.handleChat(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.code)
	assert.JSONEq(t, `{"error":"An internal error occurred."}`, w.body.String())
	assert.Zero(t, runner.calls())
}

func TestChatRecordsTranscript(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	s := newTestServer(t, &fakeRunner{}, store)
	rec := postChat(t, s.Handler(), `{"message":"How many WHD cases are there?","history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	list, err := store.ListTranscripts(context.Background(), storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	tr := list[0]
	assert.Equal(t, "How many WHD cases are there?", tr.Title)
	assert.Equal(t, storage.StatusDone, tr.Status)
	assert.Equal(t, "claude-test", tr.Model)
	assert.Equal(t, 1, tr.Turns)

	msgs, err := store.LoadMessages(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestGenerateTitle(t *testing.T) {
	assert.Equal(t, "show me the data", generateTitle("  show\nme   the data "))

	long := generateTitle(strings.Repeat("ü", 100))
	assert.Equal(t, 83, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "..."))
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsOutgoing {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var raw struct {
		Event agent.EventKind `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	var data map[string]any
	require.NoError(t, json.Unmarshal(raw.Data, &data))
	return wsOutgoing{Event: raw.Event, Data: data}
}

func TestWebSocketChat(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(t, runner, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "list datasets"}))
	assert.Equal(t, wsOutgoing{Event: agent.EventText, Data: map[string]any{"delta": "Hello "}}, readFrame(t, conn))
	assert.Equal(t, wsOutgoing{Event: agent.EventText, Data: map[string]any{"delta": "there."}}, readFrame(t, conn))
	assert.Equal(t, wsOutgoing{Event: agent.EventDone, Data: map[string]any{}}, readFrame(t, conn))

	// The connection stays open for the next message.
	require.NoError(t, conn.WriteJSON(map[string]any{"message": ""}))
	f := readFrame(t, conn)
	assert.Equal(t, agent.EventError, f.Event)
	assert.Equal(t, map[string]any{"message": "Message is required."}, f.Data)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f = readFrame(t, conn)
	assert.Equal(t, map[string]any{"message": "Invalid JSON body."}, f.Data)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "again"}))
	for f := readFrame(t, conn); f.Event != agent.EventDone; f = readFrame(t, conn) {
	}
	assert.Equal(t, 2, runner.calls())
}

func TestWebSocketBadFrameWaitsForRunningChat(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	s := newTestServer(t, runner, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteJSON(map[string]any{"message": "list datasets"}))
	assert.Equal(t, agent.EventText, readFrame(t, conn).Event)

	// Sent while the conversation is still streaming.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	time.Sleep(50 * time.Millisecond)
	close(runner.gate)

	assert.Equal(t, agent.EventText, readFrame(t, conn).Event)
	assert.Equal(t, agent.EventDone, readFrame(t, conn).Event)
	f := readFrame(t, conn)
	assert.Equal(t, agent.EventError, f.Event)
	assert.Equal(t, map[string]any{"message": "Invalid JSON body."}, f.Data)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketCloseCancelsRun(t *testing.T) {
	runner := &fakeRunner{block: true, canceled: make(chan struct{})}
	s := newTestServer(t, runner, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteJSON(map[string]any{"message": "slow question"}))

	require.Eventually(t, func() bool { return runner.calls() == 1 }, 5*time.Second, 10*time.Millisecond)
	conn.Close()

	select {
	case <-runner.canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not canceled after the socket closed")
	}
}

func TestShutdownCancelsStreams(t *testing.T) {
	s := newTestServer(t, &fakeRunner{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.streams.Add("req-1", cancel)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Error(t, ctx.Err())
}
