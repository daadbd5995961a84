package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/dolchat/internal/agent"
	"github.com/michaelbrown/dolchat/internal/llm"
	"github.com/michaelbrown/dolchat/internal/storage"
)

const maxBodyBytes = 1 << 20

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// --- Chat ---

type chatRequest struct {
	Message string        `json:"message"`
	History []llm.Message `json:"history"`
}

// validate checks a chat request and trims its history. The returned string
// is the client-facing reason for rejecting it.
func (s *Server) validate(req *chatRequest) (string, bool) {
	if strings.TrimSpace(req.Message) == "" {
		return "Message is required.", false
	}
	if utf8.RuneCountInString(req.Message) > s.cfg.MaxMessageChars {
		return "Message too long.", false
	}
	for _, m := range req.History {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return "History messages must have role user or assistant.", false
		}
	}
	req.History = agent.TrimHistory(req.History, s.cfg.MaxHistory)
	return "", true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if reason, ok := s.validate(&req); !ok {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	var stream *sseWriter
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		log.Error().Interface("panic", p).Str("request_id", middleware.GetReqID(r.Context())).Msg("chat handler panicked")
		if stream == nil {
			writeError(w, http.StatusInternalServerError, agent.MsgInternal)
			return
		}
		stream.Send(agent.Event{Kind: agent.EventError, Data: agent.ErrorData{Message: agent.MsgInternal}})
	}()

	stream, err := newSSEWriter(w)
	if err != nil {
		log.Error().Err(err).Msg("cannot stream response")
		writeError(w, http.StatusInternalServerError, agent.MsgInternal)
		return
	}

	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.streams.Add(id, cancel)
	defer s.streams.Remove(id)

	res := s.runner.Run(ctx, req.History, req.Message, stream)
	log.Info().
		Str("request_id", id).
		Str("status", string(res.Status)).
		Int("turns", res.Turns).
		Msg("chat finished")
	s.record(ctx, req.Message, res)
}

// record stores a finished conversation when transcripts are enabled.
func (s *Server) record(ctx context.Context, message string, res *agent.Result) {
	if s.store == nil || res == nil {
		return
	}

	t := &storage.Transcript{
		ID:        uuid.NewString(),
		Title:     generateTitle(message),
		Status:    storage.Status(res.Status),
		Model:     s.model,
		Turns:     res.Turns,
		ToolCalls: storage.CountToolCalls(res.Messages),
	}
	if res.Status == agent.StatusError && res.Err != nil {
		t.Error = res.Err.Error()
	}

	// The client may already be gone; the audit record is still written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.SaveTranscript(ctx, t, res.Messages); err != nil {
		log.Warn().Err(err).Str("transcript", t.ID).Msg("saving transcript")
	}
}

// generateTitle creates a transcript title from the user message.
func generateTitle(message string) string {
	t := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(t) > 80 {
		t = string([]rune(t)[:80]) + "..."
	}
	return t
}
