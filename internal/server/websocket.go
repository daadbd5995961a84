package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/dolchat/internal/agent"
)

// wsOutgoing is one event frame sent to the client.
type wsOutgoing struct {
	Event agent.EventKind `json:"event"`
	Data  any             `json:"data"`
}

// wsFrame is one client frame, or the reason it was rejected.
type wsFrame struct {
	req    chatRequest
	reject string
}

// wsSink writes events to a WebSocket.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(e agent.Event) error {
	data, err := json.Marshal(wsOutgoing{Event: e.Kind, Data: e.Data})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) sendError(msg string) error {
	return s.Send(agent.Event{Kind: agent.EventError, Data: agent.ErrorData{Message: msg}})
}

// handleWebSocket serves /chat/ws. Each text frame {message, history} starts
// one conversation; conversations on a connection run one at a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = uuid.NewString()
	}

	// Cancelled on client disconnect
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.streams.Add(id, cancel)
	defer s.streams.Remove(id)

	out := &wsSink{conn: conn}
	frames := make(chan wsFrame, 4)

	// Keep reading while a conversation runs so a closed socket cancels it.
	go func() {
		defer cancel()
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Str("request_id", id).Msg("websocket read")
				}
				return
			}

			// Rejections wait in the queue behind any running conversation.
			var f wsFrame
			if err := json.Unmarshal(data, &f.req); err != nil {
				f = wsFrame{reject: "Invalid JSON body."}
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for f := range frames {
		req := f.req
		reason, ok := f.reject, f.reject == ""
		if ok {
			reason, ok = s.validate(&req)
		}
		if !ok {
			if err := out.sendError(reason); err != nil {
				return
			}
			continue
		}

		res := s.runner.Run(ctx, req.History, req.Message, out)
		log.Info().
			Str("request_id", id).
			Str("status", string(res.Status)).
			Int("turns", res.Turns).
			Msg("websocket chat finished")
		s.record(ctx, req.Message, res)

		if ctx.Err() != nil {
			return
		}
	}
}
