package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/dolchat/internal/agent"
	"github.com/michaelbrown/dolchat/internal/config"
	"github.com/michaelbrown/dolchat/internal/llm"
	"github.com/michaelbrown/dolchat/internal/storage"
)

// Runner runs one conversation. *agent.Agent implements it.
type Runner interface {
	Run(ctx context.Context, history []llm.Message, message string, sink agent.Sink) *agent.Result
}

// Server is the HTTP server for the chat API.
type Server struct {
	cfg      config.ServerConfig
	runner   Runner
	store    storage.Store // nil disables transcripts
	model    string
	streams  *StreamTracker
	upgrader websocket.Upgrader
	router   chi.Router
	http     *http.Server
}

// New creates a new Server. store may be nil.
func New(cfg config.ServerConfig, runner Runner, store storage.Store, model string) *Server {
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = 2000
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = agent.DefaultMaxHistory
	}
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		store:   store,
		model:   model,
		streams: NewStreamTracker(),
		router:  chi.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.cfg.FrontendURL},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)
	r.Get("/chat/ws", s.handleWebSocket)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// accessLog writes one zerolog line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// checkOrigin admits WebSocket handshakes from the configured frontend, and
// from clients that send no Origin at all.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.cfg.FrontendURL || origin == "http://"+r.Host
}

// Start begins listening on the configured port. It returns nil after
// Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Str("frontend_url", s.cfg.FrontendURL).Msg("server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels in-flight streams and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Int("streams", s.streams.Len()).Msg("shutting down server")
	s.streams.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
