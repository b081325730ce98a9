package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServerConfig holds the dependencies of the full API server.
type ServerConfig struct {
	Engine       EngineInterface
	Proposals    ProposalSubmitter
	Seats        *SeatManager
	Journal      JournalReader         // optional
	JournalStats func() map[string]any // optional
	AdminToken   string
	CORSOrigins  []string
}

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for the command stream.
type Server struct {
	engine         EngineInterface
	seats          *SeatManager
	router         *chi.Mux
	wsHub          *WebSocketHub
	rateLimiter    *RequestLimiter
	proposeLimiter *RequestLimiter
	httpServer     *http.Server
}

// NewServer creates a new API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// starting goroutines or opening network listeners.
//
// For testing HTTP endpoints without WebSocket support, use NewRouter() directly.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		engine:      cfg.Engine,
		seats:       cfg.Seats,
		wsHub:          NewWebSocketHub(cfg.Engine, cfg.Proposals, cfg.Seats),
		rateLimiter:    NewIPRateLimiter(DefaultRateLimitConfig),
		proposeLimiter: NewSeatRateLimiter(cfg.Seats, DefaultProposeRateLimitConfig),
	}

	s.router = NewRouter(RouterConfig{
		Engine:         cfg.Engine,
		Proposals:      cfg.Proposals,
		Seats:          cfg.Seats,
		Journal:        cfg.Journal,
		JournalStats:   cfg.JournalStats,
		AdminToken:     cfg.AdminToken,
		RateLimiter:    s.rateLimiter,
		ProposeLimiter: s.proposeLimiter,
		Hub:            s.wsHub,
		CORSOrigins:    cfg.CORSOrigins,
	})

	// WebSocket endpoint (needs the wsHub instance)
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Start subscribes the hub to the engine, starts background workers and
// serves HTTP until Stop is called.
// This is the ONLY method that starts goroutines or opens network listeners.
func (s *Server) Start(addr string) error {
	s.engine.OnCommands(s.wsHub.Publish)
	go s.wsHub.Run()
	s.seats.Start()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("🌐 API server starting on %s", addr)
	log.Printf("🔌 Command stream: ws://localhost%s/ws", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Start().
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Stop performs graceful shutdown of the listener and background workers.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("⚠️ HTTP shutdown: %v", err)
		}
	}
	s.wsHub.Stop()
	s.seats.Stop()
	s.rateLimiter.Stop()
	s.proposeLimiter.Stop()
}
