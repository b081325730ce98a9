package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"loa-board/internal/game"
	"loa-board/internal/proposal"
	"loa-board/internal/storage/sqlite"
)

// EngineInterface defines the engine methods used by the API.
// Keep this minimal - only include methods the API layer actually calls.
type EngineInterface interface {
	// GetSnapshot returns the latest lock-free immutable snapshot
	GetSnapshot() *game.MatchSnapshot
	// LegalTargets returns the cells team may move a unit to right now
	LegalTargets(team game.Team, id game.UnitID) ([]game.Pos, game.Mode, error)
	// RawMoves returns a unit's move set regardless of turn context
	RawMoves(id game.UnitID) ([]game.Pos, error)
	// History returns the current match's commands after seq
	History(after uint64) []game.Command
	// OnCommands registers a non-blocking subscriber for committed batches
	OnCommands(fn func([]game.Command))
	// NewMatch discards the current match and returns the new id
	NewMatch() string
	// SetStarted starts or pauses the match
	SetStarted(started bool)
	// RecordSeat logs a seat change
	RecordSeat(team game.Team, joined bool, name string)
	// GetEventLogStats returns the event log counters
	GetEventLogStats() map[string]any
}

// ProposalSubmitter resolves proposals one at a time.
type ProposalSubmitter interface {
	Submit(ctx context.Context, p proposal.Proposal) proposal.Result
}

// JournalReader reads finished and running matches back from storage.
type JournalReader interface {
	ListMatches(ctx context.Context, limit int) ([]sqlite.MatchRecord, error)
	GetMatch(ctx context.Context, matchID string) (sqlite.MatchRecord, error)
	LoadCommands(ctx context.Context, matchID string) ([]game.Command, error)
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Engine:    engine,
//	    Proposals: queue,
//	    Seats:     api.NewSeatManager("secret"),
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	ts := httptest.NewServer(api.NewRouter(cfg))
type RouterConfig struct {
	// Engine is the match authority (required)
	Engine EngineInterface

	// Proposals resolves player intents (required)
	Proposals ProposalSubmitter

	// Seats hands out the two player seats (required)
	Seats *SeatManager

	// Journal serves the match history routes. Optional: without it the
	// /api/matches routes answer 503.
	Journal JournalReader

	// AdminToken guards /api/admin. Empty disables the admin routes.
	AdminToken string

	// RateLimiter is an optional pre-configured per-IP limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *RequestLimiter

	// RateLimitConfig is optional configuration for the per-IP limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// ProposeLimiter is an optional per-seat limiter for /api/propose.
	// If nil, one is created from ProposeRateLimitConfig or
	// DefaultProposeRateLimitConfig.
	ProposeLimiter         *RequestLimiter
	ProposeRateLimitConfig *RateLimitConfig

	// Hub adds websocket counters to /stats when set.
	Hub *WebSocketHub

	// JournalStats adds the journal writer counters to /stats when set.
	JournalStats func() map[string]any

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, localhost origins are allowed.
	CORSOrigins []string

	// ProposalTimeout bounds how long a request waits for its proposal.
	ProposalTimeout time.Duration

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the dependencies of the HTTP handlers.
type routerHandlers struct {
	engine       EngineInterface
	proposals    ProposalSubmitter
	seats        *SeatManager
	journal      JournalReader
	journalStats func() map[string]any
	timeout      time.Duration

	ipLimiter      *RequestLimiter
	proposeLimiter *RequestLimiter
	hub            *WebSocketHub
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE apart from the rate limiters' cleanup
// goroutines when none are supplied:
//   - No network listeners are opened
//   - No engine subscriptions are registered
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	proposeLimiter := cfg.ProposeLimiter
	if proposeLimiter == nil {
		proposeCfg := DefaultProposeRateLimitConfig
		if cfg.ProposeRateLimitConfig != nil {
			proposeCfg = *cfg.ProposeRateLimitConfig
		}
		proposeLimiter = NewSeatRateLimiter(cfg.Seats, proposeCfg)
	}

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	timeout := cfg.ProposalTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h := &routerHandlers{
		engine:         cfg.Engine,
		proposals:      cfg.Proposals,
		seats:          cfg.Seats,
		journal:        cfg.Journal,
		journalStats:   cfg.JournalStats,
		timeout:        timeout,
		ipLimiter:      rateLimiter,
		proposeLimiter: proposeLimiter,
		hub:            cfg.Hub,
	}

	r.Route("/api", func(r chi.Router) {
		// Match state
		r.Get("/state", h.handleGetState)
		r.Get("/history", h.handleGetHistory)
		r.Get("/units/{id}/moves", h.handleGetMoves)

		// Seats
		r.Get("/seats", h.handleGetSeats)
		r.Post("/seats/join", h.handleSeatJoin)
		r.Post("/seats/leave", h.handleSeatLeave)

		// Proposals (seat token required)
		r.With(proposeLimiter.Middleware).Post("/propose/{type}", h.handlePropose)

		// Journal
		r.Get("/matches", h.handleListMatches)
		r.Get("/matches/{id}", h.handleGetMatch)
		r.Get("/matches/{id}/replay", h.handleReplay)

		// Authority shortcuts
		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminToken))
			r.Post("/end-turn", h.handleAdminEndTurn)
			r.Post("/new-match", h.handleAdminNewMatch)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/stats", h.handleGetStats)

	return r
}

// metricsMiddleware records request latency keyed by the matched route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordRequest(r.Method, endpoint, status, time.Since(start))
	})
}
