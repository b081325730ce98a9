package proposal

import (
	"fmt"
	"log"

	"loa-board/internal/game"
)

// Engine is the part of the authority the handler drives.
type Engine interface {
	ProposeMove(team game.Team, id game.UnitID, target game.Pos) (game.MoveResult, error)
	ProposeEvolve(team game.Team, id game.UnitID, kind game.Kind) error
	ProposeResurrect(team game.Team, anchor game.UnitID, target game.Pos) error
	ProposeStealStart(team game.Team) error
	ProposeMark(team game.Team, target game.UnitID) error
	ProposeBoostStart(team game.Team) error
	ProposePassTurn(team game.Team) error
	ProposeSkipExtraMove(team game.Team) error
	ForceEndTurn() error
	GetSnapshot() *game.MatchSnapshot
}

// Handler applies proposals to the engine
type Handler struct {
	engine      Engine
	rateLimiter *RateLimiter
}

// NewHandler creates a handler with the default per-seat rate limit
func NewHandler(engine Engine) *Handler {
	return NewHandlerWithLimits(engine, DefaultRateLimitConfig)
}

// NewHandlerWithLimits creates a handler with a custom per-seat rate limit
func NewHandlerWithLimits(engine Engine, cfg RateLimitConfig) *Handler {
	return &Handler{
		engine:      engine,
		rateLimiter: NewRateLimiter(cfg),
	}
}

// Stop releases the rate limiter's cleanup goroutine
func (h *Handler) Stop() {
	h.rateLimiter.Stop()
}

// Process resolves a single proposal
func (h *Handler) Process(p Proposal) Result {
	if p.Type != TypeEndTurn && !h.rateLimiter.Allow(p.Seat) {
		log.Printf("🚫 Rate limited: seat %s (%s)", p.Seat, p.Type)
		return failed(ErrRateLimited)
	}

	var (
		res game.MoveResult
		err error
	)
	switch p.Type {
	case TypeMove:
		res, err = h.engine.ProposeMove(p.Team, p.Unit, p.Target)
	case TypeEvolve:
		err = h.engine.ProposeEvolve(p.Team, p.Unit, p.Kind)
	case TypeResurrect:
		err = h.engine.ProposeResurrect(p.Team, p.Unit, p.Target)
	case TypeSteal:
		err = h.engine.ProposeStealStart(p.Team)
	case TypeMark:
		err = h.engine.ProposeMark(p.Team, p.Unit)
	case TypeBoost:
		err = h.engine.ProposeBoostStart(p.Team)
	case TypePass:
		err = h.engine.ProposePassTurn(p.Team)
	case TypeSkipExtra:
		err = h.engine.ProposeSkipExtraMove(p.Team)
	case TypeEndTurn:
		err = h.engine.ForceEndTurn()
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownType, p.Type)
	}

	if err != nil {
		if game.IsRejection(err) {
			log.Printf("⛔ %s %s rejected: %v", p.Team, p.Type, err)
		}
		return failed(err)
	}

	out := Result{Accepted: true}
	if p.Type == TypeMove {
		out.Move = &res
	}
	if snap := h.engine.GetSnapshot(); snap != nil {
		out.Sequence = snap.Sequence
	}
	return out
}

func failed(err error) Result {
	return Result{Err: err, Reason: err.Error()}
}
