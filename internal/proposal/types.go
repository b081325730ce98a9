package proposal

import (
	"errors"
	"time"

	"loa-board/internal/game"
)

var (
	ErrRateLimited  = errors.New("too many proposals")
	ErrQueueFull    = errors.New("proposal queue full")
	ErrQueueStopped = errors.New("proposal queue stopped")
	ErrUnknownType  = errors.New("unknown proposal type")
)

// Type identifies a proposal.
type Type int

const (
	TypeMove Type = iota
	TypeEvolve
	TypeResurrect
	TypeSteal
	TypeMark
	TypeBoost
	TypePass
	TypeSkipExtra
	TypeEndTurn // authority only
	TypeUnknown
)

var typeNames = [...]string{
	TypeMove:      "move",
	TypeEvolve:    "evolve",
	TypeResurrect: "resurrect",
	TypeSteal:     "steal",
	TypeMark:      "mark",
	TypeBoost:     "boost",
	TypePass:      "pass",
	TypeSkipExtra: "skip_extra",
	TypeEndTurn:   "end_turn",
	TypeUnknown:   "unknown",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// SupportedTypes maps wire names to proposal types.
var SupportedTypes = map[string]Type{
	"move": TypeMove,

	"evolve": TypeEvolve,

	"resurrect": TypeResurrect,

	"steal":       TypeSteal,
	"steal_start": TypeSteal,

	"mark": TypeMark,

	"boost":       TypeBoost,
	"boost_start": TypeBoost,

	"pass":      TypePass,
	"pass_turn": TypePass,

	"skip_extra": TypeSkipExtra,
	"skip-extra": TypeSkipExtra,

	"end_turn": TypeEndTurn,
}

// ParseType returns the proposal type for a wire name.
func ParseType(name string) Type {
	if t, ok := SupportedTypes[name]; ok {
		return t
	}
	return TypeUnknown
}

// Proposal is one player intent waiting for the authority.
type Proposal struct {
	Type Type
	Seat string    // seat session id, used for rate limiting
	Team game.Team // requesting team

	Unit   game.UnitID // move, evolve: the unit. mark: the target. resurrect: the anchor mask
	Target game.Pos    // move, resurrect
	Kind   game.Kind   // evolve

	ReceivedAt time.Time
}

// Result is the authority's answer to a proposal.
type Result struct {
	Accepted bool             `json:"accepted"`
	Move     *game.MoveResult `json:"move,omitempty"`
	Sequence uint64           `json:"sequence"`
	Reason   string           `json:"reason,omitempty"`
	Err      error            `json:"-"`
}

// Rejected reports whether the authority refused the proposal on rules
// grounds, as opposed to rate limiting or queue failures.
func (r Result) Rejected() bool {
	return !r.Accepted && game.IsRejection(r.Err)
}

// Outcome classifies the result for metrics: accepted, rejected or dropped.
func (r Result) Outcome() string {
	switch {
	case r.Accepted:
		return "accepted"
	case r.Rejected():
		return "rejected"
	}
	return "dropped"
}
