package game

import "errors"

// Rejection reasons. A rejected proposal leaves the match untouched.
var (
	// Conflict
	ErrNotStarted = errors.New("match not started")
	ErrMatchOver  = errors.New("match is over")

	// Invalid reference
	ErrUnknownUnit = errors.New("unknown unit")
	ErrOutOfBounds = errors.New("cell out of bounds")
	ErrUnknownKind = errors.New("unknown kind")

	// Rejected
	ErrNotYourTurn       = errors.New("not your turn")
	ErrNotYourUnit       = errors.New("unit belongs to another team")
	ErrStealWindowOpen   = errors.New("steal window open")
	ErrChainOpen         = errors.New("extra move pending for another unit")
	ErrNoChain           = errors.New("no extra move pending")
	ErrIllegalTarget     = errors.New("illegal target")
	ErrIndestructible    = errors.New("target is indestructible")
	ErrLocked            = errors.New("team is locked")
	ErrInsufficientFunds = errors.New("insufficient points")
	ErrNotAdjacent       = errors.New("not adjacent to anchor")
	ErrCellOccupied      = errors.New("cell occupied")
	ErrUnitCap           = errors.New("unit cap reached")
	ErrAlreadyActive     = errors.New("ritual already active")
	ErrRitualUnavailable = errors.New("ritual not available to this team")
	ErrInvalidMarkTarget = errors.New("invalid mark target")
	ErrAlreadyEvolved    = errors.New("unit cannot evolve")
	ErrEvolutionRefused  = errors.New("evolution refused")
)
