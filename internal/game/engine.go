package game

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"loa-board/internal/config"
)

// Journal persists committed commands. Implementations must not block:
// they are called while the engine holds its lock.
type Journal interface {
	BeginMatch(matchID string, rules config.RulesConfig)
	Append(matchID string, cmds []Command)
}

// EngineConfig holds engine construction options.
type EngineConfig struct {
	Rules   config.RulesConfig
	Journal Journal // optional
}

// Engine is the match authority. It resolves one proposal at a time and
// fans the resulting commands out to every subscriber in order.
type Engine struct {
	mu      sync.Mutex
	rules   config.RulesConfig
	match   *Match
	history []Command // current match, for late joiners

	subscribers []func([]Command)
	journal     Journal

	snapshots SnapshotStore
	eventLog  *EventLog
}

// NewEngine creates an engine with a fresh match awaiting its players.
// A zero ruleset means config.DefaultRules.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Rules.BoardWidth == 0 && cfg.Rules.BoardHeight == 0 {
		cfg.Rules = config.DefaultRules()
	}
	e := &Engine{
		rules:    cfg.Rules,
		journal:  cfg.Journal,
		eventLog: NewEventLog(),
	}
	e.mu.Lock()
	e.newMatchLocked()
	e.mu.Unlock()
	return e
}

// OnCommands registers a subscriber for committed command batches.
// Subscribers run under the engine lock and must not block or call back
// into the engine.
func (e *Engine) OnCommands(fn func([]Command)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// Rules returns the ruleset matches are created with.
func (e *Engine) Rules() config.RulesConfig {
	return e.rules
}

// MatchID returns the id of the current match.
func (e *Engine) MatchID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.match.State().MatchID
}

// NewMatch discards the current match and sets up a new one. The started
// flag carries over so seated players keep playing.
func (e *Engine) NewMatch() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := e.match.State().Turn.Started
	id := e.newMatchLocked()
	if started {
		e.match.SetStarted(true)
		e.commitLocked("start", NoTeam, nil)
	}
	return id
}

func (e *Engine) newMatchLocked() string {
	var seq uint64
	if e.match != nil {
		seq = e.match.State().Seq
	}
	id := uuid.NewString()
	e.match = NewMatch(id, e.rules, seq)
	e.history = nil
	if e.journal != nil {
		e.journal.BeginMatch(id, e.rules)
	}
	e.eventLog.EmitSimple(EventTypeMatchCreated, id, 0, "", e.rules)
	e.commitLocked("new_match", NoTeam, nil)
	log.Printf("🎲 New match %s (%dx%d)", id, e.rules.BoardWidth, e.rules.BoardHeight)
	return id
}

// SetStarted starts or pauses the match (both seats taken / a seat released).
func (e *Engine) SetStarted(started bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.match.SetStarted(started)
	e.commitLocked("start", NoTeam, nil)
	if started {
		e.eventLog.EmitSimple(EventTypeMatchStarted, e.match.State().MatchID, e.match.State().Turn.Index, "", nil)
	}
}

// =============================================================================
// PROPOSALS
// =============================================================================

// ProposeMove resolves a move of unit id to target.
func (e *Engine) ProposeMove(team Team, id UnitID, target Pos) (MoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.match.Move(team, id, target)
	e.commitLocked("move", team, err)
	return res, err
}

// ProposeEvolve replaces a spirit with an evolved kind.
func (e *Engine) ProposeEvolve(team Team, id UnitID, kind Kind) error {
	return e.do("evolve", team, func(m *Match) error { return m.Evolve(team, id, kind) })
}

// ProposeResurrect spawns a spirit next to the team's mask.
func (e *Engine) ProposeResurrect(team Team, anchor UnitID, target Pos) error {
	return e.do("resurrect", team, func(m *Match) error { return m.Resurrect(team, anchor, target) })
}

// ProposeStealStart opens a steal window for team.
func (e *Engine) ProposeStealStart(team Team) error {
	return e.do("steal", team, func(m *Match) error { return m.StealStart(team) })
}

// ProposeMark marks an enemy spirit.
func (e *Engine) ProposeMark(team Team, target UnitID) error {
	return e.do("mark", team, func(m *Match) error { return m.Mark(team, target) })
}

// ProposeBoostStart activates the passive boost.
func (e *Engine) ProposeBoostStart(team Team) error {
	return e.do("boost", team, func(m *Match) error { return m.BoostStart(team) })
}

// ProposePassTurn refills a ritual point and ends the turn.
func (e *Engine) ProposePassTurn(team Team) error {
	return e.do("pass", team, func(m *Match) error { return m.PassTurn(team) })
}

// ProposeSkipExtraMove declines a pending extra move.
func (e *Engine) ProposeSkipExtraMove(team Team) error {
	return e.do("skip_extra", team, func(m *Match) error { return m.SkipExtraMove(team) })
}

// ForceEndTurn is the authority's own end-turn shortcut.
func (e *Engine) ForceEndTurn() error {
	return e.do("force_end_turn", NoTeam, func(m *Match) error { return m.ForceEndTurn() })
}

func (e *Engine) do(action string, team Team, fn func(*Match) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := fn(e.match)
	e.commitLocked(action, team, err)
	return err
}

// commitLocked publishes the commands produced by the last operation.
// A rejected operation produces none.
func (e *Engine) commitLocked(action string, team Team, opErr error) {
	s := e.match.State()
	cmds := e.match.Flush()

	if opErr != nil {
		e.eventLog.EmitSimple(EventTypeRejected, s.MatchID, s.Turn.Index, team.String(),
			RejectedPayload{Action: action, Team: team, Reason: opErr.Error()})
		if len(cmds) > 0 {
			log.Printf("⚠️ %s rejected after emitting %d commands", action, len(cmds))
		}
		return
	}
	if len(cmds) == 0 {
		return
	}

	e.history = append(e.history, cmds...)
	if e.journal != nil {
		e.journal.Append(s.MatchID, cmds)
	}
	for _, fn := range e.subscribers {
		fn(cmds)
	}
	e.snapshots.Publish(NewSnapshot(s))

	e.eventLog.EmitSimple(EventTypeProposal, s.MatchID, s.Turn.Index, team.String(), ProposalPayload{
		Action:   action,
		Team:     team,
		FirstSeq: cmds[0].Seq,
		LastSeq:  cmds[len(cmds)-1].Seq,
	})
	for _, c := range cmds {
		e.eventLog.EmitSimple(EventTypeCommand, s.MatchID, s.Turn.Index, "", c)
		if c.Type == CmdMatchEnded {
			e.eventLog.EmitSimple(EventTypeMatchEnded, s.MatchID, s.Turn.Index, "",
				MatchEndedPayload{Winner: c.Team, TurnIndex: s.Turn.Index})
		}
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// GetSnapshot returns the latest immutable snapshot without locking.
func (e *Engine) GetSnapshot() *MatchSnapshot {
	return e.snapshots.Load()
}

// History returns the current match's commands with Seq > after.
func (e *Engine) History(after uint64) []Command {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Command, 0, len(e.history))
	for _, c := range e.history {
		if c.Seq > after {
			out = append(out, c)
		}
	}
	return out
}

// SubscribeFrom atomically returns the history after seq and registers fn
// for every later batch, so a subscriber never misses or repeats a command.
func (e *Engine) SubscribeFrom(after uint64, fn func([]Command)) []Command {
	e.mu.Lock()
	defer e.mu.Unlock()

	var backlog []Command
	for _, c := range e.history {
		if c.Seq > after {
			backlog = append(backlog, c)
		}
	}
	e.subscribers = append(e.subscribers, fn)
	return backlog
}

// LegalTargets returns the cells team may move unit id to right now.
func (e *Engine) LegalTargets(team Team, id UnitID) ([]Pos, Mode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.match.LegalTargets(team, id)
}

// RawMoves returns the unit's raw move set regardless of turn context.
func (e *Engine) RawMoves(id UnitID) ([]Pos, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.match.State()
	u := s.Board.Unit(id)
	if u == nil {
		return nil, ErrUnknownUnit
	}
	return GenerateMoves(s.Board, u, s.Pools.Shadow[u.Team]), nil
}

// BoardString renders the current board for logs and debugging.
func (e *Engine) BoardString() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.match.State().Board.String()
}

// IsRejection reports whether err is a proposal rejection (as opposed to a
// transport or decoding failure).
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var rejections = []error{
	ErrNotStarted, ErrMatchOver, ErrUnknownUnit, ErrOutOfBounds, ErrUnknownKind,
	ErrNotYourTurn, ErrNotYourUnit, ErrStealWindowOpen, ErrChainOpen, ErrNoChain,
	ErrIllegalTarget, ErrIndestructible, ErrLocked, ErrInsufficientFunds,
	ErrNotAdjacent, ErrCellOccupied, ErrUnitCap, ErrAlreadyActive,
	ErrRitualUnavailable, ErrInvalidMarkTarget, ErrAlreadyEvolved, ErrEvolutionRefused,
}

// =============================================================================
// EVENT LOG
// =============================================================================

// StartEventLog initializes the event logging system
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog gracefully stops the event logging system
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns event log statistics for monitoring
func (e *Engine) GetEventLogStats() map[string]any {
	return e.eventLog.GetStats()
}

// RecordSeat logs a seat change in the event log.
func (e *Engine) RecordSeat(team Team, joined bool, name string) {
	e.mu.Lock()
	s := e.match.State()
	id, turn := s.MatchID, s.Turn.Index
	e.mu.Unlock()
	e.eventLog.EmitSimple(EventTypeSeat, id, turn, team.String(), SeatPayload{Team: team, Joined: joined, Name: name})
}
