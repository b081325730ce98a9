package game

import (
	"errors"
	"fmt"
)

// ErrMalformedCommand is returned by Apply for commands that can never apply.
var ErrMalformedCommand = errors.New("malformed command")

// Chain is the extra-move overlay.
type Chain struct {
	Team Team   `json:"team"`
	Unit UnitID `json:"unit"`
}

// Open reports whether a chain is pending.
func (c Chain) Open() bool { return c.Unit != NoUnit }

// Mark is the timed debuff placed on an enemy unit.
type Mark struct {
	Active    bool   `json:"active"`
	Team      Team   `json:"team"` // marking side
	Target    UnitID `json:"target"`
	TurnsLeft int    `json:"turnsLeft"`
}

// Boost is the timed passive range extension.
type Boost struct {
	Active    bool `json:"active"`
	Team      Team `json:"team"`
	TurnsLeft int  `json:"turnsLeft"`
}

// TurnState is turn ownership plus every overlay.
type TurnState struct {
	Current Team   `json:"current"`
	Index   int    `json:"index"`
	Started bool   `json:"started"`
	Chain   Chain  `json:"chain"`
	Steal   Team   `json:"steal"` // owner of the steal window, NoTeam when closed
	Locks   [2]int `json:"locks"`
	Mark    Mark   `json:"mark"`
	Boost   Boost  `json:"boost"`
}

// Locked reports whether t is under a timed lock.
func (ts *TurnState) Locked(t Team) bool {
	return t.Valid() && ts.Locks[t] > 0
}

// Boosted reports whether the passive boost is active for t.
func (ts *TurnState) Boosted(t Team) bool {
	return ts.Boost.Active && ts.Boost.Team == t
}

// State is the complete match state. It is mutated only by Apply, so the
// authority and every mirror converge on the same value for the same stream.
type State struct {
	MatchID string
	Seq     uint64
	Board   *Board
	Turn    TurnState
	Pools   Pools
	Ended   bool
	Winner  Team

	bonusClaimed map[Pos]bool
	captured     [2]bool // team captured during the current turn
}

// NewState returns an empty state awaiting a new_match command.
func NewState() *State {
	return &State{
		Board: NewBoard(1, 1),
		Turn: TurnState{
			Steal: NoTeam,
			Chain: Chain{Team: NoTeam},
			Mark:  Mark{Team: NoTeam},
			Boost: Boost{Team: NoTeam},
		},
		Winner:       NoTeam,
		bonusClaimed: make(map[Pos]bool),
	}
}

// BonusClaimed reports whether the bonus cell at p was already awarded.
func (s *State) BonusClaimed(p Pos) bool { return s.bonusClaimed[p] }

// CapturedThisTurn reports whether t captured a unit during the current turn.
func (s *State) CapturedThisTurn(t Team) bool { return t.Valid() && s.captured[t] }

// Apply applies one command. Re-applying a command whose effect is already
// present is a no-op. Apply does not check Seq; see Mirror for ordering.
func (s *State) Apply(c Command) error {
	switch c.Type {
	case CmdNewMatch:
		if c.Width < 1 || c.Height < 1 {
			return fmt.Errorf("%w: board %dx%d", ErrMalformedCommand, c.Width, c.Height)
		}
		seq := s.Seq
		*s = *NewState()
		s.Seq = seq
		s.MatchID = c.MatchID
		s.Board = NewBoard(c.Width, c.Height)
		s.Turn.Current = TeamRed

	case CmdSpawnUnit:
		if s.Board.lookup(c.Unit) != nil {
			return nil
		}
		if _, err := s.Board.place(c.Unit, c.Team, c.Kind, c.To); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}

	case CmdApplySecondaryVictims, CmdApplyAuraKills, CmdDestroyUnits:
		killed := false
		for _, id := range c.Victims {
			killed = s.Board.remove(id) || killed
		}
		if killed && c.Type == CmdApplySecondaryVictims {
			s.credit(c.Team)
		}

	case CmdApplyPrimaryMove:
		if c.Victim != NoUnit && s.Board.remove(c.Victim) {
			s.credit(c.Team)
		}
		u := s.Board.Unit(c.Unit)
		if u == nil || u.Pos == c.To {
			return nil
		}
		if !s.Board.relocate(c.Unit, c.To) {
			return fmt.Errorf("%w: move %d to %s", ErrMalformedCommand, c.Unit, c.To)
		}

	case CmdApplyPush:
		killed := false
		for _, id := range c.Victims {
			killed = s.Board.remove(id) || killed
		}
		if killed {
			s.credit(c.Team)
		}
		for _, p := range c.Pushes {
			u := s.Board.Unit(p.Unit)
			if u == nil || u.Pos == p.To {
				continue
			}
			if !s.Board.relocate(p.Unit, p.To) {
				return fmt.Errorf("%w: push %d to %s", ErrMalformedCommand, p.Unit, p.To)
			}
		}

	case CmdReplaceUnit:
		if s.Board.lookup(c.NewUnit) != nil {
			return nil
		}
		old := s.Board.Unit(c.Unit)
		if old == nil {
			return fmt.Errorf("%w: replace unknown unit %d", ErrMalformedCommand, c.Unit)
		}
		team := old.Team
		s.Board.remove(c.Unit)
		if _, err := s.Board.place(c.NewUnit, team, c.Kind, c.To); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}

	case CmdSyncUnit:
		if u := s.Board.Unit(c.Unit); u != nil && c.Sync != nil {
			u.TempRangeBonus = c.Sync.TempRangeBonus
			u.Buffed = c.Sync.Buffed
			u.CaptureStacks = c.Sync.CaptureStacks
			u.IdleTurns = c.Sync.IdleTurns
		}

	case CmdTurnChanged:
		if c.Index == s.Turn.Index && c.Team == s.Turn.Current {
			return nil
		}
		s.Turn.Current = c.Team
		s.Turn.Index = c.Index
		s.startTurn()

	case CmdStealWindow:
		s.Turn.Steal = c.Team

	case CmdExtraMoveChain:
		if c.Unit == NoUnit {
			s.Turn.Chain = Chain{Team: NoTeam}
		} else {
			s.Turn.Chain = Chain{Team: c.Team, Unit: c.Unit}
		}

	case CmdMark:
		if c.Unit == NoUnit || c.Turns <= 0 {
			s.Turn.Mark = Mark{Team: NoTeam}
		} else {
			s.Turn.Mark = Mark{Active: true, Team: c.Team, Target: c.Unit, TurnsLeft: c.Turns}
		}

	case CmdBoost:
		if c.Turns <= 0 {
			s.Turn.Boost = Boost{Team: NoTeam}
		} else {
			s.Turn.Boost = Boost{Active: true, Team: c.Team, TurnsLeft: c.Turns}
		}

	case CmdLock:
		if !c.Team.Valid() {
			return fmt.Errorf("%w: lock team %d", ErrMalformedCommand, c.Team)
		}
		s.Turn.Locks[c.Team] = max(c.Turns, 0)

	case CmdPools:
		if c.Pools != nil {
			s.Pools = *c.Pools
		}

	case CmdBonusClaimed:
		s.bonusClaimed[c.To] = true

	case CmdMatchStarted:
		s.Turn.Started = c.Started

	case CmdMatchEnded:
		s.Ended = true
		s.Winner = c.Team
		s.Turn.Started = false

	default:
		return fmt.Errorf("%w: type %d", ErrMalformedCommand, c.Type)
	}
	return nil
}

func (s *State) credit(t Team) {
	if t.Valid() {
		s.captured[t] = true
	}
}

// startTurn runs the turn-start bookkeeping for the new current team.
func (s *State) startTurn() {
	ts := &s.Turn
	ts.Chain = Chain{Team: NoTeam}
	s.captured = [2]bool{}

	if ts.Mark.Active && ts.Mark.Team == ts.Current {
		ts.Mark.TurnsLeft--
		if ts.Mark.TurnsLeft <= 0 {
			ts.Mark = Mark{Team: NoTeam}
		}
	}
	if ts.Boost.Active && ts.Boost.Team == ts.Current {
		ts.Boost.TurnsLeft--
		if ts.Boost.TurnsLeft <= 0 {
			ts.Boost = Boost{Team: NoTeam}
		}
	}
	for i := range ts.Locks {
		if ts.Locks[i] > 0 {
			ts.Locks[i]--
		}
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.Board = s.Board.clone()
	c.bonusClaimed = make(map[Pos]bool, len(s.bonusClaimed))
	for p, v := range s.bonusClaimed {
		c.bonusClaimed[p] = v
	}
	return &c
}
