package game

import (
	"sync/atomic"
	"time"
)

// UnitSnapshot is an immutable copy of a live unit for clients
type UnitSnapshot struct {
	ID             UnitID `json:"id"`
	Team           Team   `json:"team"`
	Kind           Kind   `json:"kind"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	TempRangeBonus int    `json:"tempRangeBonus"`
	CaptureStacks  int    `json:"captureStacks,omitempty"`
	IdleTurns      int    `json:"idleTurns,omitempty"`
	Marked         bool   `json:"marked,omitempty"`
}

// MatchSnapshot is a complete immutable match state.
// Everything a participant needs to render or query turn ownership.
type MatchSnapshot struct {
	MatchID   string    `json:"matchId"`
	Sequence  uint64    `json:"seq"`       // Last applied command
	Timestamp time.Time `json:"timestamp"` // When snapshot was created
	Width     int       `json:"width"`
	Height    int       `json:"height"`

	Turn   TurnState `json:"turn"`
	Pools  Pools     `json:"pools"`
	Ended  bool      `json:"ended"`
	Winner Team      `json:"winner"`

	Units []UnitSnapshot `json:"units"`

	// Aggregate stats
	AliveCount [2]int `json:"aliveCount"`
}

// NewSnapshot copies s into an immutable snapshot.
func NewSnapshot(s *State) *MatchSnapshot {
	snap := &MatchSnapshot{
		MatchID:   s.MatchID,
		Sequence:  s.Seq,
		Timestamp: time.Now(),
		Width:     s.Board.Width(),
		Height:    s.Board.Height(),
		Turn:      s.Turn,
		Pools:     s.Pools,
		Ended:     s.Ended,
		Winner:    s.Winner,
	}

	units := s.Board.Units()
	snap.Units = make([]UnitSnapshot, 0, len(units))
	for _, u := range units {
		snap.Units = append(snap.Units, UnitSnapshot{
			ID:             u.ID,
			Team:           u.Team,
			Kind:           u.Kind,
			X:              u.Pos.X,
			Y:              u.Pos.Y,
			TempRangeBonus: u.TempRangeBonus,
			CaptureStacks:  u.CaptureStacks,
			IdleTurns:      u.IdleTurns,
			Marked:         s.Turn.Mark.Active && s.Turn.Mark.Target == u.ID,
		})
		if u.Team.Valid() {
			snap.AliveCount[u.Team]++
		}
	}
	return snap
}

// SnapshotStore publishes the latest snapshot for lock-free readers.
// The writer is always the engine under its mutex.
type SnapshotStore struct {
	current atomic.Pointer[MatchSnapshot]
}

// Publish replaces the current snapshot.
func (p *SnapshotStore) Publish(snap *MatchSnapshot) {
	p.current.Store(snap)
}

// Load returns the latest snapshot, or nil before the first publish.
func (p *SnapshotStore) Load() *MatchSnapshot {
	return p.current.Load()
}
