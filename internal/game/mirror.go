package game

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSequenceGap means the mirror missed commands and must resync.
var ErrSequenceGap = errors.New("command sequence gap")

// Mirror is a read-only replica of the authority's state. It applies the
// command stream in order; duplicates are ignored and gaps are reported.
type Mirror struct {
	mu    sync.RWMutex
	state *State
}

// NewMirror returns an empty mirror. It accepts any new_match command as a
// starting point.
func NewMirror() *Mirror {
	return &Mirror{state: NewState()}
}

// Apply applies one command.
func (m *Mirror) Apply(c Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(c)
}

// ApplyAll applies a batch, stopping at the first error.
func (m *Mirror) ApplyAll(cmds []Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		if err := m.applyLocked(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) applyLocked(c Command) error {
	s := m.state
	resync := c.Type == CmdNewMatch
	if !resync {
		if s.MatchID == "" {
			return fmt.Errorf("%w: %s %d before new_match", ErrSequenceGap, c.Type, c.Seq)
		}
		if c.Seq <= s.Seq {
			return nil
		}
		if c.Seq != s.Seq+1 {
			return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, s.Seq, c.Seq)
		}
	} else if c.Seq <= s.Seq && c.MatchID == s.MatchID {
		return nil
	}

	if err := s.Apply(c); err != nil {
		return err
	}
	s.Seq = c.Seq
	return nil
}

// Seq returns the last applied sequence number.
func (m *Mirror) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Seq
}

// Snapshot returns an immutable copy of the mirrored state.
func (m *Mirror) Snapshot() *MatchSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return NewSnapshot(m.state)
}

// View runs fn with read access to the mirrored state.
func (m *Mirror) View(fn func(*State)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

// Replay builds a mirror from a recorded command stream.
func Replay(cmds []Command) (*Mirror, error) {
	m := NewMirror()
	if err := m.ApplyAll(cmds); err != nil {
		return nil, err
	}
	return m, nil
}

// BoardString renders the mirrored board.
func (m *Mirror) BoardString() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Board.String()
}
