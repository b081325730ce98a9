package game

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"loa-board/internal/config"
)

// Match is the authority-side rules engine for one match. It validates
// proposals against its State and produces the commands that mutate it.
// Match is not safe for concurrent use; Engine serializes access.
type Match struct {
	rules config.RulesConfig
	bonus map[Pos]bool
	state *State

	pending []Command
}

// NewMatch creates a match, emitting the new_match command and the initial
// layout. seq is the last sequence number already handed out.
func NewMatch(id string, rules config.RulesConfig, seq uint64) *Match {
	m := &Match{
		rules: rules,
		bonus: ParseBonusCells(rules.BonusCells),
		state: NewState(),
	}
	m.state.Seq = seq

	m.emit(Command{Type: CmdNewMatch, MatchID: id, Width: rules.BoardWidth, Height: rules.BoardHeight})
	for _, sp := range InitialLayout(rules.BoardWidth, rules.BoardHeight) {
		m.spawn(sp.Team, sp.Kind, sp.Pos)
	}
	m.setPools(Pools{Ritual: [2]int{rules.MaxRitualPoints, rules.MaxRitualPoints}})
	return m
}

// State returns the live state. Callers must not mutate it.
func (m *Match) State() *State { return m.state }

// Rules returns the ruleset the match was created with.
func (m *Match) Rules() config.RulesConfig { return m.rules }

// Flush returns and clears the commands produced since the last call.
func (m *Match) Flush() []Command {
	out := m.pending
	m.pending = nil
	return out
}

// emit assigns the next sequence number, applies the command and queues it
// for broadcast.
func (m *Match) emit(c Command) {
	c.Seq = m.state.Seq + 1
	if err := m.state.Apply(c); err != nil {
		log.Printf("⚠️ Dropping command %s: %v", c.Type, err)
		return
	}
	m.state.Seq = c.Seq
	m.pending = append(m.pending, c)
}

func (m *Match) spawn(team Team, kind Kind, p Pos) UnitID {
	id := m.state.Board.NextID()
	m.emit(Command{Type: CmdSpawnUnit, Unit: id, Team: team, Kind: kind, To: p})
	return id
}

func (m *Match) setPools(p Pools) {
	if p == m.state.Pools {
		return
	}
	m.emit(Command{Type: CmdPools, Pools: &p})
}

func (m *Match) syncUnit(u *Unit, sync UnitSync) {
	cur := UnitSync{
		TempRangeBonus: u.TempRangeBonus,
		Buffed:         u.Buffed,
		CaptureStacks:  u.CaptureStacks,
		IdleTurns:      u.IdleTurns,
	}
	if cur == sync {
		return
	}
	m.emit(Command{Type: CmdSyncUnit, Unit: u.ID, Team: u.Team, Sync: &sync})
}

// SetStarted toggles the started flag.
func (m *Match) SetStarted(started bool) {
	if m.state.Ended || m.state.Turn.Started == started {
		return
	}
	m.emit(Command{Type: CmdMatchStarted, Started: started})
}

// live rejects proposals while the match is not in play.
func (m *Match) live() error {
	switch {
	case m.state.Ended:
		return ErrMatchOver
	case !m.state.Turn.Started:
		return ErrNotStarted
	}
	return nil
}

// shadowOf returns the shadow pool of t.
func (m *Match) shadowOf(t Team) int {
	if !t.Valid() {
		return 0
	}
	return m.state.Pools.Shadow[t]
}

// Spawn is one entry of the initial layout.
type Spawn struct {
	Team Team
	Kind Kind
	Pos  Pos
}

// InitialLayout returns the opening position: each side fields its mask on
// the centre of its home row, four spirits around it and two in front.
func InitialLayout(width, height int) []Spawn {
	c := width / 2
	var out []Spawn
	add := func(t Team, k Kind, x, y int) {
		if x < 0 || x >= width || y < 0 || y >= height {
			return
		}
		out = append(out, Spawn{Team: t, Kind: k, Pos: Pos{x, y}})
	}

	for _, t := range []Team{TeamRed, TeamBlue} {
		home, front := 0, 1
		if t == TeamBlue {
			home, front = height-1, height-2
		}
		for _, dx := range []int{-2, -1, 1, 2} {
			add(t, KindSpirit, c+dx, home)
		}
		add(t, Profile(t).Mask, c, home)
		add(t, KindSpirit, c-1, front)
		add(t, KindSpirit, c+1, front)
	}
	return out
}

// ParseBonusCells parses "x:y" entries. Malformed entries are skipped.
func ParseBonusCells(entries []string) map[Pos]bool {
	cells := make(map[Pos]bool, len(entries))
	for _, entry := range entries {
		p, err := parseCell(entry)
		if err != nil {
			log.Printf("⚠️ Ignoring bonus cell %q: %v", entry, err)
			continue
		}
		cells[p] = true
	}
	return cells
}

func parseCell(cell string) (Pos, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(cell), ":")
	if !ok {
		return Pos{}, fmt.Errorf("expected x:y")
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return Pos{}, err
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Pos{}, err
	}
	return Pos{x, y}, nil
}
