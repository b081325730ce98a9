package game

import "log"

// fallenUnit records a unit as it stood just before it was removed.
type fallenUnit struct {
	id   UnitID
	team Team
	kind Kind
	pos  Pos
}

func (m *Match) fallen(ids []UnitID) []fallenUnit {
	out := make([]fallenUnit, 0, len(ids))
	for _, id := range ids {
		if u := m.state.Board.Unit(id); u != nil {
			out = append(out, fallenUnit{id: id, team: u.Team, kind: u.Kind, pos: u.Pos})
		}
	}
	return out
}

// afterDeaths runs every death-triggered rule in a fixed order: shadow
// income, capture stacks, howls, mark lock, then victory. It reports whether
// the match ended.
func (m *Match) afterDeaths(fallen []fallenUnit, killer *Unit, captures int) bool {
	if len(fallen) == 0 {
		return false
	}
	s := m.state
	for _, f := range fallen {
		log.Printf("💀 %s %s %d fell at %s", f.team, f.kind, f.id, f.pos)
	}

	pools := s.Pools
	for _, t := range []Team{TeamRed, TeamBlue} {
		if Profile(t).ShadowIncome {
			pools.Shadow[t] += len(fallen)
		}
	}
	m.setPools(pools)

	if killer != nil && killer.Kind == KindDevoreur && captures > 0 {
		m.syncUnit(killer, UnitSync{
			TempRangeBonus: killer.TempRangeBonus,
			Buffed:         killer.Buffed,
			CaptureStacks:  min(killer.CaptureStacks+captures, 3),
			IdleTurns:      killer.IdleTurns,
		})
	}

	for _, f := range fallen {
		m.howl(f)
	}

	if mk := s.Turn.Mark; mk.Active {
		for _, f := range fallen {
			if f.id != mk.Target {
				continue
			}
			locked := mk.Team.Opponent()
			turns := max(s.Turn.Locks[locked], m.rules.LockTurns)
			m.emit(Command{Type: CmdLock, Team: locked, Turns: turns})
			m.emit(Command{Type: CmdMark, Team: mk.Team, Unit: NoUnit})
			log.Printf("🔒 Marked unit %d fell: %s locked for %d turns", f.id, locked, turns)
			break
		}
	}

	for _, f := range fallen {
		if f.kind.Caps()&CapMask != 0 {
			winner := f.team.Opponent()
			m.emit(Command{Type: CmdMatchEnded, Team: winner})
			log.Printf("🏆 %s mask destroyed, %s wins", f.team, winner)
			return true
		}
	}
	return false
}

// howl applies the Hurleur trigger for one death: every Hurleur allied to
// the fallen unit within two cells grants +1 range to allies around it,
// once per ally per turn.
func (m *Match) howl(f fallenUnit) {
	b := m.state.Board
	for _, h := range b.TeamUnits(f.team) {
		if !h.Has(CapHowls) || Chebyshev(h.Pos, f.pos) > 2 {
			continue
		}
		for _, ally := range b.TeamUnits(f.team) {
			if ally.Buffed || Chebyshev(ally.Pos, h.Pos) > 2 {
				continue
			}
			m.syncUnit(ally, UnitSync{
				TempRangeBonus: ally.TempRangeBonus + 1,
				Buffed:         true,
				CaptureStacks:  ally.CaptureStacks,
				IdleTurns:      ally.IdleTurns,
			})
		}
		log.Printf("🐺 Hurleur %d howls for %d", h.ID, f.id)
	}
}

// endTurn closes the current team's turn and starts the opponent's. Per-turn
// state belongs to the turn owner: a steal move ends the victim's turn, and
// the thief's own turn end already ran when it opened the window.
func (m *Match) endTurn() {
	s := m.state
	acting := s.Turn.Current

	if m.tickRevenants(acting) {
		return
	}

	for _, u := range s.Board.TeamUnits(acting) {
		m.syncUnit(u, UnitSync{CaptureStacks: u.CaptureStacks, IdleTurns: u.IdleTurns})
	}

	before := s.Turn
	m.emit(Command{Type: CmdTurnChanged, Team: acting.Opponent(), Index: max(1, before.Index+1)})
	after := s.Turn

	if before.Mark.Active && !after.Mark.Active {
		log.Printf("🎯 Mark on unit %d expired", before.Mark.Target)
	}
	if before.Boost.Active && !after.Boost.Active {
		log.Printf("⚡ %s boost ended", before.Boost.Team)
	}
	for _, t := range []Team{TeamRed, TeamBlue} {
		if before.Locks[t] > 0 && after.Locks[t] == 0 {
			log.Printf("🔓 %s lock lifted", t)
		}
	}

	m.flameIncome()
}

// tickRevenants advances the fuse of every Revenant of the acting team.
// A capture by one of the team's units this turn resets it; two idle turn
// ends detonate it, destroying itself and its orthogonal neighbours.
func (m *Match) tickRevenants(acting Team) bool {
	s := m.state
	for _, r := range s.Board.TeamUnits(acting) {
		if !r.Has(CapExplodes) || !r.Alive {
			continue
		}
		idle := r.IdleTurns + 1
		if s.CapturedThisTurn(acting) {
			idle = 0
		}
		if idle < 2 {
			m.syncUnit(r, UnitSync{
				TempRangeBonus: r.TempRangeBonus,
				Buffed:         r.Buffed,
				CaptureStacks:  r.CaptureStacks,
				IdleTurns:      idle,
			})
			continue
		}

		victims := []UnitID{r.ID}
		for _, d := range orthDirs {
			n := s.Board.Occupant(r.Pos.Add(d))
			if n != nil && !n.Has(CapIndestructible) {
				victims = append(victims, n.ID)
			}
		}
		log.Printf("💥 Revenant %d exploded at %s", r.ID, r.Pos)
		fallen := m.fallen(victims)
		m.emit(Command{Type: CmdDestroyUnits, Team: NoTeam, Victims: victims})
		if m.afterDeaths(fallen, nil, 0) {
			return true
		}
	}
	return false
}

// flameIncome pays +1 shadow per living Flamme at every turn start.
func (m *Match) flameIncome() {
	pools := m.state.Pools
	for _, u := range m.state.Board.Units() {
		if u.Has(CapIncome) {
			pools.Shadow[u.Team]++
		}
	}
	m.setPools(pools)
}
