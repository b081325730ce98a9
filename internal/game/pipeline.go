package game

import (
	"fmt"
	"log"
)

// Mode is the authorization mode a move was accepted under.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeSteal
	ModeExtra
)

func (m Mode) String() string {
	switch m {
	case ModeSteal:
		return "steal"
	case ModeExtra:
		return "extra"
	}
	return "normal"
}

// MoveResult summarises an accepted move.
type MoveResult struct {
	Mode        Mode     `json:"mode"`
	Victims     []UnitID `json:"victims,omitempty"`
	ChainOpened bool     `json:"chainOpened"`
	TurnEnded   bool     `json:"turnEnded"`
}

// authorize picks the single mode under which requester may move u.
func (m *Match) authorize(requester Team, u *Unit) (Mode, error) {
	ts := &m.state.Turn

	if ts.Steal != NoTeam {
		if ts.Steal == requester && ts.Current != requester && u.Team == ts.Current {
			return ModeSteal, nil
		}
		return 0, ErrStealWindowOpen
	}
	if requester != ts.Current {
		return 0, ErrNotYourTurn
	}
	if u.Team != requester {
		return 0, ErrNotYourUnit
	}
	if ts.Chain.Open() {
		if ts.Chain.Unit == u.ID && ts.Chain.Team == requester {
			return ModeExtra, nil
		}
		return 0, ErrChainOpen
	}
	return ModeNormal, nil
}

// targets returns the legal target set of u for a mode.
func (m *Match) targets(u *Unit, mode Mode) []Pos {
	shadow := m.shadowOf(u.Team)
	if mode == ModeExtra {
		return ExtraTargets(m.state.Board, u, shadow, m.state.Turn.Boosted(u.Team))
	}
	return GenerateMoves(m.state.Board, u, shadow)
}

// LegalTargets authorizes requester for u and returns its legal target set.
func (m *Match) LegalTargets(requester Team, id UnitID) ([]Pos, Mode, error) {
	if err := m.live(); err != nil {
		return nil, 0, err
	}
	u := m.state.Board.Unit(id)
	if u == nil {
		return nil, 0, fmt.Errorf("unit %d: %w", id, ErrUnknownUnit)
	}
	mode, err := m.authorize(requester, u)
	if err != nil {
		return nil, 0, err
	}
	return m.targets(u, mode), mode, nil
}

// Move resolves a move proposal. Every check runs before the first command
// is emitted; after that the whole consequence set is committed.
func (m *Match) Move(requester Team, id UnitID, to Pos) (MoveResult, error) {
	if err := m.live(); err != nil {
		return MoveResult{}, err
	}
	b := m.state.Board
	u := b.Unit(id)
	if u == nil {
		return MoveResult{}, fmt.Errorf("unit %d: %w", id, ErrUnknownUnit)
	}
	mode, err := m.authorize(requester, u)
	if err != nil {
		return MoveResult{}, err
	}
	if !b.InBounds(to) {
		return MoveResult{}, fmt.Errorf("target %s: %w", to, ErrOutOfBounds)
	}
	if occ := b.Occupant(to); occ != nil {
		if occ.Team == u.Team {
			return MoveResult{}, fmt.Errorf("target %s holds an ally: %w", to, ErrIllegalTarget)
		}
		if occ.Has(CapIndestructible) {
			return MoveResult{}, fmt.Errorf("target %s: %w", to, ErrIndestructible)
		}
	}
	if !Contains(m.targets(u, mode), to) {
		return MoveResult{}, fmt.Errorf("%s %d to %s: %w", u.Kind, id, to, ErrIllegalTarget)
	}

	// Authorized: plan, then commit in fixed order.
	from := u.Pos
	team := u.Team
	fx := planMove(b, u, to, m.rules.ForwardScanRequiresCapture)
	res := MoveResult{Mode: mode}

	var fallen []fallenUnit
	captures := 0
	if len(fx.secondary) > 0 {
		fallen = append(fallen, m.fallen(fx.secondary)...)
		captures += len(fx.secondary)
		m.emit(Command{Type: CmdApplySecondaryVictims, Team: team, Victims: fx.secondary})
	}
	if fx.primary != NoUnit {
		fallen = append(fallen, m.fallen([]UnitID{fx.primary})...)
		captures++
	}
	m.emit(Command{Type: CmdApplyPrimaryMove, Unit: id, Team: team, From: from, To: to, Victim: fx.primary})
	log.Printf("⚔️ %s %s %d %s -> %s (%s)", team, u.Kind, id, from, to, mode)

	if len(fx.pushes) > 0 || len(fx.pushKills) > 0 {
		fallen = append(fallen, m.fallen(fx.pushKills)...)
		captures += len(fx.pushKills)
		m.emit(Command{Type: CmdApplyPush, Team: team, Pushes: fx.pushes, Victims: fx.pushKills})
	}
	if len(fx.aura) > 0 {
		fallen = append(fallen, m.fallen(fx.aura)...)
		m.emit(Command{Type: CmdApplyAuraKills, Team: NoTeam, Victims: fx.aura})
	}
	for _, f := range fallen {
		res.Victims = append(res.Victims, f.id)
	}

	mover := b.Unit(id)
	if m.afterDeaths(fallen, mover, captures) {
		return res, nil
	}
	if mover != nil {
		m.awardBonusCell(mover)
	}

	switch {
	case mode == ModeSteal:
		m.emit(Command{Type: CmdStealWindow, Team: NoTeam})
		m.endTurn()
		res.TurnEnded = true

	case fx.anyKill() && Profile(team).ExtraMove && mode == ModeNormal && !fx.moverDies:
		if mover != nil && len(m.targets(mover, ModeExtra)) > 0 {
			m.emit(Command{Type: CmdExtraMoveChain, Team: team, Unit: id})
			log.Printf("🔁 %s %d earned an extra move", mover.Kind, id)
			res.ChainOpened = true
		} else {
			m.endTurn()
			res.TurnEnded = true
		}

	case mode == ModeExtra:
		m.emit(Command{Type: CmdExtraMoveChain, Team: NoTeam, Unit: NoUnit})
		m.endTurn()
		res.TurnEnded = true

	default:
		m.endTurn()
		res.TurnEnded = true
	}
	return res, nil
}

// awardBonusCell grants shadow for finishing a move on a bonus cell.
func (m *Match) awardBonusCell(u *Unit) {
	if !m.bonus[u.Pos] || !Profile(u.Team).ShadowIncome {
		return
	}
	if m.rules.BonusCellsOnce {
		if m.state.BonusClaimed(u.Pos) {
			return
		}
		m.emit(Command{Type: CmdBonusClaimed, Team: u.Team, To: u.Pos})
	}
	pools := m.state.Pools
	pools.Shadow[u.Team]++
	m.setPools(pools)
	log.Printf("✨ %s claimed bonus cell %s", u.Team, u.Pos)
}
