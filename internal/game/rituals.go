package game

import (
	"fmt"
	"log"
)

// turnOwner checks the preconditions shared by every turn-consuming action
// other than a move: the match is live, no overlay is pending and requester
// owns the turn.
func (m *Match) turnOwner(requester Team) error {
	if err := m.live(); err != nil {
		return err
	}
	ts := &m.state.Turn
	if ts.Steal != NoTeam {
		return ErrStealWindowOpen
	}
	if requester != ts.Current {
		return ErrNotYourTurn
	}
	if ts.Chain.Open() {
		return ErrChainOpen
	}
	return nil
}

// ritualOwner adds the lock check to turnOwner.
func (m *Match) ritualOwner(requester Team) error {
	if err := m.turnOwner(requester); err != nil {
		return err
	}
	if m.state.Turn.Locked(requester) {
		return fmt.Errorf("%s for %d turns: %w", requester, m.state.Turn.Locks[requester], ErrLocked)
	}
	return nil
}

// checkRitual verifies requester can pay cost ritual points.
func (m *Match) checkRitual(requester Team, cost int) error {
	pools := m.state.Pools
	if pools.Ritual[requester] < cost {
		return fmt.Errorf("ritual points %d < %d: %w", pools.Ritual[requester], cost, ErrInsufficientFunds)
	}
	return nil
}

// Resurrect spawns a spirit next to the requester's mask.
func (m *Match) Resurrect(requester Team, anchorID UnitID, to Pos) error {
	if err := m.ritualOwner(requester); err != nil {
		return err
	}
	if !Profile(requester).CanResurrect {
		return ErrRitualUnavailable
	}
	b := m.state.Board
	anchor := b.Unit(anchorID)
	if anchor == nil {
		return fmt.Errorf("anchor %d: %w", anchorID, ErrUnknownUnit)
	}
	if anchor.Team != requester || !anchor.Has(CapMask) {
		return fmt.Errorf("unit %d is not your mask: %w", anchorID, ErrIllegalTarget)
	}
	if n := len(b.TeamUnits(requester)); n >= m.rules.MaxUnitsPerTeam {
		return fmt.Errorf("%d units: %w", n, ErrUnitCap)
	}
	if !b.InBounds(to) {
		return fmt.Errorf("target %s: %w", to, ErrOutOfBounds)
	}
	if !b.Empty(to) {
		return fmt.Errorf("target %s: %w", to, ErrCellOccupied)
	}
	if !Adjacent(to, anchor.Pos) {
		return fmt.Errorf("target %s, mask %s: %w", to, anchor.Pos, ErrNotAdjacent)
	}
	pools := m.state.Pools
	if pools.Shadow[requester] < m.rules.CostResurrectShadow {
		return fmt.Errorf("shadow %d < %d: %w", pools.Shadow[requester], m.rules.CostResurrectShadow, ErrInsufficientFunds)
	}
	if err := m.checkRitual(requester, m.rules.CostResurrectRitual); err != nil {
		return err
	}

	pools.Shadow[requester] -= m.rules.CostResurrectShadow
	pools.Ritual[requester] -= m.rules.CostResurrectRitual
	id := m.spawn(requester, KindSpirit, to)
	m.setPools(pools)
	log.Printf("🪦 %s resurrected spirit %d at %s", requester, id, to)
	m.endTurn()
	return nil
}

// StealStart opens the steal window for requester and ends its turn. The
// opponent's next turn is then played by requester with one enemy unit.
func (m *Match) StealStart(requester Team) error {
	if err := m.live(); err != nil {
		return err
	}
	if m.state.Turn.Steal != NoTeam {
		return fmt.Errorf("steal: %w", ErrAlreadyActive)
	}
	if err := m.ritualOwner(requester); err != nil {
		return err
	}
	if !Profile(requester).CanSteal {
		return ErrRitualUnavailable
	}
	if err := m.checkRitual(requester, m.rules.CostStealRitual); err != nil {
		return err
	}

	pools := m.state.Pools
	pools.Ritual[requester] -= m.rules.CostStealRitual
	m.setPools(pools)
	m.emit(Command{Type: CmdStealWindow, Team: requester})
	log.Printf("🕳️ %s opened a steal window", requester)
	m.endTurn()
	return nil
}

// Mark places the timed mark on an enemy spirit.
func (m *Match) Mark(requester Team, targetID UnitID) error {
	if err := m.ritualOwner(requester); err != nil {
		return err
	}
	if !Profile(requester).CanMark {
		return ErrRitualUnavailable
	}
	if m.state.Turn.Mark.Active {
		return fmt.Errorf("mark: %w", ErrAlreadyActive)
	}
	b := m.state.Board
	target := b.Unit(targetID)
	if target == nil {
		return fmt.Errorf("target %d: %w", targetID, ErrUnknownUnit)
	}
	if target.Team == requester || !target.Has(CapSpirit) {
		return fmt.Errorf("unit %d: %w", targetID, ErrInvalidMarkTarget)
	}
	for _, own := range b.TeamUnits(requester) {
		if own.Has(CapSpirit) && Adjacent(own.Pos, target.Pos) {
			return fmt.Errorf("unit %d is next to spirit %d: %w", targetID, own.ID, ErrInvalidMarkTarget)
		}
	}
	if err := m.checkRitual(requester, m.rules.CostMarkRitual); err != nil {
		return err
	}

	pools := m.state.Pools
	pools.Ritual[requester] -= m.rules.CostMarkRitual
	m.setPools(pools)
	m.emit(Command{Type: CmdMark, Team: requester, Unit: targetID, Turns: m.rules.MarkTurns})
	log.Printf("🎯 %s marked unit %d for %d turns", requester, targetID, m.rules.MarkTurns)
	m.endTurn()
	return nil
}

// BoostStart activates the passive range boost for requester.
func (m *Match) BoostStart(requester Team) error {
	if err := m.ritualOwner(requester); err != nil {
		return err
	}
	if !Profile(requester).CanBoost {
		return ErrRitualUnavailable
	}
	if m.state.Turn.Boost.Active {
		return fmt.Errorf("boost: %w", ErrAlreadyActive)
	}
	if err := m.checkRitual(requester, m.rules.CostBoostRitual); err != nil {
		return err
	}

	pools := m.state.Pools
	pools.Ritual[requester] -= m.rules.CostBoostRitual
	m.setPools(pools)
	m.emit(Command{Type: CmdBoost, Team: requester, Turns: m.rules.BoostTurns})
	log.Printf("⚡ %s boost active for %d turns", requester, m.rules.BoostTurns)
	m.endTurn()
	return nil
}

// PassTurn refills one ritual point and ends the turn. The owner of an open
// steal window uses it to decline the steal, which only closes the window.
func (m *Match) PassTurn(requester Team) error {
	if err := m.live(); err != nil {
		return err
	}
	if steal := m.state.Turn.Steal; steal != NoTeam && steal == requester {
		m.emit(Command{Type: CmdStealWindow, Team: NoTeam})
		log.Printf("🕳️ %s declined the steal", requester)
		return nil
	}
	if err := m.turnOwner(requester); err != nil {
		return err
	}

	pools := m.state.Pools
	pools.Ritual[requester] = min(pools.Ritual[requester]+1, m.rules.MaxRitualPoints)
	m.setPools(pools)
	m.endTurn()
	return nil
}

// SkipExtraMove declines a pending extra move and ends the turn.
func (m *Match) SkipExtraMove(requester Team) error {
	if err := m.live(); err != nil {
		return err
	}
	ts := &m.state.Turn
	if !ts.Chain.Open() || ts.Chain.Team != requester {
		return ErrNoChain
	}
	m.emit(Command{Type: CmdExtraMoveChain, Team: NoTeam, Unit: NoUnit})
	m.endTurn()
	return nil
}

// ForceEndTurn is the authority's shortcut: it closes any overlay and ends
// the current turn without ownership checks.
func (m *Match) ForceEndTurn() error {
	if m.state.Ended {
		return ErrMatchOver
	}
	if m.state.Turn.Steal != NoTeam {
		m.emit(Command{Type: CmdStealWindow, Team: NoTeam})
	}
	if m.state.Turn.Chain.Open() {
		m.emit(Command{Type: CmdExtraMoveChain, Team: NoTeam, Unit: NoUnit})
	}
	m.endTurn()
	return nil
}

// Evolve replaces a spirit next to its mask with an evolved kind of the
// team's loa. Evolution always consumes the whole turn.
func (m *Match) Evolve(requester Team, id UnitID, kind Kind) error {
	if err := m.ritualOwner(requester); err != nil {
		return err
	}
	b := m.state.Board
	u := b.Unit(id)
	if u == nil {
		return fmt.Errorf("unit %d: %w", id, ErrUnknownUnit)
	}
	if u.Team != requester {
		return ErrNotYourUnit
	}
	if u.Kind != KindSpirit {
		return fmt.Errorf("%s %d: %w", u.Kind, id, ErrAlreadyEvolved)
	}
	mask := b.Mask(requester)
	if mask == nil || !Adjacent(u.Pos, mask.Pos) {
		return fmt.Errorf("unit %d: %w", id, ErrNotAdjacent)
	}

	profile := Profile(requester)
	if kind.Caps()&CapEvolved == 0 || kind.Loa() != profile.Loa {
		return fmt.Errorf("%s is not a %s evolution: %w", kind, profile.Loa, ErrEvolutionRefused)
	}
	evolved := 0
	for _, other := range b.TeamUnits(requester) {
		if other.Kind == kind {
			return fmt.Errorf("%s already on the board: %w", kind, ErrEvolutionRefused)
		}
		if other.Has(CapEvolved) {
			evolved++
		}
	}
	if limit := m.evolutionLimit(profile); limit > 0 && evolved >= limit {
		return fmt.Errorf("%d evolved units: %w", evolved, ErrEvolutionRefused)
	}
	pools := m.state.Pools
	if profile.EvolutionPaid {
		cost := kind.EvolutionCost()
		if pools.Shadow[requester] < cost {
			return fmt.Errorf("shadow %d < %d: %w", pools.Shadow[requester], cost, ErrInsufficientFunds)
		}
		pools.Shadow[requester] -= cost
	}

	pos := u.Pos
	newID := b.NextID()
	m.emit(Command{Type: CmdReplaceUnit, Unit: id, NewUnit: newID, Kind: kind, To: pos})
	if mk := m.state.Turn.Mark; mk.Active && mk.Target == id {
		m.emit(Command{Type: CmdMark, Team: mk.Team, Unit: NoUnit})
	}
	m.setPools(pools)
	log.Printf("🧬 %s spirit %d evolved into %s %d", requester, id, kind, newID)
	m.endTurn()
	return nil
}

func (m *Match) evolutionLimit(p LoaProfile) int {
	if p.Loa == LoaOgoun && m.rules.MaxOgounEvolution > 0 {
		return m.rules.MaxOgounEvolution
	}
	return p.MaxEvolved
}
