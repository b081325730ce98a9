package game

// Push is a pending forced displacement.
type Push struct {
	Unit UnitID `json:"unit"`
	To   Pos    `json:"to"`
}

// moveEffects is everything a single move does besides relocating the mover.
type moveEffects struct {
	primary   UnitID
	secondary []UnitID
	pushes    []Push
	pushKills []UnitID
	aura      []UnitID
	moverDies bool
}

func (fx *moveEffects) anyKill() bool {
	return fx.primary != NoUnit || len(fx.secondary) > 0
}

// isVictim reports whether id already dies from the capture or its side effects.
func (fx *moveEffects) isVictim(id UnitID) bool {
	if id == fx.primary {
		return true
	}
	for _, v := range fx.secondary {
		if v == id {
			return true
		}
	}
	return false
}

// SecondaryVictims runs the kind's special-effect hook for a legal move.
// primary is the unit captured at the destination, or NoUnit.
func SecondaryVictims(b *Board, mover *Unit, from, to Pos, primary UnitID, scanRequiresCapture bool) []UnitID {
	switch {
	case mover.Has(CapCornerScan):
		return cornerScan(b, mover, from, to, primary)
	case mover.Has(CapPathScan):
		if scanRequiresCapture && primary == NoUnit {
			return nil
		}
		return pathScan(b, mover, from, to, primary)
	}
	return nil
}

// cornerScan finds the enemy on the elbow of a capturing L move.
func cornerScan(b *Board, mover *Unit, from, to Pos, primary UnitID) []UnitID {
	if primary == NoUnit {
		return nil
	}
	d := to.Sub(from)
	corner := Pos{from.X, from.Y + d.Y}
	if abs(d.X) == 2 {
		corner = Pos{from.X + d.X, from.Y}
	}
	if v := secondaryAt(b, mover, corner, primary); v != NoUnit {
		return []UnitID{v}
	}
	return nil
}

// pathScan collects enemies strictly between from and to along the mover's
// forward axis, wrapping on Y.
func pathScan(b *Board, mover *Unit, from, to Pos, primary UnitID) []UnitID {
	if to.X != from.X {
		return nil
	}
	dir := mover.Team.Forward()
	h := b.Height()
	n := (((to.Y-from.Y)*dir)%h + h) % h
	if n < 1 || n > 3 {
		return nil
	}
	var victims []UnitID
	for i := 1; i < n; i++ {
		p := Pos{from.X, b.WrapY(from.Y + dir*i)}
		if v := secondaryAt(b, mover, p, primary); v != NoUnit {
			victims = append(victims, v)
		}
	}
	return victims
}

func secondaryAt(b *Board, mover *Unit, p Pos, primary UnitID) UnitID {
	occ := b.Occupant(p)
	if occ == nil || occ.ID == primary || occ.Team == mover.Team || occ.Has(CapIndestructible) {
		return NoUnit
	}
	return occ.ID
}

// planPush computes the forceful displacement around to. Every enemy
// neighbour is pushed one cell outward, or dies in place when the landing is
// off-board or will still be occupied once the move is committed.
func planPush(b *Board, mover *Unit, from, to Pos, fx *moveEffects) {
	emptyAfter := func(p Pos) bool {
		switch {
		case !b.InBounds(p):
			return false
		case p == from:
			return true
		case p == to:
			return false
		}
		occ := b.At(p)
		return occ == NoUnit || fx.isVictim(occ)
	}

	for _, d := range kingDirs {
		n := to.Add(d)
		occ := b.Occupant(n)
		if occ == nil || occ.Team == mover.Team || occ.Has(CapIndestructible) || fx.isVictim(occ.ID) {
			continue
		}
		landing := n.Add(d.Clamp())
		if emptyAfter(landing) {
			fx.pushes = append(fx.pushes, Push{Unit: occ.ID, To: landing})
		} else {
			fx.pushKills = append(fx.pushKills, occ.ID)
		}
	}
}

// auraKiller reports whether p sits orthogonally next to an adjacency killer
// hostile to team t.
func auraKiller(b *Board, t Team, p Pos) bool {
	for _, d := range orthDirs {
		k := b.Occupant(p.Add(d))
		if k != nil && k.Team != t && k.Has(CapAdjacencyKiller) {
			return true
		}
	}
	return false
}

// planAura marks the mover and every displaced unit that ends next to an
// enemy adjacency killer. Killers are immobile and indestructible, so the
// current board already shows where they stand.
func planAura(b *Board, mover *Unit, to Pos, fx *moveEffects) {
	if auraKiller(b, mover.Team, to) {
		fx.moverDies = true
		fx.aura = append(fx.aura, mover.ID)
	}
	for _, p := range fx.pushes {
		u := b.Unit(p.Unit)
		if u != nil && auraKiller(b, u.Team, p.To) {
			fx.aura = append(fx.aura, u.ID)
		}
	}
}

// planMove computes the full consequence set of moving mover to to.
func planMove(b *Board, mover *Unit, to Pos, scanRequiresCapture bool) *moveEffects {
	fx := &moveEffects{}
	from := mover.Pos
	if occ := b.Occupant(to); occ != nil {
		fx.primary = occ.ID
	}
	fx.secondary = SecondaryVictims(b, mover, from, to, fx.primary, scanRequiresCapture)
	if mover.Has(CapForceful) {
		planPush(b, mover, from, to, fx)
	}
	planAura(b, mover, to, fx)
	return fx
}
