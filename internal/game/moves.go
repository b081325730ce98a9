package game

// Move generation is pure: it reads the board and never mutates it.
// Turn and mode context (steal window, chain, locks) is applied by the pipeline.

// moveSet is an insertion-ordered set of cells.
type moveSet struct {
	cells []Pos
	seen  map[Pos]struct{}
}

func newMoveSet() *moveSet {
	return &moveSet{seen: make(map[Pos]struct{}, 16)}
}

func (s *moveSet) add(p Pos) {
	if _, ok := s.seen[p]; ok {
		return
	}
	s.seen[p] = struct{}{}
	s.cells = append(s.cells, p)
}

func (s *moveSet) has(p Pos) bool {
	_, ok := s.seen[p]
	return ok
}

// Contains reports whether p is in cells.
func Contains(cells []Pos, p Pos) bool {
	for _, c := range cells {
		if c == p {
			return true
		}
	}
	return false
}

// stepTarget classifies a single target cell for a mover of team t.
// It returns (legal, capture).
func stepTarget(b *Board, t Team, p Pos) (bool, bool) {
	if !b.InBounds(p) {
		return false, false
	}
	occ := b.Occupant(p)
	if occ == nil {
		return true, false
	}
	if occ.Team == t || occ.Has(CapIndestructible) {
		return false, false
	}
	return true, true
}

// ray walks from origin along d for at most n cells. A capture cell is
// included and ends the ray.
func ray(b *Board, t Team, from, d Pos, n int, out *moveSet) {
	for i := 1; i <= n; i++ {
		p := from.Add(d.Scale(i))
		ok, capture := stepTarget(b, t, p)
		if !ok {
			return
		}
		out.add(p)
		if capture {
			return
		}
	}
}

func steps(b *Board, t Team, from Pos, offsets []Pos, out *moveSet) {
	for _, d := range offsets {
		p := from.Add(d)
		if ok, _ := stepTarget(b, t, p); ok {
			out.add(p)
		}
	}
}

// forward is the toroidal rider: up to 3 cells along the team's forward
// axis, wrapping on Y. Occupants never block; ally and indestructible
// cells are skipped.
func forward(b *Board, t Team, from Pos, out *moveSet) {
	dir := t.Forward()
	for i := 1; i <= 3; i++ {
		p := Pos{from.X, b.WrapY(from.Y + dir*i)}
		if p == from {
			return
		}
		if ok, _ := stepTarget(b, t, p); ok {
			out.add(p)
		}
	}
}

// Ranges returns the orthogonal and diagonal ray lengths of u.
// The temporary bonus only extends a direction class the kind can already use.
func Ranges(u *Unit, shadow int) (orth, diag int) {
	info := u.Kind.info()
	orth, diag = info.orthRange, info.diagRange

	switch u.Kind {
	case KindDevoreur:
		diag = min(u.CaptureStacks, 3)
	case KindEgaree:
		diag = shadow / 5
	}

	if info.bonus && u.TempRangeBonus > 0 {
		if orth > 0 {
			orth += u.TempRangeBonus
		}
		if diag > 0 {
			diag += u.TempRangeBonus
		}
	}
	return orth, diag
}

// GenerateMoves returns the raw reachable cells of u.
// shadow is the owning team's shadow pool (used by kinds that scale with it).
func GenerateMoves(b *Board, u *Unit, shadow int) []Pos {
	if u == nil || !u.Alive || u.Has(CapImmobile) {
		return nil
	}
	out := newMoveSet()
	switch u.Kind.info().shape {
	case shapeRay:
		orth, diag := Ranges(u, shadow)
		for _, d := range orthDirs {
			ray(b, u.Team, u.Pos, d, orth, out)
		}
		for _, d := range diagDirs {
			ray(b, u.Team, u.Pos, d, diag, out)
		}
	case shapeKing:
		steps(b, u.Team, u.Pos, kingDirs, out)
	case shapeKnight:
		steps(b, u.Team, u.Pos, knightOffsets, out)
	case shapeForward:
		forward(b, u.Team, u.Pos, out)
	}
	return out.cells
}

// ExtraTargets returns the cells available to u during an extra move:
// the empty cells of its raw set, plus the boost extensions when boosted.
func ExtraTargets(b *Board, u *Unit, shadow int, boosted bool) []Pos {
	raw := GenerateMoves(b, u, shadow)
	rawSet := newMoveSet()
	for _, p := range raw {
		rawSet.add(p)
	}

	out := newMoveSet()
	for _, p := range raw {
		if b.Empty(p) {
			out.add(p)
		}
	}
	if !boosted {
		return out.cells
	}

	for _, d := range kingDirs {
		mid := u.Pos.Add(d)
		if !rawSet.has(mid) {
			continue
		}
		ext := u.Pos.Add(d.Scale(2))
		if !b.Empty(ext) {
			continue
		}
		if midUnit := b.Occupant(mid); midUnit != nil {
			if !u.Has(CapLeaper) || midUnit.Team == u.Team {
				continue
			}
		}
		out.add(ext)
	}
	return out.cells
}
