package game

import (
	"fmt"
	"strings"
)

// Pos is a cell coordinate. X grows to the right, Y grows toward the blue side.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add returns p translated by d.
func (p Pos) Add(d Pos) Pos { return Pos{p.X + d.X, p.Y + d.Y} }

// Sub returns the offset from q to p.
func (p Pos) Sub(q Pos) Pos { return Pos{p.X - q.X, p.Y - q.Y} }

// Scale returns p multiplied by k.
func (p Pos) Scale(k int) Pos { return Pos{p.X * k, p.Y * k} }

// Clamp reduces each component to -1, 0 or 1.
func (p Pos) Clamp() Pos { return Pos{sign(p.X), sign(p.Y)} }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Chebyshev returns the king distance between two cells.
func Chebyshev(a, b Pos) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

// Adjacent reports whether a and b are distinct king neighbours.
func Adjacent(a, b Pos) bool { return Chebyshev(a, b) == 1 }

// OrthAdjacent reports whether a and b share an edge.
func OrthAdjacent(a, b Pos) bool { return abs(a.X-b.X)+abs(a.Y-b.Y) == 1 }

var (
	orthDirs = []Pos{{0, 1}, {0, -1}, {-1, 0}, {1, 0}}
	diagDirs = []Pos{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	kingDirs = append(append([]Pos{}, orthDirs...), diagDirs...)

	knightOffsets = []Pos{
		{2, 1}, {2, -1}, {-2, 1}, {-2, -1},
		{1, 2}, {1, -2}, {-1, 2}, {-1, -2},
	}
)

// Board is the unit arena plus the occupancy grid.
// The grid stores unit ids only; units are owned by the arena.
type Board struct {
	width  int
	height int
	cells  []UnitID
	units  []*Unit // index = id-1
}

// NewBoard creates an empty board.
func NewBoard(width, height int) *Board {
	return &Board{
		width:  width,
		height: height,
		cells:  make([]UnitID, width*height),
	}
}

// Width returns the number of columns.
func (b *Board) Width() int { return b.width }

// Height returns the number of rows.
func (b *Board) Height() int { return b.height }

// InBounds reports whether p lies on the board.
func (b *Board) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < b.width && p.Y >= 0 && p.Y < b.height
}

// WrapY folds a row index onto the board (toroidal on the Y axis).
func (b *Board) WrapY(y int) int {
	y %= b.height
	if y < 0 {
		y += b.height
	}
	return y
}

// At returns the id occupying p, or NoUnit.
func (b *Board) At(p Pos) UnitID {
	if !b.InBounds(p) {
		return NoUnit
	}
	return b.cells[p.Y*b.width+p.X]
}

// Occupant returns the live unit on p, or nil.
func (b *Board) Occupant(p Pos) *Unit {
	return b.Unit(b.At(p))
}

// Empty reports whether p is on the board and unoccupied.
func (b *Board) Empty(p Pos) bool {
	return b.InBounds(p) && b.At(p) == NoUnit
}

// Unit returns the unit with the given id if it is alive.
func (b *Board) Unit(id UnitID) *Unit {
	u := b.lookup(id)
	if u == nil || !u.Alive {
		return nil
	}
	return u
}

func (b *Board) lookup(id UnitID) *Unit {
	if id == NoUnit || int(id) > len(b.units) {
		return nil
	}
	return b.units[id-1]
}

// NextID returns the id the next spawn will receive.
func (b *Board) NextID() UnitID { return UnitID(len(b.units) + 1) }

// Units returns the live units in id order.
func (b *Board) Units() []*Unit {
	out := make([]*Unit, 0, len(b.units))
	for _, u := range b.units {
		if u.Alive {
			out = append(out, u)
		}
	}
	return out
}

// TeamUnits returns the live units of one team.
func (b *Board) TeamUnits(t Team) []*Unit {
	var out []*Unit
	for _, u := range b.Units() {
		if u.Team == t {
			out = append(out, u)
		}
	}
	return out
}

// Mask returns the live mask of a team, or nil.
func (b *Board) Mask(t Team) *Unit {
	for _, u := range b.TeamUnits(t) {
		if u.Has(CapMask) {
			return u
		}
	}
	return nil
}

// place spawns a unit with an explicit id. Ids must be allocated in order so
// that a mirror replaying the same commands ends up with the same arena.
func (b *Board) place(id UnitID, team Team, kind Kind, p Pos) (*Unit, error) {
	if id != b.NextID() {
		return nil, fmt.Errorf("spawn id %d out of order (next %d)", id, b.NextID())
	}
	if !b.InBounds(p) {
		return nil, fmt.Errorf("spawn %s: %w", p, ErrOutOfBounds)
	}
	if b.At(p) != NoUnit {
		return nil, fmt.Errorf("spawn %s: %w", p, ErrCellOccupied)
	}
	u := &Unit{ID: id, Team: team, Kind: kind, Pos: p, Alive: true}
	b.units = append(b.units, u)
	b.cells[p.Y*b.width+p.X] = id
	return u, nil
}

// remove kills a unit and frees its cell. Removing a dead unit is a no-op.
func (b *Board) remove(id UnitID) bool {
	u := b.Unit(id)
	if u == nil {
		return false
	}
	if b.At(u.Pos) == id {
		b.cells[u.Pos.Y*b.width+u.Pos.X] = NoUnit
	}
	u.Alive = false
	return true
}

// relocate moves a live unit to an empty cell.
func (b *Board) relocate(id UnitID, to Pos) bool {
	u := b.Unit(id)
	if u == nil || !b.InBounds(to) {
		return false
	}
	if occ := b.At(to); occ != NoUnit && occ != id {
		return false
	}
	if b.At(u.Pos) == id {
		b.cells[u.Pos.Y*b.width+u.Pos.X] = NoUnit
	}
	u.Pos = to
	b.cells[to.Y*b.width+to.X] = id
	return true
}

// CheckOccupancy verifies that the grid and the arena agree.
func (b *Board) CheckOccupancy() error {
	seen := 0
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			id := b.cells[y*b.width+x]
			if id == NoUnit {
				continue
			}
			u := b.Unit(id)
			if u == nil {
				return fmt.Errorf("cell (%d,%d) holds dead or unknown unit %d", x, y, id)
			}
			if u.Pos != (Pos{x, y}) {
				return fmt.Errorf("cell (%d,%d) holds unit %d positioned at %s", x, y, id, u.Pos)
			}
			seen++
		}
	}
	if alive := len(b.Units()); alive != seen {
		return fmt.Errorf("%d live units but %d occupied cells", alive, seen)
	}
	return nil
}

// clone deep-copies the board.
func (b *Board) clone() *Board {
	c := &Board{
		width:  b.width,
		height: b.height,
		cells:  append([]UnitID(nil), b.cells...),
		units:  make([]*Unit, len(b.units)),
	}
	for i, u := range b.units {
		cp := *u
		c.units[i] = &cp
	}
	return c
}

// String renders the board with blue's home row on top.
func (b *Board) String() string {
	var sb strings.Builder
	for y := b.height - 1; y >= 0; y-- {
		fmt.Fprintf(&sb, "%d ", y)
		for x := 0; x < b.width; x++ {
			u := b.Occupant(Pos{x, y})
			if u == nil {
				sb.WriteString(" .")
				continue
			}
			sb.WriteByte(' ')
			sb.WriteByte(u.Glyph())
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("  ")
	for x := 0; x < b.width; x++ {
		fmt.Fprintf(&sb, " %c", 'A'+x)
	}
	sb.WriteByte('\n')
	return sb.String()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
