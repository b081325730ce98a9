package game

import (
	"encoding/json"
	"fmt"
)

// Team identifies a side. Red always opens the match.
type Team int8

const (
	NoTeam   Team = -1
	TeamRed  Team = 0
	TeamBlue Team = 1
)

// Opponent returns the other team.
func (t Team) Opponent() Team {
	switch t {
	case TeamRed:
		return TeamBlue
	case TeamBlue:
		return TeamRed
	}
	return NoTeam
}

// Valid reports whether t names a playing side.
func (t Team) Valid() bool { return t == TeamRed || t == TeamBlue }

func (t Team) String() string {
	switch t {
	case TeamRed:
		return "red"
	case TeamBlue:
		return "blue"
	}
	return "none"
}

// ParseTeam converts "red"/"blue" (or "0"/"1") into a Team.
func ParseTeam(s string) (Team, error) {
	switch s {
	case "red", "0":
		return TeamRed, nil
	case "blue", "1":
		return TeamBlue, nil
	}
	return NoTeam, fmt.Errorf("unknown team %q", s)
}

// UnitID indexes the unit arena. Zero means "no unit".
type UnitID uint32

const NoUnit UnitID = 0

// Capability is a bit set resolved from a unit's kind.
type Capability uint16

const (
	CapMask Capability = 1 << iota
	CapSpirit
	CapIndestructible
	CapAdjacencyKiller
	CapImmobile
	CapForceful
	CapLeaper
	CapEvolved
	CapCornerScan
	CapPathScan
	CapExplodes
	CapHowls
	CapIncome
)

// Kind is the tagged unit kind.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSpirit
	KindOgounMask
	KindBaronMask
	KindLameArdente
	KindManieurDeLame
	KindRavageur
	KindSentinelle
	KindCavalier
	KindDevoreur
	KindEgaree
	KindHurleur
	KindRevenant
	KindFlamme
	kindCount
)

// moveShape selects a generator in moves.go.
type moveShape uint8

const (
	shapeNone moveShape = iota
	shapeRay             // orthogonal and diagonal rays with separate ranges
	shapeKing
	shapeKnight
	shapeForward
)

// kindInfo is one row of the kind table.
type kindInfo struct {
	name      string
	glyph     byte
	loa       Loa
	caps      Capability
	shape     moveShape
	orthRange int
	diagRange int
	bonus     bool // tempRangeBonus extends the ray ranges
	cost      int  // shadow cost of evolving into this kind (Baron only)
}

var kindTable = [kindCount]kindInfo{
	KindUnknown:   {name: "unknown", glyph: '?'},
	KindSpirit:    {name: "spirit", glyph: 's', loa: LoaNone, caps: CapSpirit, shape: shapeRay, orthRange: 1, diagRange: 1, bonus: true},
	KindOgounMask: {name: "ogoun_mask", glyph: 'O', loa: LoaOgoun, caps: CapMask, shape: shapeKing},
	KindBaronMask: {name: "baron_mask", glyph: 'B', loa: LoaBaron, caps: CapMask, shape: shapeRay, orthRange: 1, diagRange: 1, bonus: true},

	KindLameArdente:   {name: "lame_ardente", glyph: 'L', loa: LoaOgoun, caps: CapEvolved, shape: shapeRay, orthRange: 2},
	KindManieurDeLame: {name: "manieur_de_lame", glyph: 'M', loa: LoaOgoun, caps: CapEvolved | CapCornerScan, shape: shapeKnight},
	KindRavageur:      {name: "ravageur", glyph: 'R', loa: LoaOgoun, caps: CapEvolved | CapForceful, shape: shapeKing},
	KindSentinelle:    {name: "sentinelle_ecarlate", glyph: 'S', loa: LoaOgoun, caps: CapEvolved | CapIndestructible | CapAdjacencyKiller | CapImmobile},
	KindCavalier:      {name: "cavalier_fulgurant", glyph: 'C', loa: LoaOgoun, caps: CapEvolved | CapLeaper | CapPathScan, shape: shapeForward},

	KindDevoreur: {name: "devoreur_ame", glyph: 'D', loa: LoaBaron, caps: CapEvolved, shape: shapeRay, orthRange: 1, bonus: true, cost: 3},
	KindEgaree:   {name: "egaree_profondeur", glyph: 'E', loa: LoaBaron, caps: CapEvolved, shape: shapeRay, orthRange: 2, cost: 4},
	KindHurleur:  {name: "hurleur_creux", glyph: 'H', loa: LoaBaron, caps: CapEvolved | CapHowls, shape: shapeRay, orthRange: 1, diagRange: 1, bonus: true, cost: 3},
	KindRevenant: {name: "revenant", glyph: 'V', loa: LoaBaron, caps: CapEvolved | CapExplodes, shape: shapeRay, orthRange: 1, bonus: true, cost: 2},
	KindFlamme:   {name: "flamme_violette", glyph: 'F', loa: LoaBaron, caps: CapEvolved | CapImmobile | CapIncome, cost: 5},
}

func (k Kind) info() kindInfo {
	if k >= kindCount {
		return kindTable[KindUnknown]
	}
	return kindTable[k]
}

func (k Kind) String() string { return k.info().name }

// Caps returns the capability set of the kind.
func (k Kind) Caps() Capability { return k.info().caps }

// Loa returns the loa the kind belongs to (LoaNone for shared kinds).
func (k Kind) Loa() Loa { return k.info().loa }

// EvolutionCost returns the shadow cost of evolving into k.
func (k Kind) EvolutionCost() int { return k.info().cost }

// ParseKind resolves a snake_case kind name.
func ParseKind(s string) (Kind, error) {
	for k := KindSpirit; k < kindCount; k++ {
		if kindTable[k].name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalJSON encodes the kind by name.
func (k Kind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// UnmarshalJSON decodes a kind name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Unit is a piece on the board. Units live in the board arena and are
// referenced elsewhere by id only.
type Unit struct {
	ID    UnitID `json:"id"`
	Team  Team   `json:"team"`
	Kind  Kind   `json:"kind"`
	Pos   Pos    `json:"pos"`
	Alive bool   `json:"alive"`

	TempRangeBonus int  `json:"tempRangeBonus"`
	Buffed         bool `json:"buffed,omitempty"`        // Hurleur bonus already granted this turn
	CaptureStacks  int  `json:"captureStacks,omitempty"` // Devoreur diagonal range
	IdleTurns      int  `json:"idleTurns,omitempty"`     // Revenant fuse
}

// Has reports whether the unit's kind carries every flag in c.
func (u *Unit) Has(c Capability) bool { return u.Kind.Caps()&c == c }

// Glyph returns a one-letter board symbol; blue units are lower-cased.
func (u *Unit) Glyph() byte {
	g := u.Kind.info().glyph
	if u.Team == TeamBlue && g >= 'A' && g <= 'Z' {
		g += 'a' - 'A'
	}
	if u.Team == TeamRed && g >= 'a' && g <= 'z' {
		g -= 'a' - 'A'
	}
	return g
}

// Forward returns +1 for red (toward higher rows) and -1 for blue.
func (t Team) Forward() int {
	if t == TeamBlue {
		return -1
	}
	return 1
}

// =============================================================================
// LOA PROFILES
// =============================================================================

// Loa is the patron a team plays. It decides which rituals and kinds are available.
type Loa uint8

const (
	LoaNone Loa = iota
	LoaOgoun
	LoaBaron
)

func (l Loa) String() string {
	switch l {
	case LoaOgoun:
		return "ogoun"
	case LoaBaron:
		return "baron"
	}
	return "none"
}

// LoaProfile lists what a loa grants its team.
type LoaProfile struct {
	Loa           Loa
	Mask          Kind
	ExtraMove     bool // a kill may open an extra-move chain
	ShadowIncome  bool // unit deaths and bonus cells award shadow
	CanMark       bool
	CanBoost      bool
	CanSteal      bool
	CanResurrect  bool
	EvolutionPaid bool // evolution spends shadow
	MaxEvolved    int  // 0 = unlimited
}

// Profiles maps each team to its loa. Red plays Ogoun, blue plays Baron Samedi.
var Profiles = [2]LoaProfile{
	TeamRed: {
		Loa:        LoaOgoun,
		Mask:       KindOgounMask,
		ExtraMove:  true,
		CanMark:    true,
		CanBoost:   true,
		MaxEvolved: 2,
	},
	TeamBlue: {
		Loa:           LoaBaron,
		Mask:          KindBaronMask,
		ShadowIncome:  true,
		CanSteal:      true,
		CanResurrect:  true,
		EvolutionPaid: true,
	},
}

// Profile returns the loa profile of a team.
func Profile(t Team) LoaProfile {
	if !t.Valid() {
		return LoaProfile{}
	}
	return Profiles[t]
}
