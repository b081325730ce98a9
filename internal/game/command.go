package game

import (
	"encoding/json"
	"fmt"
)

// CommandType enum for state-update commands
type CommandType uint8

const (
	CmdUnknown CommandType = iota
	CmdNewMatch
	CmdSpawnUnit
	CmdApplySecondaryVictims
	CmdApplyPrimaryMove
	CmdApplyPush
	CmdApplyAuraKills
	CmdDestroyUnits
	CmdReplaceUnit
	CmdSyncUnit
	CmdTurnChanged
	CmdStealWindow
	CmdExtraMoveChain
	CmdMark
	CmdBoost
	CmdLock
	CmdPools
	CmdBonusClaimed
	CmdMatchStarted
	CmdMatchEnded
	cmdTypeCount
)

var commandNames = [cmdTypeCount]string{
	CmdUnknown:               "unknown",
	CmdNewMatch:              "new_match",
	CmdSpawnUnit:             "spawn_unit",
	CmdApplySecondaryVictims: "apply_secondary_victims",
	CmdApplyPrimaryMove:      "apply_primary_move",
	CmdApplyPush:             "apply_push",
	CmdApplyAuraKills:        "apply_aura_kills",
	CmdDestroyUnits:          "destroy_units",
	CmdReplaceUnit:           "replace_unit",
	CmdSyncUnit:              "sync_unit",
	CmdTurnChanged:           "turn_changed",
	CmdStealWindow:           "steal_window",
	CmdExtraMoveChain:        "extra_move_chain",
	CmdMark:                  "mark",
	CmdBoost:                 "boost",
	CmdLock:                  "lock",
	CmdPools:                 "pools",
	CmdBonusClaimed:          "bonus_claimed",
	CmdMatchStarted:          "match_started",
	CmdMatchEnded:            "match_ended",
}

// String returns human-readable command type
func (t CommandType) String() string {
	if t >= cmdTypeCount {
		return "unknown"
	}
	return commandNames[t]
}

// MarshalText encodes the command type by name.
func (t CommandType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a command type name.
func (t *CommandType) UnmarshalText(data []byte) error {
	for i, name := range commandNames {
		if name == string(data) {
			*t = CommandType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown command type %q", data)
}

// UnitSync carries the mutable per-unit modifiers.
type UnitSync struct {
	TempRangeBonus int  `json:"tempRangeBonus"`
	Buffed         bool `json:"buffed"`
	CaptureStacks  int  `json:"captureStacks"`
	IdleTurns      int  `json:"idleTurns"`
}

// Pools holds both teams' resources.
type Pools struct {
	Shadow [2]int `json:"shadow"`
	Ritual [2]int `json:"ritual"`
}

// Command is a single idempotent state update. The authority produces them
// in order; every holder of a State applies them in Seq order.
//
// Field use per type:
//
//	new_match         MatchID, Width, Height
//	spawn_unit        Unit, Team, Kind, To
//	apply_*_victims   Team (credited), Victims
//	apply_primary_move Unit, From, To, Victim, Team (credited)
//	apply_push        Pushes, Victims (push kills), Team (credited)
//	replace_unit      Unit (removed), NewUnit, Kind, To
//	turn_changed      Team, Index
//	steal_window      Team (NoTeam closes)
//	extra_move_chain  Team, Unit (NoUnit closes)
//	mark              Team (marker), Unit (target, NoUnit clears), Turns
//	boost / lock      Team, Turns
type Command struct {
	Seq     uint64      `json:"seq"`
	Type    CommandType `json:"type"`
	MatchID string      `json:"matchId,omitempty"`
	Team    Team        `json:"team"`
	Unit    UnitID      `json:"unit,omitempty"`
	NewUnit UnitID      `json:"newUnit,omitempty"`
	Kind    Kind        `json:"kind,omitempty"`
	From    Pos         `json:"from"`
	To      Pos         `json:"to"`
	Victim  UnitID      `json:"victim,omitempty"`
	Victims []UnitID    `json:"victims,omitempty"`
	Pushes  []Push      `json:"pushes,omitempty"`
	Turns   int         `json:"turns,omitempty"`
	Index   int         `json:"index,omitempty"`
	Width   int         `json:"width,omitempty"`
	Height  int         `json:"height,omitempty"`
	Started bool        `json:"started,omitempty"`
	Sync    *UnitSync   `json:"sync,omitempty"`
	Pools   *Pools      `json:"pools,omitempty"`
}

// EncodeCommands marshals a command batch for the wire or the journal.
func EncodeCommands(cmds []Command) ([]byte, error) {
	return json.Marshal(cmds)
}

// DecodeCommand unmarshals a single command.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(data, &c)
	return c, err
}
