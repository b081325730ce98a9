package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeMatchCreated
	EventTypeMatchStarted
	EventTypeSeat
	EventTypeProposal
	EventTypeRejected
	EventTypeCommand
	EventTypeMatchEnded
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8     `json:"version"`   // Schema version
	Type      EventType `json:"type"`      // Event type
	Timestamp int64     `json:"timestamp"` // Unix nano
	Sequence  uint64    `json:"sequence"`  // Monotonic log sequence
	MatchID   string    `json:"matchId"`
	TurnIndex int       `json:"turnIndex"` // Turn this occurred in
	Actor     string    `json:"actor"`     // Source team or seat (for rate limiting)
	Payload   []byte    `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeMatchCreated:
		return "match_created"
	case EventTypeMatchStarted:
		return "match_started"
	case EventTypeSeat:
		return "seat"
	case EventTypeProposal:
		return "proposal"
	case EventTypeRejected:
		return "rejected"
	case EventTypeCommand:
		return "command"
	case EventTypeMatchEnded:
		return "match_ended"
	default:
		return "unknown"
	}
}

// Typed payloads for different event types

// ProposalPayload describes an accepted proposal and the commands it produced
type ProposalPayload struct {
	Action   string `json:"action"`
	Team     Team   `json:"team"`
	FirstSeq uint64 `json:"firstSeq"`
	LastSeq  uint64 `json:"lastSeq"`
}

// RejectedPayload describes a dropped proposal
type RejectedPayload struct {
	Action string `json:"action"`
	Team   Team   `json:"team"`
	Reason string `json:"reason"`
}

// SeatPayload describes a seat change
type SeatPayload struct {
	Team   Team   `json:"team"`
	Joined bool   `json:"joined"`
	Name   string `json:"name,omitempty"`
}

// MatchEndedPayload names the winner
type MatchEndedPayload struct {
	Winner    Team `json:"winner"`
	TurnIndex int  `json:"turnIndex"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, matchID string, turnIndex int, actor string, payload any) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		MatchID:   matchID,
		TurnIndex: turnIndex,
		Actor:     actor,
		Payload:   EncodePayload(payload),
	}
}
