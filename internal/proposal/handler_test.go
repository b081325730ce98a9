package proposal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loa-board/internal/game"
)

// TestHandlerRateLimitsPerSeat verifies one noisy seat does not limit the other
func TestHandlerRateLimitsPerSeat(t *testing.T) {
	e := newEngine(t)
	h := NewHandlerWithLimits(e, RateLimitConfig{PerSecond: 0.001, Burst: 2})
	defer h.Stop()

	for range 2 {
		r := h.Process(Proposal{Type: TypePass, Seat: "noisy", Team: game.TeamBlue})
		require.NotErrorIs(t, r.Err, ErrRateLimited)
	}
	r := h.Process(Proposal{Type: TypePass, Seat: "noisy", Team: game.TeamBlue})
	assert.ErrorIs(t, r.Err, ErrRateLimited)
	assert.False(t, r.Rejected())

	r = h.Process(Proposal{Type: TypePass, Seat: "quiet", Team: game.TeamRed})
	assert.True(t, r.Accepted, r.Reason)
}

// TestHandlerEndTurnBypassesLimit verifies the authority shortcut is never throttled
func TestHandlerEndTurnBypassesLimit(t *testing.T) {
	e := newEngine(t)
	h := NewHandlerWithLimits(e, RateLimitConfig{PerSecond: 0.001, Burst: 1})
	defer h.Stop()

	for range 3 {
		r := h.Process(Proposal{Type: TypeEndTurn, Seat: "admin"})
		require.True(t, r.Accepted, r.Reason)
	}
	assert.Equal(t, 3, e.GetSnapshot().Turn.Index)
}

// TestHandlerDispatch verifies each proposal type reaches the matching engine call
func TestHandlerDispatch(t *testing.T) {
	tests := []struct {
		name string
		p    Proposal
		want error
	}{
		{"evolve needs a mask neighbour", Proposal{Type: TypeEvolve, Team: game.TeamRed, Unit: 1, Kind: game.KindRavageur}, game.ErrNotAdjacent},
		{"resurrect is baron only", Proposal{Type: TypeResurrect, Team: game.TeamRed, Unit: 5, Target: game.Pos{X: 4, Y: 1}}, game.ErrRitualUnavailable},
		{"steal is baron only", Proposal{Type: TypeSteal, Team: game.TeamRed}, game.ErrRitualUnavailable},
		{"mark needs an enemy spirit", Proposal{Type: TypeMark, Team: game.TeamRed, Unit: 6}, game.ErrInvalidMarkTarget},
		{"skip without chain", Proposal{Type: TypeSkipExtra, Team: game.TeamRed}, game.ErrNoChain},
		{"unknown type", Proposal{Type: TypeUnknown, Team: game.TeamRed}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			h := NewHandler(e)
			defer h.Stop()

			r := h.Process(tt.p)
			assert.False(t, r.Accepted)
			assert.ErrorIs(t, r.Err, tt.want)
		})
	}
}

// TestHandlerEvolve verifies an accepted evolution from the opening layout
func TestHandlerEvolve(t *testing.T) {
	e := newEngine(t)
	h := NewHandler(e)
	defer h.Stop()

	// Spirit 6 at (3,1) is next to the red mask at (4,0)
	r := h.Process(Proposal{Type: TypeEvolve, Seat: "red", Team: game.TeamRed, Unit: 6, Kind: game.KindSentinelle})
	require.True(t, r.Accepted, r.Reason)
	assert.Nil(t, r.Move)

	snap := e.GetSnapshot()
	var found bool
	for _, u := range snap.Units {
		if u.X == 3 && u.Y == 1 {
			found = u.Kind == game.KindSentinelle
		}
	}
	assert.True(t, found, "expected a sentinelle at (3,1)")
}
