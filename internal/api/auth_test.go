package api

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loa-board/internal/game"
)

type seatEvent struct {
	team   game.Team
	joined bool
	both   bool
}

func TestSeatManagerAssignsRedThenBlue(t *testing.T) {
	sm := NewSeatManager("secret")
	var events []seatEvent
	sm.OnChange(func(team game.Team, joined bool, _ string, both bool) {
		events = append(events, seatEvent{team, joined, both})
	})

	red, redToken, err := sm.Join("alice")
	require.NoError(t, err)
	blue, _, err := sm.Join("bob")
	require.NoError(t, err)
	_, _, err = sm.Join("carol")

	assert.Equal(t, game.TeamRed, red.Team)
	assert.Equal(t, game.TeamBlue, blue.Team)
	assert.ErrorIs(t, err, ErrSeatsFull)
	assert.Equal(t, []seatEvent{
		{game.TeamRed, true, false},
		{game.TeamBlue, true, true},
	}, events)

	seat, err := sm.Authenticate(redToken)
	require.NoError(t, err)
	assert.Equal(t, red.ID, seat.ID)
}

func TestSeatTokenRejectsTampering(t *testing.T) {
	sm := NewSeatManager("secret")
	_, token, err := sm.Join("alice")
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)
	parts := strings.SplitN(string(raw), ".", 3)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token!"},
		{"wrong team", base64.URLEncoding.EncodeToString([]byte(parts[0] + ".1." + parts[2]))},
		{"other secret", func() string {
			_, tok, _ := NewSeatManager("other").Join("mallory")
			return tok
		}()},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.Authenticate(tt.token)
			assert.True(t, errors.Is(err, ErrInvalidSeatToken), "got %v", err)
		})
	}
}

func TestSeatTokenDiesWithSeat(t *testing.T) {
	sm := NewSeatManager("secret")
	_, token, err := sm.Join("alice")
	require.NoError(t, err)

	team, err := sm.Leave(token)
	require.NoError(t, err)
	assert.Equal(t, game.TeamRed, team)

	// A new occupant of the same seat gets a new id
	_, _, err = sm.Join("bob")
	require.NoError(t, err)
	_, err = sm.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidSeatToken)
}

func TestSeatManagerReleasesIdleSeats(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sm := NewSeatManager("secret")
	sm.now = func() time.Time { return now }

	var released []game.Team
	sm.OnChange(func(team game.Team, joined bool, _ string, _ bool) {
		if !joined {
			released = append(released, team)
		}
	})

	_, redToken, err := sm.Join("alice")
	require.NoError(t, err)
	_, blueToken, err := sm.Join("bob")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	_, err = sm.Authenticate(blueToken)
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	sm.releaseIdle(SeatIdleTimeout)

	assert.Equal(t, []game.Team{game.TeamRed}, released)
	_, err = sm.Authenticate(redToken)
	assert.ErrorIs(t, err, ErrInvalidSeatToken)
	assert.Len(t, sm.Seats(), 1)
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		pattern string
		origin  string
		want    bool
	}{
		{"http://localhost:*", "http://localhost:3000", true},
		{"http://localhost:*", "http://localhost", false},
		{"https://*.example.com", "https://play.example.com", true},
		{"https://*.example.com", "https://example.com", false},
		{"https://board.example", "https://board.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, matchOrigin(tt.pattern, tt.origin))
		})
	}
}
