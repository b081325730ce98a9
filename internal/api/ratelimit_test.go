package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnLimiterCaps(t *testing.T) {
	cl := NewConnLimiter(3, 2)

	require.NoError(t, cl.Acquire("10.0.0.1"))
	require.NoError(t, cl.Acquire("10.0.0.1"))
	assert.ErrorIs(t, cl.Acquire("10.0.0.1"), ErrTooManyConnectionsIP)

	require.NoError(t, cl.Acquire("10.0.0.2"))
	assert.ErrorIs(t, cl.Acquire("10.0.0.3"), ErrTooManyConnections)

	stats := cl.Stats()
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 2, stats.TrackedIPs)
	assert.EqualValues(t, 1, stats.RejectedPerIP)
	assert.EqualValues(t, 1, stats.RejectedTotal)

	// Releasing frees the slot and forgets idle addresses
	cl.Release("10.0.0.2")
	cl.Release("10.0.0.2")
	require.NoError(t, cl.Acquire("10.0.0.3"))
	stats = cl.Stats()
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 2, stats.TrackedIPs)
}

func TestRequestLimiterDropsIdleBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewIPRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(90 * time.Minute)
	assert.True(t, rl.Allow("b"))
	now = now.Add(40 * time.Minute)
	rl.cleanup()

	stats := rl.Stats()
	assert.Equal(t, 1, stats.Tracked, "only the recently used bucket survives")
	assert.EqualValues(t, 3, stats.Allowed)
	assert.EqualValues(t, 1, stats.Rejected)
}

func TestSeatKey(t *testing.T) {
	sm := NewSeatManager("secret")
	_, red, err := sm.Join("alice")
	require.NoError(t, err)
	_, blue, err := sm.Join("bob")
	require.NoError(t, err)
	key := SeatKey(sm)

	tests := []struct {
		name  string
		token string
		xff   string
		want  string
	}{
		{"red seat", red, "", "seat:red"},
		{"red seat elsewhere", red, "198.51.100.4", "seat:red"},
		{"blue seat", blue, "", "seat:blue"},
		{"spectator", "", "198.51.100.4", "ip:198.51.100.4"},
		{"forged token", "Zm9vLjAuYmFy", "198.51.100.4", "ip:198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/propose/pass", nil)
			if tt.token != "" {
				r.Header.Set(SeatTokenHeader, tt.token)
			}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, key(r))
		})
	}
}
