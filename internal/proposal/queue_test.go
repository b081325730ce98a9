package proposal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loa-board/internal/config"
	"loa-board/internal/game"
)

func newEngine(t *testing.T) *game.Engine {
	t.Helper()
	e := game.NewEngine(game.EngineConfig{Rules: config.DefaultRules()})
	e.SetStarted(true)
	return e
}

func newQueue(t *testing.T, e Engine, cfg QueueConfig) *Queue {
	t.Helper()
	h := NewHandlerWithLimits(e, RateLimitConfig{PerSecond: 1000, Burst: 1000})
	q := NewQueue(h, cfg)
	q.Start()
	t.Cleanup(func() {
		q.Stop()
		h.Stop()
	})
	return q
}

// TestQueueResolvesMove verifies an accepted move round-trips through the worker
func TestQueueResolvesMove(t *testing.T) {
	e := newEngine(t)
	q := newQueue(t, e, DefaultQueueConfig())

	r := q.Submit(context.Background(), Proposal{
		Type:   TypeMove,
		Seat:   "red-seat",
		Team:   game.TeamRed,
		Unit:   6,
		Target: game.Pos{X: 3, Y: 2},
	})

	require.True(t, r.Accepted, "reason: %s", r.Reason)
	require.NotNil(t, r.Move)
	assert.True(t, r.Move.TurnEnded)
	assert.Equal(t, e.GetSnapshot().Sequence, r.Sequence)
	assert.Equal(t, "accepted", r.Outcome())
	assert.Equal(t, game.TeamBlue, e.GetSnapshot().Turn.Current)
}

// TestQueueReportsRejection verifies rules rejections come back with a reason
func TestQueueReportsRejection(t *testing.T) {
	e := newEngine(t)
	q := newQueue(t, e, DefaultQueueConfig())
	before := e.GetSnapshot().Sequence

	r := q.Submit(context.Background(), Proposal{Type: TypePass, Seat: "blue-seat", Team: game.TeamBlue})

	assert.False(t, r.Accepted)
	assert.ErrorIs(t, r.Err, game.ErrNotYourTurn)
	assert.True(t, r.Rejected())
	assert.Equal(t, "rejected", r.Outcome())
	assert.NotEmpty(t, r.Reason)
	assert.Equal(t, before, e.GetSnapshot().Sequence)
}

// TestQueueSerialisesConcurrentProposals verifies only one of two racing moves wins
func TestQueueSerialisesConcurrentProposals(t *testing.T) {
	e := newEngine(t)
	q := newQueue(t, e, DefaultQueueConfig())

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i, unit := range []game.UnitID{6, 7} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = q.Submit(context.Background(), Proposal{
				Type:   TypeMove,
				Seat:   "red-seat",
				Team:   game.TeamRed,
				Unit:   unit,
				Target: game.Pos{X: int(unit)*2 - 9, Y: 2},
			})
		}()
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r.Accepted {
			accepted++
		} else {
			assert.ErrorIs(t, r.Err, game.ErrNotYourTurn)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, uint64(2), q.Stats().Processed)
}

// TestQueueObserver verifies the observer sees every resolved proposal
func TestQueueObserver(t *testing.T) {
	e := newEngine(t)

	var mu sync.Mutex
	var seen []string
	q := newQueue(t, e, QueueConfig{
		Observer: func(p Proposal, r Result, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, p.Type.String()+":"+r.Outcome())
		},
	})

	q.Submit(context.Background(), Proposal{Type: TypePass, Seat: "a", Team: game.TeamRed})
	q.Submit(context.Background(), Proposal{Type: TypeBoost, Seat: "b", Team: game.TeamRed})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pass:accepted", "boost:rejected"}, seen)
}

// TestQueueStopped verifies submissions after Stop fail fast
func TestQueueStopped(t *testing.T) {
	e := newEngine(t)
	h := NewHandler(e)
	defer h.Stop()
	q := NewQueue(h, DefaultQueueConfig())
	q.Start()
	q.Stop()

	r := q.Submit(context.Background(), Proposal{Type: TypePass, Team: game.TeamRed})
	assert.ErrorIs(t, r.Err, ErrQueueStopped)
	assert.Equal(t, "dropped", r.Outcome())
}

// TestQueueStopAnswersEverySubmit verifies no submitter is left waiting when
// Stop races with concurrent submissions
func TestQueueStopAnswersEverySubmit(t *testing.T) {
	for round := 0; round < 20; round++ {
		e := newEngine(t)
		h := NewHandlerWithLimits(e, RateLimitConfig{PerSecond: 1e6, Burst: 1e6})
		q := NewQueue(h, QueueConfig{BufferSize: 8})
		q.Start()

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// No deadline: a lost item would hang here
				r := q.Submit(context.Background(), Proposal{Type: TypePass, Team: game.TeamBlue})
				assert.NotNil(t, r.Err)
			}()
		}
		q.Stop()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: a submitter never got an answer", round)
		}
		h.Stop()

		stats := q.Stats()
		assert.Zero(t, stats.Pending)
	}
}

// TestParseType verifies wire names and aliases
func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"move":        TypeMove,
		"steal_start": TypeSteal,
		"skip-extra":  TypeSkipExtra,
		"pass_turn":   TypePass,
		"dance":       TypeUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseType(name), name)
	}
	assert.Equal(t, "skip_extra", TypeSkipExtra.String())
}
