package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loa-board/internal/game"
)

// streamServer serves one scripted batch list per connection.
type streamServer struct {
	t       *testing.T
	ts      *httptest.Server
	conns   atomic.Int32
	batches func(conn int) [][]game.Command
	origin  atomic.Value
	token   atomic.Value
}

func newStreamServer(t *testing.T, batches func(conn int) [][]game.Command) *streamServer {
	s := &streamServer{t: t, batches: batches}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.origin.Store(r.Header.Get("Origin"))
		s.token.Store(r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := int(s.conns.Add(1))
		for _, batch := range s.batches(n) {
			data, err := json.Marshal(batch)
			if err != nil {
				return
			}
			if err := conn.WriteJSON(envelope{Event: "commands", Data: data}); err != nil {
				return
			}
		}
		// Hold the connection until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *streamServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func playedEngine(t *testing.T) *game.Engine {
	t.Helper()
	engine := game.NewEngine(game.EngineConfig{})
	engine.SetStarted(true)
	_, err := engine.ProposeMove(game.TeamRed, 6, game.Pos{X: 3, Y: 2})
	require.NoError(t, err)
	return engine
}

func runListener(t *testing.T, l *Listener) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestListenerMirrorsStream(t *testing.T) {
	engine := playedEngine(t)
	history := engine.History(0)
	srv := newStreamServer(t, func(int) [][]game.Command {
		return [][]game.Command{history}
	})

	l := NewListener(Config{URL: srv.url(), Origin: "http://localhost", Token: "seat-token"})
	require.NoError(t, l.Connect(context.Background()))
	runListener(t, l)

	select {
	case snap := <-l.Updates:
		assert.Equal(t, engine.MatchID(), snap.MatchID)
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}

	want := engine.GetSnapshot()
	require.Eventually(t, func() bool { return l.Mirror().Seq() == want.Sequence }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want.Units, l.Mirror().Snapshot().Units)
	assert.True(t, l.IsConnected())
	assert.Equal(t, "http://localhost", srv.origin.Load())
	assert.Equal(t, "seat-token", srv.token.Load())
}

func TestListenerResyncsAfterGap(t *testing.T) {
	engine := playedEngine(t)
	history := engine.History(0)
	require.Greater(t, len(history), 3)

	srv := newStreamServer(t, func(conn int) [][]game.Command {
		if conn == 1 {
			// Skip a command in the middle
			return [][]game.Command{history[:2], history[3:]}
		}
		return [][]game.Command{history}
	})

	l := NewListener(Config{URL: srv.url()})
	runListener(t, l)

	want := engine.GetSnapshot()
	require.Eventually(t, func() bool { return l.Mirror().Seq() == want.Sequence }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want.Units, l.Mirror().Snapshot().Units)
	assert.Equal(t, 1, l.Resyncs())
	assert.GreaterOrEqual(t, int(srv.conns.Load()), 2)
}

func TestListenerForwardsResults(t *testing.T) {
	results := make(chan string, 1)
	l := NewListener(Config{})
	l.OnResult = func(id, event string, _ json.RawMessage) {
		results <- id + ":" + event
	}

	msg, err := json.Marshal(envelope{Event: "result", ID: "p1", Data: json.RawMessage(`{"accepted":true}`)})
	require.NoError(t, err)
	require.NoError(t, l.handleMessage(msg))
	assert.Equal(t, "p1:result", <-results)

	// Malformed frames are skipped without a resync
	assert.NoError(t, l.handleMessage([]byte("{")))
	assert.Error(t, l.Propose("p2", "pass", game.NoUnit, nil, ""))
}
