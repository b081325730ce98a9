package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loa-board/internal/api"
	"loa-board/internal/config"
	"loa-board/internal/game"
	"loa-board/internal/proposal"
	"loa-board/internal/storage/sqlite"
)

const testAdminToken = "admin-secret"

type testEnv struct {
	ts     *httptest.Server
	engine *game.Engine
	queue  *proposal.Queue
	seats  *api.SeatManager
	mux    *http.ServeMux
}

func newTestEnv(t *testing.T, engineCfg game.EngineConfig, opts ...func(*api.RouterConfig)) *testEnv {
	t.Helper()
	if engineCfg.Rules.BoardWidth == 0 {
		engineCfg.Rules = config.DefaultRules()
	}
	engine := game.NewEngine(engineCfg)

	handler := proposal.NewHandlerWithLimits(engine, proposal.RateLimitConfig{PerSecond: 1000, Burst: 1000})
	queue := proposal.NewQueue(handler, proposal.DefaultQueueConfig())
	queue.Start()

	seats := api.NewSeatManager("test-secret")
	api.BindSeats(seats, engine)

	limiter := api.NewIPRateLimiter(api.RateLimitConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		CleanupInterval:   time.Hour,
	})
	proposeLimiter := api.NewSeatRateLimiter(seats, api.RateLimitConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		CleanupInterval:   time.Hour,
	})
	cfg := api.RouterConfig{
		Engine:         engine,
		Proposals:      queue,
		Seats:          seats,
		AdminToken:     testAdminToken,
		RateLimiter:    limiter,
		ProposeLimiter: proposeLimiter,
		DisableLogging: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(cfg))
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ts.Close()
		queue.Stop()
		handler.Stop()
		limiter.Stop()
		proposeLimiter.Stop()
		seats.Stop()
	})
	return &testEnv{ts: ts, engine: engine, queue: queue, seats: seats, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(api.SeatTokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) join(t *testing.T, name string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/seats/join", "", map[string]string{"name": name})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, ok := body["token"].(string)
	require.True(t, ok, "join should return a token")
	return token
}

func (e *testEnv) admin(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func moveBody(unit game.UnitID, x, y int) map[string]any {
	return map[string]any{"unit": unit, "target": map[string]int{"x": x, "y": y}}
}

func TestAPIGetState(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})

	resp, body := env.do(t, http.MethodGet, "/api/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	match, ok := body["match"].(map[string]any)
	require.True(t, ok, "response should contain the match snapshot")
	assert.Equal(t, env.engine.MatchID(), match["matchId"])
	units, ok := match["units"].([]any)
	require.True(t, ok)
	assert.Len(t, units, 14)
}

func TestAPISeatsStartAndPauseMatch(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})

	red := env.join(t, "alice")
	assert.False(t, env.engine.GetSnapshot().Turn.Started, "one seat must not start the match")

	env.join(t, "bob")
	assert.True(t, env.engine.GetSnapshot().Turn.Started)

	resp, _ := env.do(t, http.MethodPost, "/api/seats/join", "", map[string]string{"name": "carol"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/seats/leave", red, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(game.TeamRed), body["team"])
	assert.False(t, env.engine.GetSnapshot().Turn.Started, "a released seat pauses the match")

	// The red seat is free again
	env.join(t, "dave")
	assert.True(t, env.engine.GetSnapshot().Turn.Started)
	assert.Len(t, env.seats.Seats(), 2)
}

func TestAPISeatJoinValidation(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty name", `{"name": ""}`, http.StatusBadRequest},
		{"missing name", `{}`, http.StatusBadRequest},
		{"invalid json", `{invalid}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.ts.URL+"/api/seats/join", "application/json", bytes.NewReader([]byte(tt.body)))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAPIProposeMove(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})
	red := env.join(t, "alice")
	blue := env.join(t, "bob")

	resp, body := env.do(t, http.MethodPost, "/api/propose/move", red, moveBody(6, 3, 2))
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, float64(env.engine.GetSnapshot().Sequence), body["sequence"])

	// Red already moved
	resp, body = env.do(t, http.MethodPost, "/api/propose/move", red, moveBody(7, 5, 2))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["accepted"])
	assert.Contains(t, body["error"], game.ErrNotYourTurn.Error())

	resp, _ = env.do(t, http.MethodPost, "/api/propose/move", blue, moveBody(13, 3, 6))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIProposeErrors(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})
	red := env.join(t, "alice")
	env.join(t, "bob")

	tests := []struct {
		name       string
		path       string
		token      string
		body       any
		wantStatus int
	}{
		{"no seat", "/api/propose/pass", "", nil, http.StatusUnauthorized},
		{"forged token", "/api/propose/pass", "Zm9vLjAuYmFy", nil, http.StatusUnauthorized},
		{"unknown type", "/api/propose/teleport", red, nil, http.StatusNotFound},
		{"end turn is authority only", "/api/propose/end_turn", red, nil, http.StatusForbidden},
		{"missing target", "/api/propose/move", red, map[string]any{"unit": 6}, http.StatusBadRequest},
		{"unknown unit", "/api/propose/move", red, moveBody(99, 0, 0), http.StatusNotFound},
		{"unknown kind", "/api/propose/evolve", red, map[string]any{"unit": 6, "kind": "dragon"}, http.StatusBadRequest},
		{"ritual not available", "/api/propose/steal", red, nil, http.StatusConflict},
		{"illegal target", "/api/propose/move", red, moveBody(6, 6, 6), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, "body: %v", body)
		})
	}

	// Nothing above changed the match
	assert.Equal(t, 0, env.engine.GetSnapshot().Turn.Index)
	assert.Equal(t, game.TeamRed, env.engine.GetSnapshot().Turn.Current)
}

func TestAPIProposeNotStarted(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})
	red := env.join(t, "alice")

	resp, body := env.do(t, http.MethodPost, "/api/propose/move", red, moveBody(6, 3, 2))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], game.ErrNotStarted.Error())
}

func TestAPIGetMoves(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})
	red := env.join(t, "alice")
	env.join(t, "bob")

	// Spectators get the raw move set
	resp, body := env.do(t, http.MethodGet, "/api/units/13/moves", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["legal"])
	assert.NotEmpty(t, body["targets"])

	// Seated players get this turn's legal targets
	resp, body = env.do(t, http.MethodGet, "/api/units/6/moves", red, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["legal"])
	assert.Equal(t, game.ModeNormal.String(), body["mode"])
	assert.Contains(t, body["targets"], map[string]any{"x": float64(3), "y": float64(2)})

	resp, _ = env.do(t, http.MethodGet, "/api/units/13/moves", red, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "red cannot move a blue unit")

	resp, _ = env.do(t, http.MethodGet, "/api/units/abc/moves", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/units/99/moves", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIAdminRoutes(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})
	env.join(t, "alice")
	env.join(t, "bob")

	assert.Equal(t, http.StatusUnauthorized, env.admin(t, "/api/admin/end-turn", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.admin(t, "/api/admin/end-turn", "wrong").StatusCode)

	require.Equal(t, http.StatusOK, env.admin(t, "/api/admin/end-turn", testAdminToken).StatusCode)
	assert.Equal(t, game.TeamBlue, env.engine.GetSnapshot().Turn.Current)

	oldID := env.engine.MatchID()
	require.Equal(t, http.StatusOK, env.admin(t, "/api/admin/new-match", testAdminToken).StatusCode)
	assert.NotEqual(t, oldID, env.engine.MatchID())
	assert.True(t, env.engine.GetSnapshot().Turn.Started, "seated players keep playing")
}

func TestAPIAdminDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{}, func(cfg *api.RouterConfig) { cfg.AdminToken = "" })
	assert.Equal(t, http.StatusForbidden, env.admin(t, "/api/admin/end-turn", "anything").StatusCode)
}

func TestAPIHistory(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})

	resp, err := http.Get(env.ts.URL + "/api/history?after=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cmds []game.Command
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cmds))
	require.NotEmpty(t, cmds)
	assert.Equal(t, game.CmdNewMatch, cmds[0].Type)

	bad, _ := env.do(t, http.MethodGet, "/api/history?after=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAPIMatchesWithoutJournal(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{})

	resp, _ := env.do(t, http.MethodGet, "/api/matches", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPIReplayFromJournal(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	recorder := sqlite.NewRecorder(store)
	recorder.Start()

	env := newTestEnv(t, game.EngineConfig{Journal: recorder}, func(cfg *api.RouterConfig) { cfg.Journal = store })
	red := env.join(t, "alice")
	blue := env.join(t, "bob")

	resp, _ := env.do(t, http.MethodPost, "/api/propose/move", red, moveBody(6, 3, 2))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/propose/pass", blue, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recorder.Stop()

	id := env.engine.MatchID()
	resp, body := env.do(t, http.MethodGet, "/api/matches", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)

	resp, body = env.do(t, http.MethodGet, "/api/matches/"+id+"/replay", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	snap, ok := body["snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(env.engine.GetSnapshot().Sequence), snap["seq"])
	assert.Equal(t, id, snap["matchId"])

	// upTo stops the replay at the new_match command
	first := env.engine.History(0)[0].Seq
	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/matches/%s/replay?upTo=%d", id, first), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["commands"])

	resp, _ = env.do(t, http.MethodGet, "/api/matches/missing/replay", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIProposeRateLimitedPerSeat(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{}, func(cfg *api.RouterConfig) {
		limiter := api.NewSeatRateLimiter(cfg.Seats, api.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
		t.Cleanup(limiter.Stop)
		cfg.ProposeLimiter = limiter
	})
	red := env.join(t, "alice")
	blue := env.join(t, "bob")

	// Rejected proposals still spend tokens
	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, http.MethodPost, "/api/propose/move", red, moveBody(999, 0, 0))
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodPost, "/api/propose/move", red, moveBody(6, 3, 2))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, "too many requests", body["error"])
	assert.Equal(t, game.TeamRed, env.engine.GetSnapshot().Turn.Current, "limited proposal must not reach the engine")

	// The seat is the key, not the address
	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/propose/pass", nil)
	require.NoError(t, err)
	req.Header.Set(api.SeatTokenHeader, red)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	other, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	other.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, other.StatusCode)

	// The other seat and the read routes keep working
	resp, _ = env.do(t, http.MethodPost, "/api/propose/pass", blue, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/state", red, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIStats(t *testing.T) {
	env := newTestEnv(t, game.EngineConfig{}, func(cfg *api.RouterConfig) {
		cfg.Hub = api.NewWebSocketHub(cfg.Engine, cfg.Proposals, cfg.Seats)
		cfg.JournalStats = func() map[string]any { return map[string]any{"written": 3} }
	})
	red := env.join(t, "alice")
	env.join(t, "bob")
	resp, _ := env.do(t, http.MethodPost, "/api/propose/move", red, moveBody(6, 3, 2))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/stats", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := env.engine.GetSnapshot()
	assert.Equal(t, snap.MatchID, body["matchId"])
	assert.EqualValues(t, snap.Sequence, body["sequence"])
	assert.EqualValues(t, 2, body["seated"])

	propose := body["propose"].(map[string]any)
	assert.EqualValues(t, 1, propose["allowed"])
	assert.EqualValues(t, 0, propose["rejected"])
	assert.EqualValues(t, 1, propose["tracked"])

	httpStats := body["http"].(map[string]any)
	assert.GreaterOrEqual(t, httpStats["allowed"].(float64), float64(4))

	queue := body["queue"].(map[string]any)
	assert.EqualValues(t, 1, queue["processed"])

	ws := body["websocket"].(map[string]any)
	assert.EqualValues(t, 0, ws["active"])
	assert.EqualValues(t, api.MaxWSConnectionsPerIP, ws["maxPerIp"])

	assert.Contains(t, body["eventLog"], "dropped")
	assert.EqualValues(t, 3, body["journal"].(map[string]any)["written"])
}

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://evil.example", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, api.IsAllowedOrigin(tt.origin))
		})
	}
}
