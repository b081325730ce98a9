package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loa-board/internal/config"
	"loa-board/internal/game"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenAppliesPragmas(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)

	var mode string
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var foreignKeys, busyTimeout, synchronous int
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, foreignKeys)
	assert.Equal(t, 5000, busyTimeout)
	assert.Equal(t, 1, synchronous) // NORMAL
}

func TestCommandsCascadeWithMatch(t *testing.T) {
	t.Parallel()
	store := openTempStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateMatch(ctx, "m1", config.DefaultRules(), time.Now()))
	require.NoError(t, store.AppendCommands(ctx, "m1", []game.Command{{Seq: 1, Type: game.CmdNewMatch, MatchID: "m1", Width: 9, Height: 9}}))

	_, err := store.sqlDB.Exec("DELETE FROM matches WHERE id = ?", "m1")
	require.NoError(t, err)

	var n int
	require.NoError(t, store.sqlDB.QueryRow("SELECT COUNT(*) FROM commands WHERE match_id = ?", "m1").Scan(&n))
	assert.Zero(t, n)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("  ")
	assert.Error(t, err)
}

func TestOpenIsReentrant(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateMatch(context.Background(), "m1", config.DefaultRules(), time.Now()))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	rec, err := second.GetMatch(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 9, rec.Width)
}

func TestCloseNilStore(t *testing.T) {
	t.Parallel()

	var s *Store
	assert.NoError(t, s.Close())
}

func TestAppendAndLoadCommands(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	rules := config.DefaultRules()
	require.NoError(t, store.CreateMatch(ctx, "m1", rules, time.UnixMilli(1000)))

	first := []game.Command{
		{Seq: 1, Type: game.CmdNewMatch, MatchID: "m1", Width: 9, Height: 9},
		{Seq: 2, Type: game.CmdSpawnUnit, Unit: 1, Team: game.TeamRed, Kind: game.KindSpirit, To: game.Pos{X: 2, Y: 0}},
	}
	second := []game.Command{
		{Seq: 2, Type: game.CmdSpawnUnit, Unit: 1, Team: game.TeamRed, Kind: game.KindSpirit, To: game.Pos{X: 2, Y: 0}},
		{Seq: 3, Type: game.CmdMatchEnded, Team: game.TeamBlue},
	}
	require.NoError(t, store.AppendCommands(ctx, "m1", first))
	require.NoError(t, store.AppendCommands(ctx, "m1", second))

	cmds, err := store.LoadCommands(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	for i, c := range cmds {
		assert.Equal(t, uint64(i+1), c.Seq)
	}
	assert.Equal(t, game.Pos{X: 2, Y: 0}, cmds[1].To)

	rec, err := store.GetMatch(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.LastSeq)
	assert.True(t, rec.Ended)
	assert.Equal(t, game.TeamBlue, rec.Winner)
	assert.Equal(t, rules, rec.Rules)
}

func TestAppendUnknownMatch(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.AppendCommands(context.Background(), "missing", []game.Command{{Seq: 1, Type: game.CmdNewMatch}})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.LoadCommands(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListMatchesNewestFirst(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateMatch(ctx, "old", config.DefaultRules(), time.UnixMilli(1000)))
	require.NoError(t, store.CreateMatch(ctx, "new", config.DefaultRules(), time.UnixMilli(2000)))

	list, err := store.ListMatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	assert.False(t, list[0].Ended)
	assert.Equal(t, game.NoTeam, list[0].Winner)

	limited, err := store.ListMatches(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.CreateMatch(ctx, "m1", config.DefaultRules(), time.Now()), context.Canceled)
}

// TestRecorderReplaysEngine verifies a journaled match replays to the live state
func TestRecorderReplaysEngine(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	recorder := NewRecorder(store)
	recorder.Start()

	engine := game.NewEngine(game.EngineConfig{Rules: config.DefaultRules(), Journal: recorder})
	engine.SetStarted(true)
	_, err := engine.ProposeMove(game.TeamRed, 6, game.Pos{X: 3, Y: 2})
	require.NoError(t, err)
	require.NoError(t, engine.ProposePassTurn(game.TeamBlue))
	recorder.Stop()

	cmds, err := store.LoadCommands(context.Background(), engine.MatchID())
	require.NoError(t, err)
	history := engine.History(0)
	require.Len(t, cmds, len(history))
	for i := range history {
		assert.Equal(t, history[i].Seq, cmds[i].Seq)
		assert.Equal(t, history[i].Type, cmds[i].Type)
	}

	mirror, err := game.Replay(cmds)
	require.NoError(t, err)
	want, got := engine.GetSnapshot(), mirror.Snapshot()
	assert.Equal(t, want.Sequence, got.Sequence)
	assert.Equal(t, want.Units, got.Units)
	assert.Equal(t, want.Turn, got.Turn)

	stats := recorder.Stats()
	assert.Equal(t, int64(0), stats["dropped"])
	assert.Equal(t, int64(0), stats["failed"])
}

func TestRecorderDropsAfterStop(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(openTempStore(t))
	recorder.Start()
	recorder.Stop()
	recorder.Append("m1", []game.Command{{Seq: 1}})
	assert.Equal(t, int64(1), recorder.Stats()["dropped"])
}
