// Package sqlite persists the match journal: every match the authority
// creates and every command it commits, in sequence order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"loa-board/internal/config"
	"loa-board/internal/game"
	"loa-board/internal/storage/sqlite/migrations"
)

// ErrNotFound is returned when a match is not in the journal.
var ErrNotFound = errors.New("match not found")

// Store provides SQLite-backed journal persistence.
type Store struct {
	sqlDB *sql.DB
}

// MatchRecord summarises one journaled match.
type MatchRecord struct {
	ID        string             `json:"id"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Rules     config.RulesConfig `json:"rules"`
	LastSeq   uint64             `json:"lastSeq"`
	Ended     bool               `json:"ended"`
	Winner    game.Team          `json:"winner"`
	CreatedAt time.Time          `json:"createdAt"`
	EndedAt   *time.Time         `json:"endedAt,omitempty"`
}

// Open opens a SQLite journal store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One writer keeps the per-match sequence inserts ordered.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateMatch records a new match and its ruleset. Recording the same match
// twice is a no-op.
func (s *Store) CreateMatch(ctx context.Context, matchID string, rules config.RulesConfig, createdAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(matchID) == "" {
		return fmt.Errorf("match id is required")
	}

	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO matches (id, width, height, rules_json, created_at)
VALUES (?, ?, ?, ?, ?)`,
		matchID, rules.BoardWidth, rules.BoardHeight, string(rulesJSON), createdAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// AppendCommands stores a committed batch in one transaction. Commands
// already journaled under the same sequence number are skipped.
func (s *Store) AppendCommands(ctx context.Context, matchID string, cmds []game.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(cmds) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM matches WHERE id = ?`, matchID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("append to %s: %w", matchID, ErrNotFound)
		}
		return fmt.Errorf("lookup match: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO commands (match_id, seq, type, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var last uint64
	for _, c := range cmds {
		body, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal command %d: %w", c.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, matchID, int64(c.Seq), c.Type.String(), string(body)); err != nil {
			return fmt.Errorf("insert command %d: %w", c.Seq, err)
		}
		last = max(last, c.Seq)

		if c.Type == game.CmdMatchEnded {
			if _, err := tx.ExecContext(ctx,
				`UPDATE matches SET winner = ?, ended_at = ? WHERE id = ?`,
				int(c.Team), time.Now().UTC().UnixMilli(), matchID,
			); err != nil {
				return fmt.Errorf("record winner: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE matches SET last_seq = MAX(last_seq, ?) WHERE id = ?`, int64(last), matchID,
	); err != nil {
		return fmt.Errorf("update last seq: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// GetMatch returns one match summary.
func (s *Store) GetMatch(ctx context.Context, matchID string) (MatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return MatchRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return MatchRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, width, height, rules_json, last_seq, winner, created_at, ended_at
FROM matches WHERE id = ?`, matchID)
	rec, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MatchRecord{}, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	return rec, err
}

// ListMatches returns up to limit matches, newest first.
func (s *Store) ListMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, width, height, rules_json, last_seq, winner, created_at, ended_at
FROM matches ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

// LoadCommands returns a match's journaled commands in sequence order.
func (s *Store) LoadCommands(ctx context.Context, matchID string) ([]game.Command, error) {
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT body FROM commands WHERE match_id = ? ORDER BY seq`, matchID)
	if err != nil {
		return nil, fmt.Errorf("load commands: %w", err)
	}
	defer rows.Close()

	var out []game.Command
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		c, err := game.DecodeCommand([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (MatchRecord, error) {
	var (
		rec       MatchRecord
		rulesJSON string
		lastSeq   int64
		winner    sql.NullInt64
		createdAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.Width, &rec.Height, &rulesJSON, &lastSeq, &winner, &createdAt, &endedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MatchRecord{}, err
		}
		return MatchRecord{}, fmt.Errorf("scan match: %w", err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &rec.Rules); err != nil {
		return MatchRecord{}, fmt.Errorf("decode rules: %w", err)
	}
	rec.LastSeq = uint64(lastSeq)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.Winner = game.NoTeam
	if endedAt.Valid {
		rec.Ended = true
		t := time.UnixMilli(endedAt.Int64).UTC()
		rec.EndedAt = &t
		if winner.Valid {
			rec.Winner = game.Team(winner.Int64)
		}
	}
	return rec, nil
}
