package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lowaak/treadmill-pacer/internal/pacer"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ActiveSession is the durable record of a session that is still running.
// It survives process death so the session can be closed out on next start.
type ActiveSession struct {
	SessionID         string
	StartedAt         time.Time
	Plan              []pacer.Segment
	PreChangeSeconds  int
	Units             pacer.Units
	CheckpointElapsed int
	UpdatedAt         time.Time
}

// HistoryEntry is a finished session.
type HistoryEntry struct {
	SessionID      string          `json:"sessionId"`
	StartedAt      time.Time       `json:"startedAt"`
	EndedAt        time.Time       `json:"endedAt"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	Aborted        bool            `json:"aborted"`
	Recovered      bool            `json:"recovered"`
	Units          pacer.Units     `json:"units"`
	Plan           []pacer.Segment `json:"plan"`
	Realized       []pacer.Segment `json:"realized"`
	Error          string          `json:"error,omitempty"`
}

// Store persists session history and the active-session record in SQLite.
type Store struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at dbPath. Use ":memory:" for
// a throwaway store.
func Open(dbPath string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		panic("Store: logger cannot be nil")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Printf("Store: Opened %s", dbPath)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  session_id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  ended_at INTEGER NOT NULL,
  elapsed_seconds INTEGER NOT NULL,
  aborted INTEGER NOT NULL,
  recovered INTEGER NOT NULL DEFAULT 0,
  units TEXT NOT NULL,
  plan_json TEXT NOT NULL,
  realized_json TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions (started_at);
CREATE TABLE IF NOT EXISTS active_session (
  slot INTEGER PRIMARY KEY CHECK (slot = 1),
  session_id TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  plan_json TEXT NOT NULL,
  pre_change_seconds INTEGER NOT NULL,
  units TEXT NOT NULL,
  checkpoint_elapsed INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// BeginSession replaces the active-session record.
func (s *Store) BeginSession(ctx context.Context, active ActiveSession) error {
	planJSON, err := json.Marshal(active.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	const stmt = `
INSERT INTO active_session (slot, session_id, started_at, plan_json, pre_change_seconds, units, checkpoint_elapsed, updated_at)
VALUES (1, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(slot) DO UPDATE SET
  session_id=excluded.session_id,
  started_at=excluded.started_at,
  plan_json=excluded.plan_json,
  pre_change_seconds=excluded.pre_change_seconds,
  units=excluded.units,
  checkpoint_elapsed=excluded.checkpoint_elapsed,
  updated_at=excluded.updated_at;
`
	_, err = s.db.ExecContext(ctx, stmt,
		active.SessionID,
		active.StartedAt.UnixMilli(),
		string(planJSON),
		active.PreChangeSeconds,
		string(active.Units),
		active.CheckpointElapsed,
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("begin session %s: %w", active.SessionID, err)
	}
	return nil
}

// Checkpoint records elapsed seconds for the active session. A checkpoint for
// any other session returns ErrNotFound.
func (s *Store) Checkpoint(ctx context.Context, sessionID string, elapsed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE active_session SET checkpoint_elapsed = ?, updated_at = ? WHERE session_id = ? AND checkpoint_elapsed <= ?`,
		elapsed, s.now().UnixMilli(), sessionID, elapsed)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", sessionID, err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_session WHERE session_id = ?`, sessionID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", sessionID, err)
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// ActiveSession returns the active-session record, or ErrNotFound.
func (s *Store) ActiveSession(ctx context.Context) (ActiveSession, error) {
	var (
		out       ActiveSession
		startedAt int64
		updatedAt int64
		planJSON  string
		units     string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT session_id, started_at, plan_json, pre_change_seconds, units, checkpoint_elapsed, updated_at
FROM active_session WHERE slot = 1`).Scan(
		&out.SessionID, &startedAt, &planJSON, &out.PreChangeSeconds, &units, &out.CheckpointElapsed, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ActiveSession{}, ErrNotFound
	}
	if err != nil {
		return ActiveSession{}, fmt.Errorf("read active session: %w", err)
	}
	if err := json.Unmarshal([]byte(planJSON), &out.Plan); err != nil {
		return ActiveSession{}, fmt.Errorf("decode active plan: %w", err)
	}
	out.StartedAt = time.UnixMilli(startedAt)
	out.UpdatedAt = time.UnixMilli(updatedAt)
	out.Units = pacer.Units(units)
	return out, nil
}

// FinishSession writes the history entry and clears the active record of the
// same session in one transaction.
func (s *Store) FinishSession(ctx context.Context, entry HistoryEntry) error {
	planJSON, err := json.Marshal(entry.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	realizedJSON, err := json.Marshal(entry.Realized)
	if err != nil {
		return fmt.Errorf("encode realized segments: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
INSERT INTO sessions (session_id, started_at, ended_at, elapsed_seconds, aborted, recovered, units, plan_json, realized_json, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO NOTHING;
`
	_, err = tx.ExecContext(ctx, insert,
		entry.SessionID,
		entry.StartedAt.UnixMilli(),
		entry.EndedAt.UnixMilli(),
		entry.ElapsedSeconds,
		boolToInt(entry.Aborted),
		boolToInt(entry.Recovered),
		string(entry.Units),
		string(planJSON),
		string(realizedJSON),
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert history %s: %w", entry.SessionID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_session WHERE session_id = ?`, entry.SessionID); err != nil {
		return fmt.Errorf("clear active session %s: %w", entry.SessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish %s: %w", entry.SessionID, err)
	}
	s.logger.Printf("Store: Recorded session %s (elapsed %ds, aborted %v)", entry.SessionID, entry.ElapsedSeconds, entry.Aborted)
	return nil
}

// RecoverOrphan closes out an active record left behind by a process that
// died mid-session. It returns the history entry written, or ErrNotFound when
// there was nothing to recover.
func (s *Store) RecoverOrphan(ctx context.Context) (HistoryEntry, error) {
	active, err := s.ActiveSession(ctx)
	if err != nil {
		return HistoryEntry{}, err
	}
	elapsed := active.CheckpointElapsed
	if total := pacer.TotalSeconds(active.Plan); elapsed > total {
		elapsed = total
	}
	entry := HistoryEntry{
		SessionID:      active.SessionID,
		StartedAt:      active.StartedAt,
		EndedAt:        active.UpdatedAt,
		ElapsedSeconds: elapsed,
		Aborted:        true,
		Recovered:      true,
		Units:          active.Units,
		Plan:           active.Plan,
		Realized:       pacer.RealizedSegments(active.Plan, elapsed),
		Error:          "process exited during session",
	}
	if err := s.FinishSession(ctx, entry); err != nil {
		return HistoryEntry{}, err
	}
	s.logger.Printf("Store: Recovered orphaned session %s at %ds", entry.SessionID, elapsed)
	return entry, nil
}

// History returns up to limit finished sessions, newest first. limit <= 0
// means no limit.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `
SELECT session_id, started_at, ended_at, elapsed_seconds, aborted, recovered, units, plan_json, realized_json, error
FROM sessions ORDER BY started_at DESC, session_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Session returns one finished session, or ErrNotFound.
func (s *Store) Session(ctx context.Context, sessionID string) (HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, started_at, ended_at, elapsed_seconds, aborted, recovered, units, plan_json, realized_json, error
FROM sessions WHERE session_id = ?`, sessionID)
	entry, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryEntry{}, ErrNotFound
	}
	return entry, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (HistoryEntry, error) {
	var (
		entry                  HistoryEntry
		startedAt, endedAt     int64
		aborted, recovered     int
		units                  string
		planJSON, realizedJSON string
	)
	err := row.Scan(&entry.SessionID, &startedAt, &endedAt, &entry.ElapsedSeconds, &aborted, &recovered,
		&units, &planJSON, &realizedJSON, &entry.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HistoryEntry{}, err
		}
		return HistoryEntry{}, fmt.Errorf("scan history: %w", err)
	}
	if err := json.Unmarshal([]byte(planJSON), &entry.Plan); err != nil {
		return HistoryEntry{}, fmt.Errorf("decode plan of %s: %w", entry.SessionID, err)
	}
	if err := json.Unmarshal([]byte(realizedJSON), &entry.Realized); err != nil {
		return HistoryEntry{}, fmt.Errorf("decode realized segments of %s: %w", entry.SessionID, err)
	}
	entry.StartedAt = time.UnixMilli(startedAt)
	entry.EndedAt = time.UnixMilli(endedAt)
	entry.Aborted = aborted != 0
	entry.Recovered = recovered != 0
	entry.Units = pacer.Units(units)
	return entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
