// Package store persists capture requests and their status transitions in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dgnsrekt/adcapture/internal/capture"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var (
	ErrNotFound   = errors.New("capture store: not found")
	ErrNotPending = errors.New("capture store: capture is not pending")
)

// Record is one stored capture request.
type Record struct {
	ID                  string          `json:"id"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Status              Status          `json:"status"`
	Request             capture.Request `json:"request"`
	PlacementSnapshotID string          `json:"placement_snapshot_id,omitempty"`
	LandingSnapshotID   string          `json:"landing_snapshot_id,omitempty"`
	LandingFinalURL     string          `json:"landing_final_url,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	DurationMS          int64           `json:"duration_ms"`
	Diagnostics         json.RawMessage `json:"diagnostics,omitempty"`
}

// Completion is what a finished capture writes back.
type Completion struct {
	PlacementSnapshotID string
	LandingSnapshotID   string
	LandingFinalURL     string
	Duration            time.Duration
	Diagnostics         any
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id                    TEXT PRIMARY KEY,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	status                TEXT NOT NULL,
	channel               TEXT NOT NULL,
	publisher_url         TEXT NOT NULL,
	creative_url          TEXT NOT NULL,
	click_url             TEXT NOT NULL DEFAULT '',
	capture_landing       INTEGER NOT NULL DEFAULT 0,
	injection_mode        TEXT NOT NULL,
	slot_count            INTEGER NOT NULL DEFAULT 1,
	placement_snapshot_id TEXT NOT NULL DEFAULT '',
	landing_snapshot_id   TEXT NOT NULL DEFAULT '',
	landing_final_url     TEXT NOT NULL DEFAULT '',
	error_message         TEXT NOT NULL DEFAULT '',
	duration_ms           INTEGER NOT NULL DEFAULT 0,
	diagnostics           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS captures_status_created ON captures(status, created_at);
`

// Open opens or creates the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("capture store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("capture store: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

// Create stores req as pending. An empty ID is replaced with a new UUID.
func (s *Store) Create(ctx context.Context, req capture.Request) (Record, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ts := s.stamp()
	_, err := s.db.ExecContext(ctx, `INSERT INTO captures
		(id, created_at, updated_at, status, channel, publisher_url, creative_url, click_url,
		 capture_landing, injection_mode, slot_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, ts, ts, StatusPending, req.Channel, req.PublisherURL, req.CreativeURL, req.ClickURL,
		req.CaptureLanding, string(req.InjectionMode), req.SlotCount)
	if err != nil {
		return Record{}, fmt.Errorf("capture store: insert %s: %w", req.ID, err)
	}
	return s.Get(ctx, req.ID)
}

const selectCols = `id, created_at, updated_at, status, channel, publisher_url, creative_url, click_url,
	capture_landing, injection_mode, slot_count, placement_snapshot_id, landing_snapshot_id,
	landing_final_url, error_message, duration_ms, diagnostics`

type scanner interface{ Scan(dest ...any) error }

func scanRecord(row scanner) (Record, error) {
	var (
		r                  Record
		created, updated   string
		status, mode, diag string
	)
	err := row.Scan(&r.ID, &created, &updated, &status, &r.Request.Channel, &r.Request.PublisherURL,
		&r.Request.CreativeURL, &r.Request.ClickURL, &r.Request.CaptureLanding, &mode, &r.Request.SlotCount,
		&r.PlacementSnapshotID, &r.LandingSnapshotID, &r.LandingFinalURL, &r.ErrorMessage, &r.DurationMS, &diag)
	if err != nil {
		return Record{}, err
	}
	r.Request.ID = r.ID
	r.Request.InjectionMode = capture.Mode(mode)
	r.Status = Status(status)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if diag != "" {
		r.Diagnostics = json.RawMessage(diag)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM captures WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("capture store: get %s: %w", id, err)
	}
	return r, nil
}

// List returns records newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var (
		where []string
		args  []any
	)
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	q := `SELECT ` + selectCols + ` FROM captures`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("capture store: list: %w", err)
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("capture store: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkProcessing moves a pending record to processing. It returns
// ErrNotPending for any other status.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE captures SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusProcessing, s.stamp(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("capture store: mark processing %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotPending
}

func (s *Store) Complete(ctx context.Context, id string, c Completion) error {
	diag, err := encodeDiagnostics(c.Diagnostics)
	if err != nil {
		return err
	}
	return s.finish(ctx, id, `UPDATE captures SET status = ?, updated_at = ?, placement_snapshot_id = ?,
		landing_snapshot_id = ?, landing_final_url = ?, duration_ms = ?, diagnostics = ?, error_message = ''
		WHERE id = ?`,
		StatusCompleted, s.stamp(), c.PlacementSnapshotID, c.LandingSnapshotID, c.LandingFinalURL,
		c.Duration.Milliseconds(), diag, id)
}

// Fail marks id failed. diagnostics, when non-nil, records how far the run
// got before it stopped.
func (s *Store) Fail(ctx context.Context, id, message string, duration time.Duration, diagnostics any) error {
	diag, err := encodeDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.finish(ctx, id, `UPDATE captures SET status = ?, updated_at = ?, error_message = ?, duration_ms = ?,
		diagnostics = ? WHERE id = ?`,
		StatusFailed, s.stamp(), message, duration.Milliseconds(), diag, id)
}

func encodeDiagnostics(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("capture store: encode diagnostics: %w", err)
	}
	return string(b), nil
}

func (s *Store) finish(ctx context.Context, id, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("capture store: update %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetStale returns records left processing by a previous process to
// pending. It is meant to run once at startup.
func (s *Store) ResetStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE captures SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, s.stamp(), StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("capture store: reset stale: %w", err)
	}
	return res.RowsAffected()
}
