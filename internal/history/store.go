package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxStderrBytes caps the stderr persisted per step.
const maxStderrBytes = 64 * 1024

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ListFilter narrows List. Empty Kind or Status matches any value.
type ListFilter struct {
	Kind   Kind
	Status Status
	Limit  int
}

// Store persists runs in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts run and its steps, assigning run.ID if empty.
func (s *Store) Record(ctx context.Context, run *Run) (string, error) {
	if run.Kind == "" {
		return "", fmt.Errorf("run kind is empty")
	}
	if run.Status == "" {
		return "", fmt.Errorf("run status is empty")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.CompletedAt.IsZero() {
		run.CompletedAt = run.StartedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO run(id, kind, target, class, branch, event, status, exit_code, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, run.ID, run.Kind, run.Target, run.Class, run.Branch, run.Event, run.Status, run.ExitCode,
		formatTime(run.StartedAt), formatTime(run.CompletedAt))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, st := range run.Steps {
		seq := st.Seq
		if seq == 0 {
			seq = i + 1
		}
		argv, err := json.Marshal(st.Argv)
		if err != nil {
			return "", fmt.Errorf("marshal argv: %w", err)
		}
		var stderr any
		if st.Stderr != "" {
			stderr = truncate(st.Stderr)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO run_step(run_id, seq, name, kind, argv, exit_code, timed_out, duration_ms, stderr)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, run.ID, seq, st.Name, st.Kind, string(argv), st.ExitCode, st.TimedOut, st.Duration.Milliseconds(), stderr)
		if err != nil {
			return "", fmt.Errorf("insert step %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return run.ID, nil
}

// List returns the most recent runs matching f, newest first, without steps.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, target, class, branch, event, status, exit_code, started_at, completed_at
FROM run
WHERE (? = '' OR kind = ?)
  AND (? = '' OR status = ?)
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, string(f.Kind), string(f.Kind), string(f.Status), string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Get returns a run with its steps.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, kind, target, class, branch, event, status, exit_code, started_at, completed_at
FROM run
WHERE id = ?;
`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT seq, name, kind, argv, exit_code, timed_out, duration_ms, stderr
FROM run_step
WHERE run_id = ?
ORDER BY seq ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st         Step
			argv       string
			durationMS int64
			stderr     sql.NullString
		)
		if err := rows.Scan(&st.Seq, &st.Name, &st.Kind, &argv, &st.ExitCode, &st.TimedOut, &durationMS, &stderr); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(argv), &st.Argv); err != nil {
			return nil, fmt.Errorf("decode argv: %w", err)
		}
		st.Duration = time.Duration(durationMS) * time.Millisecond
		if stderr.Valid {
			st.Stderr = stderr.String
		}
		r.Steps = append(r.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	return r, nil
}

// Count returns the number of recorded runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// Prune deletes runs (and their steps) that started before the retention window.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-retention))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Explicit so pruning does not depend on foreign_keys being on for this connection.
	if _, err := tx.ExecContext(ctx, `
DELETE FROM run_step WHERE run_id IN (SELECT id FROM run WHERE started_at < ?);
`, cutoff); err != nil {
		return 0, fmt.Errorf("prune steps: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM run WHERE started_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                      Run
		kind, status           string
		startedAt, completedAt string
	)
	err := sc.Scan(&r.ID, &kind, &r.Target, &r.Class, &r.Branch, &r.Event, &status, &r.ExitCode, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Kind = Kind(kind)
	r.Status = Status(status)
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		r.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
		r.CompletedAt = t
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// truncate keeps the tail of s, starting on a rune boundary.
func truncate(s string) string {
	if len(s) <= maxStderrBytes {
		return s
	}
	s = s[len(s)-maxStderrBytes:]
	for i := 0; i < len(s) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(s[i]) {
			return s[i:]
		}
	}
	return s
}
