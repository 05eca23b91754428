package explog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
)

// #region schema
const columns = `
	seq             INTEGER PRIMARY KEY %s,
	id              TEXT NOT NULL UNIQUE,
	cycle_id        TEXT NOT NULL,
	attempt         INTEGER NOT NULL,
	status          TEXT NOT NULL,
	reason          TEXT,
	hypothesis_json TEXT NOT NULL,
	plan_json       TEXT NOT NULL,
	result_json     TEXT NOT NULL,
	created_at      TEXT NOT NULL
`

var schema = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS experiment_log (%s);
CREATE TABLE IF NOT EXISTS experiment_log_archive (%s);
CREATE INDEX IF NOT EXISTS idx_experiment_log_cycle ON experiment_log(cycle_id);
`, fmt.Sprintf(columns, "AUTOINCREMENT"), fmt.Sprintf(columns, ""))

const selectCols = `seq, id, cycle_id, attempt, status, reason, hypothesis_json, plan_json, result_json, created_at`

// #endregion schema

// #region log-struct
// Options controls retention. MaxLive <= 0 keeps every entry in the live table.
type Options struct {
	MaxLive int
}

// Log is the append-only experiment audit trail. Entries past MaxLive move to
// an archive table; Entries still returns the full history in append order.
type Log struct {
	db   *sql.DB
	opts Options
	mu   sync.Mutex
}

// New migrates the log tables on db.
func New(db *sql.DB, opts Options) (*Log, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate experiment log: %w", err)
	}
	return &Log{db: db, opts: opts}, nil
}

// #endregion log-struct

// #region append
// Append writes entry and returns it with Seq, ID and CreatedAt filled in.
func (l *Log) Append(ctx context.Context, entry experiment.LogEntry) (experiment.LogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	hypJSON, err := json.Marshal(entry.Hypothesis)
	if err != nil {
		return entry, fmt.Errorf("marshal hypothesis: %w", err)
	}
	planJSON, err := json.Marshal(entry.Plan)
	if err != nil {
		// Steps the codec rejects are dropped; the entry records why.
		entry.Plan.Steps = nil
		entry.Reason = joinReason(entry.Reason, "plan steps not recorded: "+err.Error())
		if planJSON, err = json.Marshal(entry.Plan); err != nil {
			return entry, fmt.Errorf("marshal plan: %w", err)
		}
	}
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return entry, fmt.Errorf("marshal result: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO experiment_log (id, cycle_id, attempt, status, reason, hypothesis_json, plan_json, result_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CycleID, entry.Attempt, string(entry.Status), nullIfEmpty(entry.Reason),
		string(hypJSON), string(planJSON), string(resultJSON),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}
	entry.Seq, err = res.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("append entry: %w", err)
	}

	if l.opts.MaxLive > 0 {
		if err := l.compactLocked(ctx); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

// #endregion append

// #region compact
// Compact moves everything but the newest MaxLive entries to the archive.
func (l *Log) Compact(ctx context.Context) error {
	if l.opts.MaxLive <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.compactLocked(ctx)
}

func (l *Log) compactLocked(ctx context.Context) error {
	var cutoff sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT seq FROM experiment_log ORDER BY seq DESC LIMIT 1 OFFSET ?`, l.opts.MaxLive,
	).Scan(&cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	if !cutoff.Valid {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("compact begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO experiment_log_archive (`+selectCols+`)
		 SELECT `+selectCols+` FROM experiment_log WHERE seq <= ?`, cutoff.Int64,
	); err != nil {
		return fmt.Errorf("compact archive: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM experiment_log WHERE seq <= ?`, cutoff.Int64,
	); err != nil {
		return fmt.Errorf("compact delete: %w", err)
	}
	return tx.Commit()
}

// #endregion compact

// #region read
// Entries returns every entry, archived and live, in append order.
func (l *Log) Entries(ctx context.Context) ([]experiment.LogEntry, error) {
	return l.query(ctx,
		`SELECT `+selectCols+` FROM experiment_log_archive
		 UNION ALL
		 SELECT `+selectCols+` FROM experiment_log
		 ORDER BY seq ASC`)
}

// Recent returns the newest n live entries in append order.
func (l *Log) Recent(ctx context.Context, n int) ([]experiment.LogEntry, error) {
	return l.query(ctx,
		`SELECT * FROM (SELECT `+selectCols+` FROM experiment_log ORDER BY seq DESC LIMIT ?)
		 ORDER BY seq ASC`, n)
}

// ByCycle returns the entries of one cycle in append order.
func (l *Log) ByCycle(ctx context.Context, cycleID string) ([]experiment.LogEntry, error) {
	return l.query(ctx,
		`SELECT `+selectCols+` FROM experiment_log_archive WHERE cycle_id = ?
		 UNION ALL
		 SELECT `+selectCols+` FROM experiment_log WHERE cycle_id = ?
		 ORDER BY seq ASC`, cycleID, cycleID)
}

// Count returns the number of live and archived entries.
func (l *Log) Count(ctx context.Context) (live, archived int, err error) {
	if err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiment_log`).Scan(&live); err != nil {
		return 0, 0, fmt.Errorf("count live: %w", err)
	}
	if err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiment_log_archive`).Scan(&archived); err != nil {
		return 0, 0, fmt.Errorf("count archive: %w", err)
	}
	return live, archived, nil
}

func (l *Log) query(ctx context.Context, q string, args ...any) ([]experiment.LogEntry, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()

	var entries []experiment.LogEntry
	for rows.Next() {
		var e experiment.LogEntry
		var status, hypJSON, planJSON, resultJSON, createdStr string
		var reason sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &e.CycleID, &e.Attempt, &status, &reason,
			&hypJSON, &planJSON, &resultJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Status = experiment.EntryStatus(status)
		if reason.Valid {
			e.Reason = reason.String
		}
		if err := json.Unmarshal([]byte(hypJSON), &e.Hypothesis); err != nil {
			return nil, fmt.Errorf("entry %d hypothesis: %w", e.Seq, err)
		}
		if err := json.Unmarshal([]byte(planJSON), &e.Plan); err != nil {
			return nil, fmt.Errorf("entry %d plan: %w", e.Seq, err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &e.Result); err != nil {
			return nil, fmt.Errorf("entry %d result: %w", e.Seq, err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr)
		if err != nil {
			return nil, fmt.Errorf("entry %d created_at: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion read

// #region helpers
func joinReason(reason, note string) string {
	if reason == "" {
		return note
	}
	return reason + "; " + note
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
