// Package history keeps a ledger of visual runs in SQLite so an operator can
// see when a scenario started drifting. The ledger is informational: nothing
// in a check reads it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/visreg/dbopen"
	"github.com/hazyhaar/visreg/idgen"
	"github.com/hazyhaar/visreg/verdict"
)

// Result is one scenario row of a run.
type Result struct {
	Scenario string
	Status   verdict.Status
	Changed  int
	Total    int
	Ratio    float64
	Detail   string
}

// Run is one recorded invocation.
type Run struct {
	ID         string
	Mode       string // "check", "write-baseline", "write-baseline+check"
	Threshold  float64
	Passed     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
}

// FromReport builds a Run from a check report. ID is left empty for Record.
func FromReport(mode string, started time.Time, rep *verdict.Report) Run {
	r := Run{
		Mode:       mode,
		Threshold:  rep.Threshold,
		Passed:     rep.Passed(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	for _, e := range rep.Entries {
		r.Results = append(r.Results, Result{
			Scenario: e.Scenario,
			Status:   e.Status,
			Changed:  e.Changed,
			Total:    e.Total,
			Ratio:    e.Ratio,
			Detail:   e.Detail(),
		})
	}
	return r
}

// Store persists runs.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
	owned  bool
	dbOpts []dbopen.Option
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Store) { s.newID = gen } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithDBOptions passes extra dbopen options (busy timeout, synchronous mode)
// to Open. New ignores them.
func WithDBOptions(opts ...dbopen.Option) Option {
	return func(s *Store) { s.dbOpts = append(s.dbOpts, opts...) }
}

// Open opens (creating if needed) the ledger at path. The caller must
// blank-import modernc.org/sqlite.
func Open(path string, opts ...Option) (*Store, error) {
	var pre Store
	for _, o := range opts {
		o(&pre)
	}
	dbOpts := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, pre.dbOpts...)
	db, err := dbopen.Open(path, dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing database. Schema must already be applied.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		newID:  idgen.Prefixed("run_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// Record stores run and its results in one transaction and returns the run ID.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = s.newID()
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO visreg_runs (run_id, mode, threshold, passed, started_at, finished_at)
			VALUES (?,?,?,?,?,?)`,
			run.ID, run.Mode, run.Threshold, run.Passed,
			run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for i, r := range run.Results {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO visreg_results (run_id, position, scenario, status, changed, total, ratio, detail)
				VALUES (?,?,?,?,?,?,?,?)`,
				run.ID, i, r.Scenario, string(r.Status), r.Changed, r.Total, r.Ratio, r.Detail)
			if err != nil {
				return fmt.Errorf("insert result %s: %w", r.Scenario, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("history: record: %w", err)
	}
	s.logger.Debug("history: run recorded", "run_id", run.ID, "passed", run.Passed)
	return run.ID, nil
}

// Recent returns up to limit runs, newest first, with their results.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, threshold, passed, started_at, finished_at
		FROM visreg_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Mode, &r.Threshold, &r.Passed, &started, &finished); err != nil {
			rows.Close()
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: runs: %w", err)
	}

	for i := range runs {
		res, err := s.results(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Results = res
	}
	return runs, nil
}

// ScenarioTrend returns the ratios recorded for scenario, newest first.
func (s *Store) ScenarioTrend(ctx context.Context, scenario string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.ratio
		FROM visreg_results r JOIN visreg_runs u ON u.run_id = r.run_id
		WHERE r.scenario = ?
		ORDER BY u.started_at DESC, u.run_id DESC
		LIMIT ?`, scenario, limit)
	if err != nil {
		return nil, fmt.Errorf("history: trend: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("history: trend scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario, status, changed, total, ratio, detail
		FROM visreg_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query results: %w", err)
	}
	defer rows.Close()
	var out []Result
	for rows.Next() {
		var r Result
		var status string
		if err := rows.Scan(&r.Scenario, &status, &r.Changed, &r.Total, &r.Ratio, &r.Detail); err != nil {
			return nil, fmt.Errorf("history: scan result: %w", err)
		}
		r.Status = verdict.Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
