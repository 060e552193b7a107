package history

// Schema creates the run ledger tables. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS visreg_runs (
	run_id       TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	threshold    REAL NOT NULL,
	passed       INTEGER NOT NULL,
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_visreg_runs_started ON visreg_runs(started_at);

CREATE TABLE IF NOT EXISTS visreg_results (
	run_id    TEXT NOT NULL REFERENCES visreg_runs(run_id) ON DELETE CASCADE,
	position  INTEGER NOT NULL,
	scenario  TEXT NOT NULL,
	status    TEXT NOT NULL,
	changed   INTEGER NOT NULL DEFAULT 0,
	total     INTEGER NOT NULL DEFAULT 0,
	ratio     REAL NOT NULL DEFAULT 0,
	detail    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);
`
