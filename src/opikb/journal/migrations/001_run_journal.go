package migrations

import (
	"database/sql"
)

func migration001RunJournal() Migration {
	return Migration{
		Version:     1,
		Description: "Add runs and stage_results tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE runs (
					id TEXT PRIMARY KEY,
					kernel_version TEXT NOT NULL,
					kernel_release TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					kernel_source TEXT DEFAULT '',
					failed_stage TEXT DEFAULT '',
					error_message TEXT DEFAULT '',
					warnings INTEGER DEFAULT 0,
					started_at DATETIME NOT NULL,
					completed_at DATETIME,
					duration_ms INTEGER DEFAULT 0
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE TABLE stage_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					name TEXT NOT NULL,
					policy TEXT NOT NULL,
					status TEXT NOT NULL,
					warnings INTEGER DEFAULT 0,
					message TEXT DEFAULT '',
					duration_ms INTEGER DEFAULT 0,
					recorded_at DATETIME NOT NULL,
					FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`CREATE INDEX idx_runs_started_at ON runs(started_at)`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`CREATE INDEX idx_stage_results_run_id ON stage_results(run_id)`)
			return err
		},
	}
}
