package pipeline

import (
	"database/sql"

	"github.com/HerbHall/backscatter/internal/store"
)

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create pipeline ledger tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS pipeline_runs (
						id TEXT PRIMARY KEY,
						aoi TEXT NOT NULL,
						polarization TEXT NOT NULL,
						start_date TEXT NOT NULL,
						end_date TEXT NOT NULL,
						status TEXT NOT NULL DEFAULT 'running',
						error_message TEXT,
						started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						finished_at DATETIME
					)`,

					`CREATE TABLE IF NOT EXISTS pipeline_fetches (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
						aoi TEXT NOT NULL,
						orbit TEXT NOT NULL,
						polarization TEXT NOT NULL,
						fid TEXT NOT NULL,
						direction TEXT NOT NULL,
						start_date TEXT NOT NULL,
						end_date TEXT NOT NULL,
						added INTEGER NOT NULL DEFAULT 0,
						fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_pipeline_fetches_run ON pipeline_fetches(run_id)`,

					`CREATE TABLE IF NOT EXISTS pipeline_bounds (
						aoi TEXT NOT NULL,
						orbit TEXT NOT NULL,
						polarization TEXT NOT NULL,
						fid TEXT NOT NULL,
						first_date TEXT NOT NULL,
						last_date TEXT NOT NULL,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (aoi, orbit, polarization, fid)
					)`,

					`CREATE TABLE IF NOT EXISTS pipeline_anomalies (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
						aoi TEXT NOT NULL,
						orbit TEXT NOT NULL,
						polarization TEXT NOT NULL,
						fid TEXT NOT NULL,
						date TEXT NOT NULL,
						value REAL NOT NULL,
						reference REAL NOT NULL,
						direction TEXT NOT NULL,
						z_score REAL NOT NULL,
						severity TEXT NOT NULL,
						scene_id TEXT
					)`,
					`CREATE INDEX IF NOT EXISTS idx_pipeline_anomalies_key ON pipeline_anomalies(aoi, orbit, polarization, fid, date)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
