package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/backscatter/internal/anomaly"
	"github.com/HerbHall/backscatter/internal/archive"
	"github.com/HerbHall/backscatter/internal/store"
	"github.com/HerbHall/backscatter/pkg/series"
)

// Run statuses recorded in pipeline_runs.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Key identifies one processing unit.
type Key struct {
	AOI          string
	Orbit        series.Orbit
	Polarization series.Polarization
}

// FetchRecord is one fetched window.
type FetchRecord struct {
	RunID     string
	Key       Key
	FID       string
	Direction archive.Direction
	Start     time.Time
	End       time.Time
	Added     int
}

// Bounds is the date span a feature's archive covered after a run.
type Bounds struct {
	FID   string
	First time.Time
	Last  time.Time
}

// AnomalyRecord is one flagged observation.
type AnomalyRecord struct {
	RunID   string
	Key     Key
	FID     string
	Event   anomaly.Event
	SceneID string
}

// RunRecord is one pipeline run.
type RunRecord struct {
	ID           string
	AOI          string
	Polarization series.Polarization
	Start        time.Time
	End          time.Time
	Status       string
	Error        string
}

// Ledger records run history, archive bounds and flagged anomalies.
type Ledger struct {
	st *store.Store
	db *sql.DB
}

// NewLedger applies the ledger migrations to st.
func NewLedger(ctx context.Context, st *store.Store) (*Ledger, error) {
	if err := st.Migrate(ctx, "pipeline", migrations()); err != nil {
		return nil, err
	}
	return &Ledger{st: st, db: st.DB()}, nil
}

// StartRun inserts a run in the running state.
func (l *Ledger) StartRun(ctx context.Context, r RunRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, aoi, polarization, start_date, end_date, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.AOI, string(r.Polarization),
		r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly), RunRunning,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun marks a run succeeded, or failed with runErr.
func (l *Ledger) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := RunSucceeded, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET status = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		status, msg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun returns a run by id. Returns nil, nil if not found.
func (l *Ledger) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var r RunRecord
	var pol, start, end string
	var msg sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT id, aoi, polarization, start_date, end_date, status, error_message
		FROM pipeline_runs WHERE id = ?`,
		id,
	).Scan(&r.ID, &r.AOI, &pol, &start, &end, &r.Status, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.Polarization = series.Polarization(pol)
	r.Error = msg.String
	if r.Start, err = time.Parse(time.DateOnly, start); err != nil {
		return nil, fmt.Errorf("get run: start date: %w", err)
	}
	if r.End, err = time.Parse(time.DateOnly, end); err != nil {
		return nil, fmt.Errorf("get run: end date: %w", err)
	}
	return &r, nil
}

// ListRuns returns the runs recorded for an AOI, oldest first.
func (l *Ledger) ListRuns(ctx context.Context, aoiName string) ([]RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id FROM pipeline_runs WHERE aoi = ? ORDER BY rowid`, aoiName)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	// a single connection cannot serve GetRun while rows is open
	out := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		r, err := l.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// RecordFetch logs one fetched window.
func (l *Ledger) RecordFetch(ctx context.Context, f FetchRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_fetches (
			run_id, aoi, orbit, polarization, fid, direction, start_date, end_date, added
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.Key.AOI, string(f.Key.Orbit), string(f.Key.Polarization), f.FID,
		string(f.Direction), f.Start.Format(time.DateOnly), f.End.Format(time.DateOnly), f.Added,
	)
	if err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

// CountFetches returns the number of windows fetched by a run.
func (l *Ledger) CountFetches(ctx context.Context, runID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pipeline_fetches WHERE run_id = ?`, runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count fetches: %w", err)
	}
	return n, nil
}

// UpsertBounds stores the archive span of fid.
func (l *Ledger) UpsertBounds(ctx context.Context, k Key, b Bounds) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_bounds (aoi, orbit, polarization, fid, first_date, last_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aoi, orbit, polarization, fid) DO UPDATE SET
			first_date = excluded.first_date,
			last_date = excluded.last_date,
			updated_at = excluded.updated_at`,
		k.AOI, string(k.Orbit), string(k.Polarization), b.FID,
		b.First.Format(time.DateOnly), b.Last.Format(time.DateOnly), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert bounds: %w", err)
	}
	return nil
}

// GetBounds returns the recorded span of fid. Returns nil, nil if not found.
func (l *Ledger) GetBounds(ctx context.Context, k Key, fid string) (*Bounds, error) {
	var first, last string
	err := l.db.QueryRowContext(ctx, `
		SELECT first_date, last_date FROM pipeline_bounds
		WHERE aoi = ? AND orbit = ? AND polarization = ? AND fid = ?`,
		k.AOI, string(k.Orbit), string(k.Polarization), fid,
	).Scan(&first, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bounds: %w", err)
	}
	b := &Bounds{FID: fid}
	if b.First, err = time.Parse(time.DateOnly, first); err != nil {
		return nil, fmt.Errorf("get bounds: first date: %w", err)
	}
	if b.Last, err = time.Parse(time.DateOnly, last); err != nil {
		return nil, fmt.Errorf("get bounds: last date: %w", err)
	}
	return b, nil
}

// InsertAnomalies stores records in one transaction.
func (l *Ledger) InsertAnomalies(ctx context.Context, records []AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}
	return l.st.Tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pipeline_anomalies (
				run_id, aoi, orbit, polarization, fid, date, value, reference,
				direction, z_score, severity, scene_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("insert anomalies: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			_, err := stmt.ExecContext(ctx,
				r.RunID, r.Key.AOI, string(r.Key.Orbit), string(r.Key.Polarization), r.FID,
				r.Event.Date.Format(time.DateOnly), r.Event.Value, r.Event.Reference,
				r.Event.Direction, r.Event.ZScore, r.Event.Severity, r.SceneID,
			)
			if err != nil {
				return fmt.Errorf("insert anomaly %s/%s: %w", r.FID, r.Event.Date.Format(time.DateOnly), err)
			}
		}
		return nil
	})
}

// ListAnomalies returns every record for k across runs, ordered by fid and date.
func (l *Ledger) ListAnomalies(ctx context.Context, k Key) ([]AnomalyRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, fid, date, value, reference, direction, z_score, severity, scene_id
		FROM pipeline_anomalies
		WHERE aoi = ? AND orbit = ? AND polarization = ?
		ORDER BY fid, date, id`,
		k.AOI, string(k.Orbit), string(k.Polarization),
	)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []AnomalyRecord
	for rows.Next() {
		r := AnomalyRecord{Key: k}
		var date string
		var scene sql.NullString
		if err := rows.Scan(&r.RunID, &r.FID, &date, &r.Event.Value, &r.Event.Reference,
			&r.Event.Direction, &r.Event.ZScore, &r.Event.Severity, &scene); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		if r.Event.Date, err = time.Parse(time.DateOnly, date); err != nil {
			return nil, fmt.Errorf("scan anomaly date: %w", err)
		}
		r.SceneID = scene.String
		out = append(out, r)
	}
	return out, rows.Err()
}
