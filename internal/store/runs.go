package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/recorder/internal/model"
)

// Run brackets one recorder uptime window.
type Run struct {
	ID              int64
	UUID            string
	Start           time.Time
	End             time.Time
	ClosedIncorrect bool
}

// StartRun closes any run left open by an unclean shutdown and opens a new
// one starting at start. It returns the number of runs it had to close.
func (d *DB) StartRun(ctx context.Context, start time.Time) (*Run, int64, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, 0, wrap("start run", err)
	}
	run := &Run{UUID: id.String(), Start: start}
	var closed int64

	err = d.inTx(ctx, "start run", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, d.rebind(
			"UPDATE recorder_runs SET end_ts = ?, closed_incorrect = 1 WHERE end_ts IS NULL"),
			model.Timestamp(start))
		if err != nil {
			return err
		}
		closed, _ = res.RowsAffected()

		return tx.QueryRowContext(ctx, d.rebind(
			"INSERT INTO recorder_runs (run_uuid, start_ts, created_ts) VALUES (?, ?, ?) RETURNING run_id"),
			run.UUID, model.Timestamp(start), model.Timestamp(time.Now()),
		).Scan(&run.ID)
	})
	if err != nil {
		return nil, 0, err
	}
	return run, closed, nil
}

// EndRun closes run at end.
func (d *DB) EndRun(ctx context.Context, run *Run, end time.Time) error {
	_, err := d.exec(ctx, "UPDATE recorder_runs SET end_ts = ? WHERE run_id = ?", model.Timestamp(end), run.ID)
	if err != nil {
		return wrap("end run", err)
	}
	run.End = end
	return nil
}

// Runs returns every run, oldest first.
func (d *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT run_id, run_uuid, start_ts, end_ts, closed_incorrect FROM recorder_runs ORDER BY run_id")
	if err != nil {
		return nil, wrap("read runs", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			runUUID  sql.NullString
			start    float64
			end      sql.NullFloat64
			closedBy int
		)
		if err := rows.Scan(&r.ID, &runUUID, &start, &end, &closedBy); err != nil {
			return nil, wrap("scan run", err)
		}
		r.UUID = runUUID.String
		r.Start = model.FromTimestamp(start)
		if end.Valid {
			r.End = model.FromTimestamp(end.Float64)
		}
		r.ClosedIncorrect = closedBy != 0
		runs = append(runs, r)
	}
	return runs, wrap("read runs", rows.Err())
}
