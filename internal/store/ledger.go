package store

import (
	"context"
	"time"

	logx "clanwatch/pkg/logx"
)

// The dispatch ledger is a two-phase record per (reminder, cycle) pair:
// TryClaim inserts the row, Commit stamps dispatched_at after the message is
// delivered. A claim that never commits (crash, exhausted retries) is either
// released explicitly or collected by SweepAbandoned, so a failed send never
// leaves a false-positive claim blocking future ticks.

// TryClaim reserves the right to dispatch the pair. The conditional insert
// against the composite primary key is the sole concurrency boundary: any
// number of scheduler processes may race, exactly one wins.
func (s *Store) TryClaim(ctx context.Context, reminderID, cycleID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_records (reminder_id, cycle_id, claimed_at)
		 VALUES (?,?,?)
		 ON CONFLICT(reminder_id, cycle_id) DO NOTHING`,
		reminderID, cycleID, now.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Commit marks the pair as dispatched. Committed records are never updated
// again; cleanup is PruneDispatched's job.
func (s *Store) Commit(ctx context.Context, reminderID, cycleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE dispatch_records SET dispatched_at = ?
		 WHERE reminder_id = ? AND cycle_id = ? AND dispatched_at IS NULL`,
		at.UnixMilli(), reminderID, cycleID,
	)
	return err
}

// Release rolls back an uncommitted claim so the next tick can retry the
// pair cleanly. Committed records are left alone.
func (s *Store) Release(ctx context.Context, reminderID, cycleID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dispatch_records
		 WHERE reminder_id = ? AND cycle_id = ? AND dispatched_at IS NULL`,
		reminderID, cycleID,
	)
	return err
}

// SweepAbandoned deletes claims that were taken before the cutoff but never
// committed: a process died between claim and delivery. The pair becomes
// claimable again on the next tick.
func (s *Store) SweepAbandoned(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dispatch_records WHERE dispatched_at IS NULL AND claimed_at < ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Warn("abandoned dispatch claims swept", logx.Int64("count", n))
	}
	return n, nil
}

// PruneDispatched removes committed records older than the cutoff. Cycle
// ids never repeat, so this is hygiene rather than correctness.
func (s *Store) PruneDispatched(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dispatch_records WHERE dispatched_at IS NOT NULL AND dispatched_at < ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
