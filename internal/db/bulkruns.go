package db

import (
	"fmt"
	"time"
)

// BulkRunStore is the SQLite-backed bulk_runs accessor: one row per bulk
// enrichment sweep, tracking how far it got and whether a provider rate
// limit cut it short before the scheduler's own loop finished enqueuing.
type BulkRunStore struct {
	db *DB
}

func NewBulkRunStore(d *DB) *BulkRunStore {
	return &BulkRunStore{db: d}
}

// Start records a new bulk run as in-flight, total being the number of
// monitored entities the sweep is about to walk.
func (s *BulkRunStore) Start(runID int64, total int) error {
	_, err := s.db.Conn().Exec(`
		INSERT INTO bulk_runs (id, started_at, total) VALUES (?, ?, ?)`,
		runID, formatTime(time.Now()), total)
	if err != nil {
		return fmt.Errorf("start bulk run: %w", err)
	}
	return nil
}

// MarkProgress updates the running processed count as the enqueue loop
// walks the entity list.
func (s *BulkRunStore) MarkProgress(runID int64, processed int) error {
	_, err := s.db.Conn().Exec(`UPDATE bulk_runs SET processed = ? WHERE id = ?`, processed, runID)
	if err != nil {
		return fmt.Errorf("update bulk run progress: %w", err)
	}
	return nil
}

// MarkComplete finalizes a run that enqueued every monitored entity
// without interruption.
func (s *BulkRunStore) MarkComplete(runID int64, enqueued int) error {
	_, err := s.db.Conn().Exec(`
		UPDATE bulk_runs SET enqueued = ?, processed = ?, completed_at = ?
		WHERE id = ?`, enqueued, enqueued, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("complete bulk run: %w", err)
	}
	return nil
}

// MarkStopped flags a run as cut short by a provider rate limit, called
// by the enrich-metadata handler from whichever entity's job hit it.
func (s *BulkRunStore) MarkStopped(runID int64, reason string) error {
	_, err := s.db.Conn().Exec(`
		UPDATE bulk_runs SET stopped = 1, stop_reason = ?, completed_at = ?
		WHERE id = ? AND stopped = 0`, reason, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("mark bulk run stopped: %w", err)
	}
	return nil
}
