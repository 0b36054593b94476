package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the durable priority queue over the database: insert, claim,
// complete, fail, cancel, cleanup.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing, already-schema-initialized connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert creates a new job in state pending (or a caller-supplied future
// scheduled_at for delayed jobs).
func (s *Store) Insert(spec Spec) (int64, error) {
	priority := spec.Priority
	if priority == 0 {
		priority = PriorityNormal
	}
	maxRetries := spec.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	scheduledAt := spec.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	payload, err := EncodePayload(spec.Payload)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	var parentID interface{}
	if spec.ParentJobID != 0 {
		parentID = spec.ParentJobID
	}

	res, err := s.db.Exec(`
		INSERT INTO jobs (type, priority, payload, state, retry_count, max_retries, scheduled_at, parent_job_id)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		string(spec.Type), priority, payload, string(StatePending), maxRetries, formatTime(scheduledAt), parentID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	log.Debug().Int64("jobId", id).Str("type", string(spec.Type)).Int("priority", priority).Msg("job inserted")
	return id, nil
}

// Claim atomically selects up to n pending, ready jobs in
// (priority ascending, scheduled_at ascending, id ascending) order, marks
// them claimed by worker, and returns the claimed rows. Safe under
// concurrent claim attempts because SQLite serializes writers and the
// UPDATE...WHERE state='pending' only succeeds for rows no other
// transaction has already claimed.
func (s *Store) Claim(worker string, n int) ([]*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	rows, err := tx.Query(`
		SELECT id FROM jobs
		WHERE state = 'pending' AND scheduled_at <= ?
		ORDER BY priority ASC, scheduled_at ASC, id ASC
		LIMIT ?`, now, n)
	if err != nil {
		return nil, fmt.Errorf("claim: select candidates: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim: scan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	claimedAt := formatTime(time.Now())
	var claimed []*Job
	for _, id := range ids {
		res, err := tx.Exec(`
			UPDATE jobs SET state = 'claimed', claimed_at = ?, claimed_by = ?
			WHERE id = ? AND state = 'pending'`, claimedAt, worker, id)
		if err != nil {
			return nil, fmt.Errorf("claim: update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue // another worker claimed it between select and update
		}
		job, err := scanJobByID(tx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim: commit: %w", err)
	}
	return claimed, nil
}

// MarkProcessing stamps the adjacent claimed->processing transition a
// worker must make before invoking a handler.
func (s *Store) MarkProcessing(id int64) error {
	_, err := s.db.Exec(`UPDATE jobs SET state = 'processing' WHERE id = ? AND state = 'claimed'`, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// Complete transitions a processing job to completed.
func (s *Store) Complete(id int64) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET state = 'completed', completed_at = ?
		WHERE id = ? AND state = 'processing'`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail transitions a job to retrying (if retries remain and the error is
// transient) or to failed.
func (s *Store) Fail(id int64, cause error, transient bool) error {
	var job Job
	row := s.db.QueryRow(`SELECT retry_count, max_retries FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&job.RetryCount, &job.MaxRetries); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if transient && job.RetryCount < job.MaxRetries {
		nextRetry := time.Now().Add(Backoff(job.RetryCount))
		_, err := s.db.Exec(`
			UPDATE jobs SET state = 'retrying', retry_count = retry_count + 1,
				scheduled_at = ?, claimed_by = NULL, claimed_at = NULL, last_error = ?
			WHERE id = ?`, formatTime(nextRetry), errMsg, id)
		if err != nil {
			return fmt.Errorf("fail job (retrying): %w", err)
		}
		return s.requeue(id)
	}

	_, err := s.db.Exec(`UPDATE jobs SET state = 'failed', last_error = ?, completed_at = ? WHERE id = ?`,
		errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("fail job (terminal): %w", err)
	}
	return nil
}

// requeue flips a retrying job back to pending so Claim can pick it up once
// scheduled_at elapses; kept as a separate statement so retry bookkeeping
// (retry_count, last_error) and requeueing are each one clear step.
func (s *Store) requeue(id int64) error {
	_, err := s.db.Exec(`UPDATE jobs SET state = 'pending' WHERE id = ? AND state = 'retrying'`, id)
	return err
}

// RequeueStale resets claimed/processing jobs whose claimed_at predates
// olderThan back to pending (clearing claimed_by/claimed_at), so a worker
// that died mid-handler — whether from a hard crash or from outliving the
// pool's stop deadline — doesn't strand its job forever. Called once at
// startup to recover jobs abandoned by a prior process, and again from
// Pool.Stop after the claim deadline elapses.
func (s *Store) RequeueStale(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := s.db.Exec(`
		UPDATE jobs SET state = 'pending', claimed_by = NULL, claimed_at = NULL
		WHERE state IN ('claimed', 'processing') AND claimed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("requeued stale claimed/processing jobs")
	}
	return n, nil
}

// Cancel is allowed only from pending or retrying.
func (s *Store) Cancel(id int64) error {
	res, err := s.db.Exec(`
		UPDATE jobs SET state = 'cancelled'
		WHERE id = ? AND state IN ('pending', 'retrying')`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("cancel job %d: not in a cancellable state", id)
	}
	return nil
}

// CancelPendingByBulkRunID cancels every job still pending or retrying for
// a bulk run, leaving already-claimed/processing/terminal jobs untouched —
// called once a rate limit stops a bulk run, so the remaining queued
// entities aren't enqueued against a provider that just refused the run.
func (s *Store) CancelPendingByBulkRunID(bulkRunID int64) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET state = 'cancelled'
		WHERE state IN ('pending', 'retrying')
		AND json_extract(payload, '$.bulkRunId') = ?`, bulkRunID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs for bulk run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs for bulk run: %w", err)
	}
	if n > 0 {
		log.Warn().Int64("bulkRunId", bulkRunID).Int64("count", n).
			Msg("cancelled remaining bulk run jobs after rate limit")
	}
	return n, nil
}

// Cleanup deletes terminal rows older than the policy.
func (s *Store) Cleanup(policy AgePolicy) (int64, error) {
	var total int64

	res, err := s.db.Exec(`
		DELETE FROM jobs WHERE state = 'completed' AND completed_at < ?`,
		formatTime(time.Now().Add(-policy.CompletedAfter)))
	if err != nil {
		return 0, fmt.Errorf("cleanup completed: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.Exec(`
		DELETE FROM jobs WHERE state = 'failed' AND completed_at < ?`,
		formatTime(time.Now().Add(-policy.FailedAfter)))
	if err != nil {
		return total, fmt.Errorf("cleanup failed: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

// Get retrieves a job by id.
func (s *Store) Get(id int64) (*Job, error) {
	return scanJobByID(s.db, id)
}

// CountActiveEntityJobs reports how many jobs of typ are currently in state
// pending/claimed/processing/retrying for a given entity. No handler
// calls it; enrich-metadata jobs are enqueued without a per-entity
// active-job check.
func (s *Store) CountActiveEntityJobs(typ Type, entityID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE type = ? AND state IN ('pending','claimed','processing','retrying')
		AND json_extract(payload, '$.entityId') = ?`, string(typ), entityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active entity jobs: %w", err)
	}
	return count, nil
}

// CountActiveByType reports how many jobs of typ are currently pending,
// claimed, processing or retrying, regardless of entity — used by the
// scheduler to skip a tick when a prior scheduled instance of the same
// type hasn't finished yet: if one is in any of those states, the new
// tick is skipped.
func (s *Store) CountActiveByType(typ Type) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE type = ? AND state IN ('pending','claimed','processing','retrying')`, string(typ)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active jobs by type: %w", err)
	}
	return count, nil
}

type execQueryRower interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func scanJobByID(q execQueryRower, id int64) (*Job, error) {
	row := q.QueryRow(`
		SELECT id, type, priority, payload, state, retry_count, max_retries,
			scheduled_at, claimed_at, claimed_by, completed_at, last_error, parent_job_id, created_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var typ, state string
	var claimedAt, completedAt, scheduledAt, createdAt sql.NullString
	var claimedBy, lastError sql.NullString
	var parentID sql.NullInt64

	err := row.Scan(&j.ID, &typ, &j.Priority, &j.Payload, &state, &j.RetryCount, &j.MaxRetries,
		&scheduledAt, &claimedAt, &claimedBy, &completedAt, &lastError, &parentID, &createdAt)
	if err != nil {
		return nil, err
	}

	j.Type = Type(typ)
	j.State = State(state)
	j.ScheduledAt = parseTime(scheduledAt.String)
	j.ClaimedAt = parseTimePtr(claimedAt)
	j.ClaimedBy = claimedBy.String
	j.CompletedAt = parseTimePtr(completedAt)
	j.LastError = lastError.String
	j.ParentJobID = parentID.Int64
	j.CreatedAt = parseTime(createdAt.String)

	return &j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
