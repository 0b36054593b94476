package jobs_test

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/jobs"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err := d.Open(); err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d.Conn()
}

func TestInsertDefaultsPriorityAndRetries(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))

	payload := mustScheduledPayload(t, jobs.TypeScheduledCleanup)
	id, err := store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Payload: payload})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	job, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Priority != jobs.PriorityNormal {
		t.Errorf("expected default priority %d, got %d", jobs.PriorityNormal, job.Priority)
	}
	if job.MaxRetries != jobs.DefaultMaxRetries {
		t.Errorf("expected default max retries %d, got %d", jobs.DefaultMaxRetries, job.MaxRetries)
	}
	if job.State != jobs.StatePending {
		t.Errorf("expected state pending, got %s", job.State)
	}
}

func TestClaimOnlyReturnsPendingReadyJobs(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))
	payload := mustScheduledPayload(t, jobs.TypeScheduledCleanup)

	readyID, err := store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Payload: payload})
	if err != nil {
		t.Fatalf("insert ready: %v", err)
	}
	_, err = store.Insert(jobs.Spec{
		Type:        jobs.TypeScheduledCleanup,
		Payload:     payload,
		ScheduledAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("insert future: %v", err)
	}

	claimed, err := store.Claim("worker-1", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimable job, got %d", len(claimed))
	}
	if claimed[0].ID != readyID {
		t.Errorf("expected ready job %d claimed, got %d", readyID, claimed[0].ID)
	}
	if claimed[0].State != jobs.StateClaimed {
		t.Errorf("expected state claimed, got %s", claimed[0].State)
	}
	if claimed[0].ClaimedBy != "worker-1" {
		t.Errorf("expected claimed_by worker-1, got %s", claimed[0].ClaimedBy)
	}

	// a second claim attempt must not pick the same job up again.
	second, err := store.Claim("worker-2", 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected 0 jobs on second claim, got %d", len(second))
	}
}

func TestFailRetriesTransientThenTerminatesAfterMaxRetries(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))
	payload := mustScheduledPayload(t, jobs.TypeScheduledCleanup)

	id, err := store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Payload: payload, MaxRetries: 1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := store.Claim("worker-1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkProcessing(id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	if err := store.Fail(id, errors.New("boom"), true); err != nil {
		t.Fatalf("fail (transient, retries remain): %v", err)
	}
	job, err := store.Get(id)
	if err != nil {
		t.Fatalf("get after first fail: %v", err)
	}
	if job.State != jobs.StatePending {
		t.Errorf("expected job requeued to pending after transient failure, got %s", job.State)
	}
	if job.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", job.RetryCount)
	}

	if _, err := store.Claim("worker-1", 1); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := store.MarkProcessing(id); err != nil {
		t.Fatalf("mark processing (2nd): %v", err)
	}
	if err := store.Fail(id, errors.New("boom again"), true); err != nil {
		t.Fatalf("fail (retries exhausted): %v", err)
	}
	job, err = store.Get(id)
	if err != nil {
		t.Fatalf("get after second fail: %v", err)
	}
	if job.State != jobs.StateFailed {
		t.Errorf("expected job permanently failed once retries exhausted, got %s", job.State)
	}
}

func TestFailNonTransientFailsImmediately(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))
	payload := mustScheduledPayload(t, jobs.TypeScheduledCleanup)

	id, err := store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Payload: payload})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Claim("worker-1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkProcessing(id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	if err := store.Fail(id, errors.New("validation failure"), false); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != jobs.StateFailed {
		t.Errorf("expected immediate terminal failure, got %s", job.State)
	}
}

func TestCancelRejectsNonCancellableState(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))
	payload := mustScheduledPayload(t, jobs.TypeScheduledCleanup)

	id, err := store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Payload: payload})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Claim("worker-1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkProcessing(id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	if err := store.Cancel(id); err == nil {
		t.Error("expected cancel to reject a processing job")
	}
}

func TestCleanupDeletesOnlyAgedTerminalRows(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))
	payload := mustScheduledPayload(t, jobs.TypeScheduledCleanup)

	id, err := store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Payload: payload})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Claim("worker-1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkProcessing(id); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := store.Complete(id); err != nil {
		t.Fatalf("complete: %v", err)
	}

	deleted, err := store.Cleanup(jobs.AgePolicy{CompletedAfter: -time.Second, FailedAfter: 90 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 row deleted, got %d", deleted)
	}

	if _, err := store.Get(id); err == nil {
		t.Error("expected completed job to be gone after cleanup")
	}
}

func TestCountActiveByType(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))
	payload := mustScheduledPayload(t, jobs.TypeScheduledCleanup)

	if _, err := store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Payload: payload}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	count, err := store.CountActiveByType(jobs.TypeScheduledCleanup)
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 active job, got %d", count)
	}

	count, err = store.CountActiveByType(jobs.TypeScheduledFileScan)
	if err != nil {
		t.Fatalf("count active (other type): %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 active jobs of a different type, got %d", count)
	}
}

func mustScheduledPayload(t *testing.T, typ jobs.Type) jobs.Payload {
	t.Helper()
	p, err := jobs.NewScheduledPayload(typ)
	if err != nil {
		t.Fatalf("build scheduled payload: %v", err)
	}
	return p
}

func TestCancelPendingByBulkRunID(t *testing.T) {
	store := jobs.NewStore(openTestDB(t))

	const runA, runB = int64(111), int64(222)
	inRunA, err := store.Insert(jobs.Spec{
		Type: jobs.TypeEnrichMetadata,
		Payload: jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			EntityID: 1, RequireComplete: true, BulkRunID: runA,
		}),
	})
	if err != nil {
		t.Fatalf("insert run A job: %v", err)
	}
	otherInRunA, err := store.Insert(jobs.Spec{
		Type: jobs.TypeEnrichMetadata,
		Payload: jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			EntityID: 2, RequireComplete: true, BulkRunID: runA,
		}),
	})
	if err != nil {
		t.Fatalf("insert second run A job: %v", err)
	}
	inRunB, err := store.Insert(jobs.Spec{
		Type: jobs.TypeEnrichMetadata,
		Payload: jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			EntityID: 3, RequireComplete: true, BulkRunID: runB,
		}),
	})
	if err != nil {
		t.Fatalf("insert run B job: %v", err)
	}

	// Claim the first run A job so it looks like the one whose handler
	// just observed the rate limit: it must survive the cancel untouched.
	if _, err := store.Claim("worker-1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := store.CancelPendingByBulkRunID(runA)
	if err != nil {
		t.Fatalf("cancel pending by bulk run id: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 job cancelled, got %d", n)
	}

	claimed, err := store.Get(inRunA)
	if err != nil {
		t.Fatalf("get claimed job: %v", err)
	}
	if claimed.State != jobs.StateClaimed {
		t.Errorf("expected claimed job to stay claimed, got %s", claimed.State)
	}

	cancelled, err := store.Get(otherInRunA)
	if err != nil {
		t.Fatalf("get cancelled job: %v", err)
	}
	if cancelled.State != jobs.StateCancelled {
		t.Errorf("expected pending run A job to be cancelled, got %s", cancelled.State)
	}

	untouched, err := store.Get(inRunB)
	if err != nil {
		t.Fatalf("get run B job: %v", err)
	}
	if untouched.State != jobs.StatePending {
		t.Errorf("expected run B job to stay pending, got %s", untouched.State)
	}
}
