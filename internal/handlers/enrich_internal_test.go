package handlers

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/jobs"
)

func openEnrichTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err := d.Open(); err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d.Conn()
}

type fakeBulkRunRecorder struct {
	stoppedRunID int64
	stoppedCause string
	calls        int
}

func (f *fakeBulkRunRecorder) MarkStopped(bulkRunID int64, reason string) error {
	f.calls++
	f.stoppedRunID = bulkRunID
	f.stoppedCause = reason
	return nil
}

type capturingBroadcaster struct {
	typ  events.Type
	data interface{}
}

func (c *capturingBroadcaster) Publish(typ events.Type, data interface{})   { c.Broadcast(typ, data) }
func (c *capturingBroadcaster) Broadcast(typ events.Type, data interface{}) { c.typ, c.data = typ, data }

func TestStopBulkRunCancelsSiblingsRecordsAndBroadcasts(t *testing.T) {
	store := jobs.NewStore(openEnrichTestDB(t))
	const runID = int64(555)

	losingJob, err := store.Insert(jobs.Spec{
		Type: jobs.TypeEnrichMetadata,
		Payload: jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			EntityID: 1, RequireComplete: true, BulkRunID: runID,
		}),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Claim("w1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	sibling, err := store.Insert(jobs.Spec{
		Type: jobs.TypeEnrichMetadata,
		Payload: jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			EntityID: 2, RequireComplete: true, BulkRunID: runID,
		}),
	})
	if err != nil {
		t.Fatalf("insert sibling: %v", err)
	}

	recorder := &fakeBulkRunRecorder{}
	broadcaster := &capturingBroadcaster{}
	d := Deps{Jobs: store, BulkRuns: recorder, Events: broadcaster}

	d.stopBulkRun(runID, errors.New("provider rate limited"))

	job, err := store.Get(losingJob)
	if err != nil {
		t.Fatalf("get losing job: %v", err)
	}
	if job.State != jobs.StateClaimed {
		t.Errorf("expected the job that hit the rate limit to stay claimed, got %s", job.State)
	}

	siblingJob, err := store.Get(sibling)
	if err != nil {
		t.Fatalf("get sibling job: %v", err)
	}
	if siblingJob.State != jobs.StateCancelled {
		t.Errorf("expected sibling job cancelled, got %s", siblingJob.State)
	}

	if recorder.calls != 1 || recorder.stoppedRunID != runID {
		t.Errorf("expected bulk run recorder to be marked stopped once for run %d, got %+v", runID, recorder)
	}
	if broadcaster.typ != events.TypeBulkRateLimit {
		t.Errorf("expected a bulk rate-limit broadcast, got %v", broadcaster.typ)
	}
}

func TestStopBulkRunIgnoresZeroRunID(t *testing.T) {
	store := jobs.NewStore(openEnrichTestDB(t))
	recorder := &fakeBulkRunRecorder{}
	d := Deps{Jobs: store, BulkRuns: recorder, Events: events.NopBroadcaster{}}

	d.stopBulkRun(0, errors.New("provider rate limited"))

	if recorder.calls != 0 {
		t.Error("expected no bulk run recorded for a non-bulk (zero) run id")
	}
}
