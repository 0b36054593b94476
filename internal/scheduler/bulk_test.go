package scheduler_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/jsaddiction/metarr/internal/config"
	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/jobs"
	"github.com/jsaddiction/metarr/internal/scheduler"
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

type fakeRepo struct {
	monitored map[entities.Kind][]*entities.Entity
	stale     []*entities.Entity
}

func (r *fakeRepo) ListMonitored(kind entities.Kind) ([]*entities.Entity, error) {
	return r.monitored[kind], nil
}

func (r *fakeRepo) ListStaleEntities(olderThan time.Time) ([]*entities.Entity, error) {
	return r.stale, nil
}

type fakeConfigStore struct {
	values map[string]string
}

func (s *fakeConfigStore) GetConfig(key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeConfigStore) SetConfig(key, value string) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

func TestRunBulkEnrichmentNow(t *testing.T) {
	repo := &fakeRepo{
		monitored: map[entities.Kind][]*entities.Entity{
			entities.KindMovie:  {{ID: 1}, {ID: 2}},
			entities.KindSeries: {{ID: 10}},
		},
	}
	cfg := config.New(&fakeConfigStore{})
	store := jobs.NewStore(openTestDB(t))

	s := scheduler.New(store, repo, cfg, nil, nil, nil)

	n, err := s.RunBulkEnrichmentNow(events.NopBroadcaster{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 jobs enqueued, got %d", n)
	}

	count, err := store.CountActiveByType(jobs.TypeEnrichMetadata)
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 active enrich-metadata jobs, got %d", count)
	}
}

func TestRunBulkEnrichmentNowRejectsConcurrentRun(t *testing.T) {
	repo := &fakeRepo{monitored: map[entities.Kind][]*entities.Entity{}}
	cfg := config.New(&fakeConfigStore{values: map[string]string{"bulk_run.active": "1"}})
	store := jobs.NewStore(openTestDB(t))

	s := scheduler.New(store, repo, cfg, nil, nil, nil)

	if _, err := s.RunBulkEnrichmentNow(events.NopBroadcaster{}); err == nil {
		t.Error("expected error when storage-backed lock already held")
	}
}
