// Package scheduler drives the engine's periodic work: cron-triggered
// library scans, stale-entity provider refreshes, job-history/orphan-file
// cleanup, and the bulk enrichment run. Every tick
// only ever enqueues jobs — the scheduler itself never touches an entity,
// a provider, or a file; the worker pool's handlers do the actual work.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/cachefs"
	"github.com/jsaddiction/metarr/internal/config"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/jobs"
)

// CacheFileLister is the subset of cache_files access scheduled-cleanup's
// orphan sweep needs.
type CacheFileLister interface {
	ListAllPaths() ([]string, error)
}

// Repository is the subset of entities.Repository the scheduler needs:
// enough to list bulk-enrichment/provider-update targets, nothing else.
type Repository interface {
	ListMonitored(kind entities.Kind) ([]*entities.Entity, error)
	ListStaleEntities(olderThan time.Time) ([]*entities.Entity, error)
}

// BulkRunRecorder persists the bookkeeping row a bulk enrichment sweep
// reports into, so a rate-limit stop raised later from inside the job
// pool (internal/handlers) has somewhere durable to flag.
type BulkRunRecorder interface {
	Start(runID int64, total int) error
	MarkProgress(runID int64, processed int) error
	MarkComplete(runID int64, enqueued int) error
}

// Scheduler wraps a cron runner that enqueues work onto the job store;
// it holds no business logic of its own.
type Scheduler struct {
	cron     *cron.Cron
	store    *jobs.Store
	repo     Repository
	cfg      *config.Reader
	cache    *cachefs.Store
	files    CacheFileLister
	bulkRuns BulkRunRecorder
}

// New builds a Scheduler. Start registers the four cron entries and
// starts the runner; the caller stops it via Stop on shutdown.
func New(store *jobs.Store, repo Repository, cfg *config.Reader, cache *cachefs.Store, files CacheFileLister, bulkRuns BulkRunRecorder) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		store:    store,
		repo:     repo,
		cfg:      cfg,
		cache:    cache,
		files:    files,
		bulkRuns: bulkRuns,
	}
}

// Start registers the cron entries and begins the runner in the
// background. Schedules are re-read from config at registration time only;
// a config change takes effect on the next process restart, matching the
// 1-minute-TTL config reader's "hot paths only" caching rationale — cron
// schedules are not a hot path.
func (s *Scheduler) Start() error {
	entries := []struct {
		name string
		expr string
		fn   func()
	}{
		{"scheduled-file-scan", s.cfg.CronFileScan(), s.runFileScan},
		{"scheduled-provider-update", s.cfg.CronProviderUpdate(), s.runProviderUpdate},
		{"scheduled-cleanup", s.cfg.CronCleanup(), s.runCleanup},
		{"bulk-enrichment", s.cfg.CronBulkEnrichment(), s.runBulkEnrichment},
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.expr, e.fn); err != nil {
			return fmt.Errorf("scheduler: register %s (%q): %w", e.name, e.expr, err)
		}
	}

	s.cron.Start()
	log.Info().Msg("scheduler started")
	return nil
}

// Stop halts the cron runner, waiting for any in-flight tick function to
// return (tick functions only enqueue jobs, so this is always fast).
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) skipIfActive(typ jobs.Type, label string) bool {
	n, err := s.store.CountActiveByType(typ)
	if err != nil {
		log.Error().Err(err).Str("job", label).Msg("scheduler: active-count check failed, skipping tick")
		return true
	}
	if n > 0 {
		log.Debug().Str("job", label).Int("active", n).Msg("scheduler: prior instance still active, skipping tick")
		return true
	}
	return false
}

func (s *Scheduler) runFileScan() {
	if s.skipIfActive(jobs.TypeScheduledFileScan, "scheduled-file-scan") {
		return
	}
	payload, err := jobs.NewScheduledPayload(jobs.TypeScheduledFileScan)
	if err != nil {
		log.Error().Err(err).Msg("scheduled-file-scan: build payload")
		return
	}
	if _, err := s.store.Insert(jobs.Spec{Type: jobs.TypeScheduledFileScan, Priority: jobs.PriorityScheduled, Payload: payload}); err != nil {
		log.Error().Err(err).Msg("scheduled-file-scan: enqueue")
	}
}

func (s *Scheduler) runProviderUpdate() {
	if s.skipIfActive(jobs.TypeScheduledProviderUpdate, "scheduled-provider-update") {
		return
	}
	payload, err := jobs.NewScheduledPayload(jobs.TypeScheduledProviderUpdate)
	if err != nil {
		log.Error().Err(err).Msg("scheduled-provider-update: build payload")
		return
	}
	if _, err := s.store.Insert(jobs.Spec{Type: jobs.TypeScheduledProviderUpdate, Priority: jobs.PriorityScheduled, Payload: payload}); err != nil {
		log.Error().Err(err).Msg("scheduled-provider-update: enqueue")
	}
}

func (s *Scheduler) runCleanup() {
	if s.skipIfActive(jobs.TypeScheduledCleanup, "scheduled-cleanup") {
		return
	}
	payload, err := jobs.NewScheduledPayload(jobs.TypeScheduledCleanup)
	if err != nil {
		log.Error().Err(err).Msg("scheduled-cleanup: build payload")
		return
	}
	if _, err := s.store.Insert(jobs.Spec{Type: jobs.TypeScheduledCleanup, Priority: jobs.PriorityScheduled, Payload: payload}); err != nil {
		log.Error().Err(err).Msg("scheduled-cleanup: enqueue")
	}
}

// RunProviderUpdateNow is the scheduled-provider-update handler body: it
// fans stale entities out into per-entity enrich-metadata jobs. Exported
// so internal/handlers can invoke it from the job dispatch path (the tick
// function above only enqueues the marker job; the marker's handler calls
// back in here to do the actual fan-out at claim time, keeping the cron
// callback itself free of anything that could block on the database for
// long).
func (s *Scheduler) RunProviderUpdateNow() (int, error) {
	stale, err := s.repo.ListStaleEntities(time.Now().Add(-s.cfg.ProviderUpdateStaleness()))
	if err != nil {
		return 0, fmt.Errorf("list stale entities: %w", err)
	}
	for _, e := range stale {
		payload := jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			Chain:    jobs.ChainContext{Source: "scheduler"},
			EntityID: e.ID,
		})
		if _, err := s.store.Insert(jobs.Spec{Type: jobs.TypeEnrichMetadata, Priority: jobs.PriorityLow, Payload: payload}); err != nil {
			log.Error().Err(err).Int64("entityId", e.ID).Msg("scheduled-provider-update: enqueue failed for entity")
		}
	}
	return len(stale), nil
}

// RunCleanupNow is the scheduled-cleanup handler body: job-history GC plus
// an orphan cache-file sweep.
func (s *Scheduler) RunCleanupNow() (deletedJobs int64, deletedFiles int, err error) {
	deletedJobs, err = s.store.Cleanup(jobs.DefaultAgePolicy())
	if err != nil {
		return deletedJobs, 0, fmt.Errorf("job history cleanup: %w", err)
	}

	known, err := s.files.ListAllPaths()
	if err != nil {
		return deletedJobs, 0, fmt.Errorf("list known cache paths: %w", err)
	}
	deletedFiles, err = s.cache.Sweep(known)
	if err != nil {
		return deletedJobs, deletedFiles, fmt.Errorf("cache sweep: %w", err)
	}
	return deletedJobs, deletedFiles, nil
}
