package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/jobs"
)

// bulkLockKey is the config row the storage-backed lock lives under.
const bulkLockKey = "bulk_run.active"

// bulkKinds are the top-level entity kinds a bulk run enqueues work for;
// seasons/episodes ride along inside their series' own enrichment.
var bulkKinds = []entities.Kind{entities.KindMovie, entities.KindSeries}

// bulkProgressEvery is how often a progress entry is logged during a
// bulk run, every 100 entities.
const bulkProgressEvery = 100

// bulkMu is the in-process flag half of a two-layer guard: an in-process
// flag plus a row-level advisory lock. The storage-backed half lives in
// the config table via AcquireLock/ReleaseLock
// so that a second process (or a restarted one, mid-run) also refuses to
// start a second run.
var bulkMu sync.Mutex
var bulkRunning bool

func (s *Scheduler) runBulkEnrichment() {
	if _, err := s.RunBulkEnrichmentNow(events.NopBroadcaster{}); err != nil {
		log.Error().Err(err).Msg("bulk enrichment: run failed")
	}
}

// RunBulkEnrichmentNow enqueues one low-priority enrich-metadata job per
// monitored entity, each marked requireComplete=true so the enrichment
// handler knows to short-circuit the whole run (not just itself) on a
// provider rate-limit error. Exported so a manual trigger (CLI flag, HTTP
// endpoint) can invoke it outside the cron schedule.
func (s *Scheduler) RunBulkEnrichmentNow(broadcaster events.Broadcaster) (int, error) {
	bulkMu.Lock()
	if bulkRunning {
		bulkMu.Unlock()
		return 0, fmt.Errorf("bulk enrichment: already running in this process")
	}
	bulkRunning = true
	bulkMu.Unlock()
	defer func() {
		bulkMu.Lock()
		bulkRunning = false
		bulkMu.Unlock()
	}()

	acquired, err := s.cfg.AcquireLock(bulkLockKey)
	if err != nil {
		return 0, fmt.Errorf("bulk enrichment: acquire lock: %w", err)
	}
	if !acquired {
		return 0, fmt.Errorf("bulk enrichment: already running (storage lock held)")
	}
	defer s.cfg.ReleaseLock(bulkLockKey)

	runID := time.Now().UnixNano()

	var entityList []*entities.Entity
	for _, k := range bulkKinds {
		list, err := s.repo.ListMonitored(k)
		if err != nil {
			return 0, fmt.Errorf("bulk enrichment: list monitored %s: %w", k, err)
		}
		entityList = append(entityList, list...)
	}

	if s.bulkRuns != nil {
		if err := s.bulkRuns.Start(runID, len(entityList)); err != nil {
			log.Error().Err(err).Int64("bulkRunId", runID).Msg("bulk enrichment: failed to record run start")
		}
	}

	enqueued := 0
	for i, e := range entityList {
		payload := jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			Chain:           jobs.ChainContext{Source: "bulk"},
			EntityID:        e.ID,
			RequireComplete: true,
			BulkRunID:       runID,
		})
		if _, err := s.store.Insert(jobs.Spec{Type: jobs.TypeEnrichMetadata, Priority: jobs.PriorityLow, Payload: payload}); err != nil {
			log.Error().Err(err).Int64("entityId", e.ID).Int64("bulkRunId", runID).Msg("bulk enrichment: enqueue failed")
			continue
		}
		enqueued++

		if (i+1)%bulkProgressEvery == 0 {
			log.Info().Int64("bulkRunId", runID).Int("processed", i+1).Int("total", len(entityList)).Msg("bulk enrichment progress")
			broadcaster.Broadcast(events.TypeBulkProgress, map[string]interface{}{
				"bulkRunId": runID, "processed": i + 1, "total": len(entityList),
			})
			if s.bulkRuns != nil {
				if err := s.bulkRuns.MarkProgress(runID, i+1); err != nil {
					log.Error().Err(err).Int64("bulkRunId", runID).Msg("bulk enrichment: failed to record progress")
				}
			}
		}
	}

	log.Info().Int64("bulkRunId", runID).Int("enqueued", enqueued).Int("total", len(entityList)).Msg("bulk enrichment run enqueued")
	broadcaster.Broadcast(events.TypeBulkComplete, map[string]interface{}{"bulkRunId": runID, "enqueued": enqueued})
	if s.bulkRuns != nil {
		if err := s.bulkRuns.MarkComplete(runID, enqueued); err != nil {
			log.Error().Err(err).Int64("bulkRunId", runID).Msg("bulk enrichment: failed to record run completion")
		}
	}
	return enqueued, nil
}
