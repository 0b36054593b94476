package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/enrichment"
	"github.com/jsaddiction/metarr/internal/errs"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/jobs"
)

// handleEnrichMetadata runs the full five-phase pipeline for one entity
// and, depending on the owning library's automation mode, chains into
// publish.
func (d Deps) handleEnrichMetadata(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	inner, ok := jobs.EntityPayloadOf(payload)
	if !ok {
		return fmt.Errorf("handlers: unexpected payload type %T for enrich-metadata", payload)
	}

	entity, err := d.Repo.GetEntity(inner.EntityID)
	if err != nil {
		return fmt.Errorf("get entity %d: %w", inner.EntityID, err)
	}
	lib, err := d.Repo.GetLibrary(entity.LibraryID)
	if err != nil {
		return fmt.Errorf("get library %d: %w", entity.LibraryID, err)
	}
	if !lib.Enabled || !lib.AutoEnrich {
		logJob(job, "enrichment disabled for library, dropping enrich-metadata job")
		return nil
	}

	opts := enrichment.RunOptions{ForceRefresh: inner.ForceRefresh, Manual: !inner.RequireComplete}
	runErr := d.Pipeline.Run(ctx, entity.ID, opts)
	if runErr != nil {
		if errors.Is(runErr, errs.ErrRateLimited) && inner.RequireComplete {
			// Bulk runs stop at the first rate limit rather than burning
			// through retries entity by entity: this job's own entity is
			// already lost to the rate limit, but every sibling job still
			// pending for the same run gets cancelled untouched rather
			// than queuing up to fail the same way one by one.
			logJob(job, "provider rate limited during bulk run, stopping")
			d.stopBulkRun(inner.BulkRunID, runErr)
			return nil
		}
		return runErr
	}

	return d.continueAfterEnrich(lib, entity.ID)
}

// stopBulkRun cancels every still-pending job belonging to bulkRunID,
// flags the persisted run record stopped, and broadcasts the rate limit so
// a UI watching the run knows why it ended early instead of completing.
func (d Deps) stopBulkRun(bulkRunID int64, cause error) {
	if bulkRunID == 0 {
		return
	}
	n, err := d.Jobs.CancelPendingByBulkRunID(bulkRunID)
	if err != nil {
		log.Error().Err(err).Int64("bulkRunId", bulkRunID).Msg("failed to cancel remaining bulk run jobs")
	}
	if d.BulkRuns != nil {
		if err := d.BulkRuns.MarkStopped(bulkRunID, cause.Error()); err != nil {
			log.Error().Err(err).Int64("bulkRunId", bulkRunID).Msg("failed to record bulk run stop")
		}
	}
	d.broadcast(events.TypeBulkRateLimit, map[string]interface{}{
		"bulkRunId": bulkRunID, "cancelled": n, "reason": cause.Error(),
	})
}

func (d Deps) continueAfterEnrich(lib *entities.Library, entityID int64) error {
	if lib.AutomationMode != entities.ModeYOLO || !lib.AutoPublish {
		return nil
	}
	return d.enqueue(jobs.TypePublish, jobs.PriorityNormal,
		jobs.NewPublishPayload(jobs.EntityJobPayload{
			Chain:    jobs.ChainContext{Source: "enrich"},
			EntityID: entityID,
		}), 0)
}
