package handlers

import (
	"context"

	"github.com/jsaddiction/metarr/internal/jobs"
)

// handleCacheAsset exists to keep cache-asset a dispatchable type in the
// closed job-type enum. Phase 5 selection already
// materializes every selected candidate onto disk as part of enrich-
// metadata (internal/enrichment's phase5Select), so nothing in this
// engine queues cache-asset independently today; a dispatch for it just
// logs and completes.
func (d Deps) handleCacheAsset(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	logJob(job, "cache-asset dispatched with no independent materialization step; completing as a no-op")
	return nil
}
