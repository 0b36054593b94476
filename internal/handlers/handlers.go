// Package handlers wires the abstract job-type registry (internal/jobs) to
// the engine's concrete collaborators: the entity repository, the
// enrichment pipeline, the verifier, the NFO writer, the cache filesystem
// and the per-player notifiers. Each handler is one link in a job chain;
// Register builds the full dispatch table once at startup.
package handlers

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/cachefs"
	"github.com/jsaddiction/metarr/internal/config"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/enrichment"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/jobs"
	"github.com/jsaddiction/metarr/internal/notify"
	"github.com/jsaddiction/metarr/internal/scheduler"
	"github.com/jsaddiction/metarr/internal/verify"
)

// CandidateStore is the subset of db.CandidateStore the scan/cache handlers
// need: enough to register locally-discovered artwork as candidates.
type CandidateStore interface {
	UpsertCandidate(c *assets.Candidate, refresh bool) (int64, error)
}

// CacheFileLister is the subset of db.CacheFileStore the cleanup sweep
// needs to tell referenced cache files from stray ones. The discover and
// publish handlers also register cache_files rows directly: subtitles and
// NFO files never pass through the enrichment pipeline's provider
// candidate flow (no provider in this engine's stack supplies either), so
// their cache_files rows have no other owner.
type CacheFileLister interface {
	ListAllPaths() ([]string, error)
	ListByEntity(entityID int64) ([]*assets.CacheFile, error)
	Insert(f *assets.CacheFile) (int64, error)
	Delete(id int64) error
}

// BulkRunRecorder is the subset of db.BulkRunStore the enrich-metadata
// handler needs to flag a bulk run stopped once a provider rate limit
// interrupts it — the complementary half of scheduler.BulkRunRecorder,
// which records the run's start/progress/completion from the enqueue side.
type BulkRunRecorder interface {
	MarkStopped(bulkRunID int64, reason string) error
}

// Deps bundles every collaborator a handler might need. Not every handler
// uses every field; fields are plain values (not interfaces-of-interfaces)
// so Deps reads as a single wiring list at startup.
type Deps struct {
	Repo       entities.Repository
	Jobs       *jobs.Store
	Config     *config.Reader
	Pipeline   *enrichment.Pipeline
	Verifier   *verify.Verifier
	Candidates CandidateStore
	CacheFiles CacheFileLister
	CacheFS    *cachefs.Store
	BulkRuns   BulkRunRecorder
	Scheduler  *scheduler.Scheduler
	Events     events.Broadcaster
	Notifiers  map[string]notify.Notifier // keyed by "kodi", "discord", ...
}

// Register binds every job type the engine knows about to its handler.
// Called once at startup; a second call for the same registry panics
// (jobs.Registry.Register's own invariant).
func Register(reg *jobs.Registry, d Deps) {
	reg.Register(jobs.TypeWebhookReceived, d.handleWebhookReceived)
	reg.Register(jobs.TypeScanMovie, d.handleScanMovie)
	reg.Register(jobs.TypeDirectoryScan, d.handleScanMovie)
	reg.Register(jobs.TypeLibraryScan, d.handleLibraryScan)
	reg.Register(jobs.TypeDiscoverAssets, d.handleDiscoverAssets)
	reg.Register(jobs.TypeEnrichMetadata, d.handleEnrichMetadata)
	// fetch-provider-assets and select-assets are closed job types, but
	// phase1Fetch/phase5Select already run inline inside
	// Pipeline.Run (see internal/enrichment/pipeline.go). Nothing queues
	// them independently today; the handler exists so a dispatch for
	// either type degrades to a safe, idempotent re-run of the full
	// pipeline rather than an unrecognized-type failure.
	reg.Register(jobs.TypeFetchProviderAssets, d.handleEnrichMetadata)
	reg.Register(jobs.TypeSelectAssets, d.handleEnrichMetadata)
	reg.Register(jobs.TypePublish, d.handlePublish)
	reg.Register(jobs.TypeVerifyMovie, d.handleVerifyMovie)
	// cache-asset is likewise a closed job type, but phase5Select
	// already materializes every selected candidate onto disk before it
	// marks a job complete; nothing currently queues cache-asset
	// independently. The handler logs and completes rather than leaving
	// the type undispatchable.
	reg.Register(jobs.TypeCacheAsset, d.handleCacheAsset)

	reg.Register(jobs.TypeNotifyKodi, d.handleNotify("kodi"))
	reg.Register(jobs.TypeNotifyDiscord, d.handleNotify("discord"))
	reg.Register(jobs.TypeNotifyJellyfin, d.handleNotifyUnimplemented("jellyfin"))
	reg.Register(jobs.TypeNotifyPlex, d.handleNotifyUnimplemented("plex"))
	reg.Register(jobs.TypeNotifyPushover, d.handleNotifyUnimplemented("pushover"))
	reg.Register(jobs.TypeNotifyEmail, d.handleNotifyUnimplemented("email"))

	reg.Register(jobs.TypeScheduledFileScan, d.handleScheduledFileScan)
	reg.Register(jobs.TypeScheduledProviderUpdate, d.handleScheduledProviderUpdate)
	reg.Register(jobs.TypeScheduledCleanup, d.handleScheduledCleanup)
}

// enqueue is a thin Insert wrapper every handler shares; the caller builds
// the follow-up job's payload, chain context included.
func (d Deps) enqueue(typ jobs.Type, priority int, payload jobs.Payload, parentJobID int64) error {
	_, err := d.Jobs.Insert(jobs.Spec{Type: typ, Priority: priority, Payload: payload, ParentJobID: parentJobID})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", typ, err)
	}
	return nil
}

func (d Deps) broadcast(typ events.Type, data interface{}) {
	if d.Events == nil {
		return
	}
	d.Events.Broadcast(typ, data)
}

func logJob(job *jobs.Job, msg string) {
	log.Info().Int64("jobId", job.ID).Str("type", string(job.Type)).Msg(msg)
}
