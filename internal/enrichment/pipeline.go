// Package enrichment implements the five-phase (+5C) enrichment pipeline:
// fetch provider metadata, match existing cache files to new candidates,
// analyze unanalyzed candidates, score them, and select the winners per
// asset type.
//
// The pipeline enriches one entity of any kind
// (movie, series, season, episode) across every asset type a provider
// can return, with its own scorer and perceptual-hash deduplicator.
package enrichment

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/config"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/providers"
)

// ProviderFetcher is the subset of *providers.Orchestrator phase 1 needs;
// kept as an interface so the pipeline is testable against a fake.
type ProviderFetcher interface {
	Fetch(ctx context.Context, kind providers.EntityKind, ids providers.ExternalIDs, opts providers.FetchOptions) (*providers.FetchResult, error)
}

// CandidateStore is the provider_assets accessor the pipeline programs
// against; internal/db.CandidateStore satisfies it.
type CandidateStore interface {
	UpsertCandidate(c *assets.Candidate, refresh bool) (int64, error)
	ListUnanalyzed(entityID int64) ([]*assets.Candidate, error)
	ListAnalyzed(entityID int64) ([]*assets.Candidate, error)
	ListByType(entityID int64, typ assets.Type) ([]*assets.Candidate, error)
	ListSelected(entityID int64, typ assets.Type) ([]*assets.Candidate, error)
	ListLocal(entityID int64, typ assets.Type) ([]*assets.Candidate, error)
	UpdateAnalysis(c *assets.Candidate) error
	MarkMatched(id int64, contentHash string) error
	UpdateScore(id int64, score int) error
	SetSelected(id int64, selected bool, selectedBy string, selectedAt *time.Time) error
	Reject(id int64) error
	DeleteLocal(id int64) error
}

// CacheFileStore is the cache_files accessor the pipeline programs against.
type CacheFileStore interface {
	Insert(f *assets.CacheFile) (int64, error)
	ListByEntity(entityID int64) ([]*assets.CacheFile, error)
	Delete(id int64) error
	UpdatePerceptualHash(id int64, hash string) error
}

// FileStore materializes accepted assets on disk; internal/cachefs
// provides the real implementation, a fake satisfies it in tests.
type FileStore interface {
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
	Remove(path string) error
	CanonicalPath(cacheRoot string, assetType assets.Type, contentHash, ext string) string
}

// Pipeline runs the enrichment phases for one entity at a time. A Pipeline
// is safe for concurrent use across different entities; each Run call
// only touches the one entity it was given.
type Pipeline struct {
	repo       entities.Repository
	fetcher    ProviderFetcher
	candidates CandidateStore
	cacheFiles CacheFileStore
	files      FileStore
	cfg        *config.Reader
	events     events.Broadcaster
	httpClient *http.Client
}

// New wires a Pipeline. httpClient downloads candidate images in phase 3
// and actor thumbnails in phase 5C; callers typically pass the same
// client the provider clients use.
func New(
	repo entities.Repository,
	fetcher ProviderFetcher,
	candidates CandidateStore,
	cacheFiles CacheFileStore,
	files FileStore,
	cfg *config.Reader,
	broadcaster events.Broadcaster,
	httpClient *http.Client,
) *Pipeline {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if broadcaster == nil {
		broadcaster = events.NopBroadcaster{}
	}
	return &Pipeline{
		repo:       repo,
		fetcher:    fetcher,
		candidates: candidates,
		cacheFiles: cacheFiles,
		files:      files,
		cfg:        cfg,
		events:     broadcaster,
		httpClient: httpClient,
	}
}

// RunOptions tunes one pipeline run.
type RunOptions struct {
	// ForceRefresh bypasses the provider cache TTL in phase 1.
	ForceRefresh bool
	// Manual marks this as a user-initiated run: phase 1 updates
	// existing candidate rows with fresh metadata instead of leaving
	// them untouched.
	Manual bool
}

// Run executes all five phases (plus 5C for movies) for one entity.
// Each phase is individually resumable: re-running after a crash is safe
// because every write is idempotent (upsert-by-key, not append).
func (p *Pipeline) Run(ctx context.Context, entityID int64, opts RunOptions) error {
	entity, err := p.repo.GetEntity(entityID)
	if err != nil {
		return err
	}

	p.events.Publish(events.TypeEnrichmentStarted, events.EnrichmentStarted{EntityID: entity.ID, Title: entity.Title})

	if err := p.phase1Fetch(ctx, entity, opts); err != nil {
		p.fail(entity.ID, err)
		return err
	}

	if err := p.phase2Match(entity.ID); err != nil {
		p.fail(entity.ID, err)
		return err
	}

	if err := p.phase3Analyze(ctx, entity.ID); err != nil {
		p.fail(entity.ID, err)
		return err
	}

	if err := p.phase4Score(entity.ID); err != nil {
		p.fail(entity.ID, err)
		return err
	}

	if err := p.phase5Select(ctx, entity.ID, entity.Kind); err != nil {
		p.fail(entity.ID, err)
		return err
	}

	if entity.Kind == entities.KindMovie {
		if err := p.phase5cActorThumbnails(ctx, entity.ID); err != nil {
			// Actor failures are skipped, not fatal.
			log.Warn().Err(err).Int64("entityId", entity.ID).Msg("phase 5C actor thumbnails degraded")
		}
	}

	now := time.Now()
	entity.EnrichedAt = &now
	entity.IdentificationStat = entities.StatusEnriched
	if err := p.repo.UpdateEntity(entity); err != nil {
		return err
	}

	p.events.Publish(events.TypeEnrichmentComplete, events.EnrichmentComplete{EntityID: entity.ID})
	return nil
}

func (p *Pipeline) fail(entityID int64, err error) {
	log.Error().Err(err).Int64("entityId", entityID).Msg("enrichment pipeline phase failed")
	p.events.Publish(events.TypeEnrichmentFailed, events.EnrichmentFailed{EntityID: entityID, Error: err.Error()})
}
