package enrichment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/providers"
)

// providerKindOf maps an entity kind onto the provider taxonomy; seasons
// and episodes are looked up against their series' provider record since
// TMDB/TVDB/Fanart.tv have no per-episode artwork endpoints this engine
// targets.
func providerKindOf(k entities.Kind) providers.EntityKind {
	if k == entities.KindMovie {
		return providers.KindMovie
	}
	return providers.KindSeries
}

// assetTypeOf maps a provider image type onto the internal taxonomy;
// unmapped types are skipped.
func assetTypeOf(providerType string) (assets.Type, bool) {
	switch providerType {
	case "poster":
		return assets.TypePoster, true
	case "backdrop", "background", "fanart":
		return assets.TypeBackdrop, true
	case "logo", "clearlogo":
		return assets.TypeLogo, true
	case "banner":
		return assets.TypeBanner, true
	default:
		return "", false
	}
}

// phase1Fetch calls the provider orchestrator, copies scalar metadata
// (respecting locks), replaces cast, and upserts candidate rows for every
// mapped image.
func (p *Pipeline) phase1Fetch(ctx context.Context, entity *entities.Entity, opts RunOptions) error {
	ids := providers.ExternalIDs{
		TMDBID: entity.ExternalIDs.TMDBID,
		IMDBID: entity.ExternalIDs.IMDBID,
		TVDBID: entity.ExternalIDs.TVDBID,
	}

	result, err := p.fetcher.Fetch(ctx, providerKindOf(entity.Kind), ids, providers.FetchOptions{
		IncludeImages:   true,
		IncludeVideos:   true,
		IncludeCastCrew: true,
		ForceRefresh:    opts.ForceRefresh,
	})
	if err != nil {
		return fmt.Errorf("fetch provider metadata: %w", err)
	}

	rec := result.Record
	p.applyScalars(entity, rec)
	if err := p.repo.UpdateEntity(entity); err != nil {
		return fmt.Errorf("update entity scalars: %w", err)
	}

	if err := p.applyTaxonomies(entity.ID, rec); err != nil {
		return fmt.Errorf("update entity taxonomies: %w", err)
	}

	if !entity.Locks.Rating {
		if err := p.applyRatings(entity.ID, rec); err != nil {
			return fmt.Errorf("update entity ratings: %w", err)
		}
	}

	if err := p.applyCast(entity.ID, rec); err != nil {
		return fmt.Errorf("update entity cast: %w", err)
	}

	counts := map[string]int{"images": 0, "skipped": 0}
	for _, img := range rec.Images {
		typ, ok := assetTypeOf(img.Type)
		if !ok {
			counts["skipped"]++
			continue
		}
		c := &assets.Candidate{
			EntityID:    entity.ID,
			AssetType:   typ,
			Provider:    string(img.Provider),
			URL:         img.URL,
			Width:       img.Width,
			Height:      img.Height,
			VoteAverage: img.VoteAverage,
			VoteCount:   img.VoteCount,
			Language:    img.Language,
			Source:      assets.SourceProvider,
		}
		if _, err := p.candidates.UpsertCandidate(c, opts.Manual); err != nil {
			log.Warn().Err(err).Str("url", img.URL).Msg("failed to upsert candidate")
			continue
		}
		counts["images"]++
	}

	p.events.Publish(events.TypeEnrichmentPhaseComplete, events.EnrichmentPhaseComplete{EntityID: entity.ID, Phase: 1, Counts: counts})
	return nil
}

func (p *Pipeline) applyScalars(entity *entities.Entity, rec *providers.Record) {
	if !entity.Locks.Title && rec.Title != "" {
		entity.Title = rec.Title
	}
	if rec.OriginalTitle != "" {
		entity.OriginalTitle = rec.OriginalTitle
	}
	if !entity.Locks.Plot && rec.Plot != "" {
		entity.Plot = rec.Plot
	}
	if !entity.Locks.Tagline && rec.Tagline != "" {
		entity.Tagline = rec.Tagline
	}
	if !entity.Locks.Studio && rec.Studio != "" {
		entity.Studio = rec.Studio
	}
	if !entity.Locks.Year && rec.Year != 0 {
		entity.Year = rec.Year
	}
}

func (p *Pipeline) applyTaxonomies(entityID int64, rec *providers.Record) error {
	if err := p.repo.ReplaceGenres(entityID, rec.Genres); err != nil {
		return err
	}
	if err := p.repo.ReplaceStudios(entityID, rec.Studios); err != nil {
		return err
	}
	if err := p.repo.ReplaceCountries(entityID, rec.Countries); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) applyRatings(entityID int64, rec *providers.Record) error {
	ratings := make([]entities.Rating, 0, len(rec.RatingsBySrc))
	for src, r := range rec.RatingsBySrc {
		ratings = append(ratings, entities.Rating{Source: src, Value: r.Value, Votes: r.Votes, Max: r.Max})
	}
	return p.repo.ReplaceRatings(entityID, ratings)
}

// applyCast upserts every cast member as an actor (honoring each actor's
// own name lock, handled inside UpsertActor), then rewrites the entity's
// cast_links table. Actors are upserted individually, ahead of the link
// rewrite, so every link can carry a real actor id.
func (p *Pipeline) applyCast(entityID int64, rec *providers.Record) error {
	links := make([]entities.CastLink, 0, len(rec.Cast))
	for _, cm := range rec.Cast {
		actorID, err := p.repo.UpsertActor(&entities.Actor{
			ProviderPersonID: cm.ProviderPersonID,
			Name:             cm.Name,
			ProfileURL:       cm.ProfileImageURL,
		})
		if err != nil {
			log.Warn().Err(err).Str("actor", cm.Name).Msg("failed to upsert actor")
			continue
		}
		links = append(links, entities.CastLink{EntityID: entityID, ActorID: actorID, Role: cm.Role, Order: cm.Order})
	}
	return p.repo.ReplaceCast(entityID, links, nil)
}
