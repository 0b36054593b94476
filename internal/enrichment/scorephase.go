package enrichment

import (
	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/enrichment/score"
	"github.com/jsaddiction/metarr/internal/events"
)

func scoreAssetType(t assets.Type) score.AssetType {
	switch t {
	case assets.TypePoster:
		return score.TypePoster
	case assets.TypeBackdrop:
		return score.TypeBackdrop
	case assets.TypeLogo:
		return score.TypeLogo
	case assets.TypeBanner:
		return score.TypeBanner
	default:
		return score.AssetType(t)
	}
}

func providerRankOf(provider string) score.ProviderRank {
	switch provider {
	case "tmdb":
		return score.RankTMDB
	case "fanarttv":
		return score.RankFanartTV
	case "tvdb":
		return score.RankTVDB
	default:
		return score.RankOther
	}
}

// phase4Score computes a 0-100 score for every analyzed candidate using
// the weighting table in the score package.
func (p *Pipeline) phase4Score(entityID int64) error {
	candidates, err := p.candidates.ListAnalyzed(entityID)
	if err != nil {
		return err
	}

	preferred := p.cfg.PreferredLanguage()
	for _, c := range candidates {
		b := score.Score(score.Candidate{
			AssetType:         scoreAssetType(c.AssetType),
			Width:             c.Width,
			Height:            c.Height,
			VoteAverage:       c.VoteAverage,
			VoteCount:         c.VoteCount,
			Language:          c.Language,
			PreferredLanguage: preferred,
			ProviderRank:      providerRankOf(c.Provider),
		})
		if err := p.candidates.UpdateScore(c.ID, b.Total); err != nil {
			log.Warn().Err(err).Int64("candidateId", c.ID).Msg("failed to persist candidate score")
		}
	}

	p.events.Publish(events.TypeEnrichmentPhaseComplete, events.EnrichmentPhaseComplete{
		EntityID: entityID, Phase: 4, Counts: map[string]int{"scored": len(candidates)},
	})
	return nil
}
