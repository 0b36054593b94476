package enrichment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/cachefs"
	"github.com/jsaddiction/metarr/internal/providers"
)

// phase5cActorThumbnails downloads and materializes a profile thumbnail for
// every cast member of a movie missing one. Per-actor failures are logged
// and skipped; one broken profile URL never fails the rest of the cast.
func (p *Pipeline) phase5cActorThumbnails(ctx context.Context, entityID int64) error {
	actors, err := p.repo.ListActorsWithoutImage(entityID)
	if err != nil {
		return err
	}

	done := 0
	for _, a := range actors {
		data, mime, err := providers.Download(ctx, p.httpClient, a.ProfileURL)
		if err != nil {
			log.Debug().Err(err).Int64("actorId", a.ID).Msg("actor thumbnail download failed, skipping")
			continue
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		path := cachefs.ActorPath(p.cfg.CacheRoot(), hash, extFor(mime))

		if err := p.files.Write(path, data); err != nil {
			log.Warn().Err(err).Int64("actorId", a.ID).Msg("failed to write actor thumbnail")
			continue
		}

		var width, height int
		// Format decoders (gif/jpeg/png/bmp/webp) are registered by this
		// package's own analyze.go importing internal/enrichment/phash;
		// image.RegisterFormat is process-global, so no separate import
		// is needed here.
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			width, height = cfg.Width, cfg.Height
		} else {
			log.Debug().Err(err).Int64("actorId", a.ID).Msg("failed to decode actor thumbnail dimensions")
		}

		if err := p.repo.SetActorImage(a.ID, hash, path, width, height); err != nil {
			log.Warn().Err(err).Int64("actorId", a.ID).Msg("failed to persist actor thumbnail")
			continue
		}
		done++
	}

	log.Debug().Int64("entityId", entityID).Int("count", done).Msg("phase 5C actor thumbnails materialized")
	return nil
}
