package enrichment

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/enrichment/phash"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/providers"
)

var selectableTypes = []assets.Type{
	assets.TypePoster, assets.TypeBackdrop, assets.TypeLogo, assets.TypeBanner, assets.TypeTrailer,
}

func extFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".bin"
	}
}

// phase5Select picks the top-N unique candidates per asset type, dedups
// by perceptual hash similarity, materializes newly-added selections to
// disk, deletes the cache files of dropped ones, and deletes superseded scanned-in
// placeholders.
func (p *Pipeline) phase5Select(ctx context.Context, entityID int64, entityKind entities.Kind) error {
	dedupThreshold := p.cfg.DedupSimilarity()
	totalAdded, totalRemoved := 0, 0

	for _, typ := range selectableTypes {
		if p.cfg.AssetTypeLocked(string(typ)) {
			continue
		}

		candidates, err := p.candidates.ListByType(entityID, typ)
		if err != nil {
			return err
		}
		analyzed := make([]*assets.Candidate, 0, len(candidates))
		for _, c := range candidates {
			if c.Analyzed {
				analyzed = append(analyzed, c)
			}
		}
		sort.SliceStable(analyzed, func(i, j int) bool { return analyzed[i].Score > analyzed[j].Score })

		limit := p.cfg.AssetTypeLimit(string(typ))
		var acceptedHashes []phash.Hash
		var winners []*assets.Candidate
		for _, c := range analyzed {
			if len(winners) >= limit {
				break
			}
			h, hasHash := hexToHash(c.PerceptualHash)
			if hasHash {
				dup := false
				for _, a := range acceptedHashes {
					if phash.Similarity(h, a) >= dedupThreshold {
						dup = true
						break
					}
				}
				if dup {
					if err := p.candidates.Reject(c.ID); err != nil {
						log.Warn().Err(err).Int64("candidateId", c.ID).Msg("failed to reject duplicate candidate")
					}
					continue
				}
				acceptedHashes = append(acceptedHashes, h)
			}
			winners = append(winners, c)
		}

		prevSelected, err := p.candidates.ListSelected(entityID, typ)
		if err != nil {
			return err
		}
		if sameSelection(prevSelected, winners) {
			continue
		}

		now := time.Now()
		winnerIDs := make(map[int64]bool, len(winners))
		for _, w := range winners {
			winnerIDs[w.ID] = true
		}
		for _, prev := range prevSelected {
			if !winnerIDs[prev.ID] {
				if err := p.candidates.SetSelected(prev.ID, false, "", nil); err != nil {
					log.Warn().Err(err).Int64("candidateId", prev.ID).Msg("failed to clear prior selection")
				}
				totalRemoved++
			}
		}
		prevIDs := make(map[int64]bool, len(prevSelected))
		for _, prev := range prevSelected {
			prevIDs[prev.ID] = true
		}
		for _, w := range winners {
			if err := p.candidates.SetSelected(w.ID, true, "auto", &now); err != nil {
				log.Warn().Err(err).Int64("candidateId", w.ID).Msg("failed to persist selection")
				continue
			}
			if prevIDs[w.ID] {
				continue
			}
			totalAdded++
			if err := p.materialize(ctx, entityID, entityKind, w); err != nil {
				log.Warn().Err(err).Int64("candidateId", w.ID).Msg("failed to materialize selected candidate")
			}
		}

		if err := p.pruneRemovedCacheFiles(entityID, typ, prevSelected, winnerIDs); err != nil {
			log.Warn().Err(err).Str("assetType", string(typ)).Msg("failed to prune superseded cache files")
		}
		if err := p.deleteLocalPlaceholders(entityID, typ); err != nil {
			log.Warn().Err(err).Str("assetType", string(typ)).Msg("failed to delete local placeholders")
		}
	}

	p.events.Publish(events.TypeEnrichmentPhaseComplete, events.EnrichmentPhaseComplete{
		EntityID: entityID, Phase: 5, Counts: map[string]int{"added": totalAdded, "removed": totalRemoved},
	})
	return nil
}

func sameSelection(prev, next []*assets.Candidate) bool {
	if len(prev) != len(next) {
		return false
	}
	ids := make(map[int64]bool, len(prev))
	for _, p := range prev {
		ids[p.ID] = true
	}
	for _, n := range next {
		if !ids[n.ID] {
			return false
		}
	}
	return true
}

func (p *Pipeline) materialize(ctx context.Context, entityID int64, entityKind entities.Kind, c *assets.Candidate) error {
	if c.ContentHash == "" {
		return nil
	}
	data, mime, err := providers.Download(ctx, p.httpClient, c.URL)
	if err != nil {
		return err
	}
	path := p.files.CanonicalPath(p.cfg.CacheRoot(), c.AssetType, c.ContentHash, extFor(mime))
	if err := p.files.Write(path, data); err != nil {
		return err
	}
	_, err = p.cacheFiles.Insert(&assets.CacheFile{
		EntityKind:     string(entityKind),
		EntityID:       entityID,
		AssetType:      c.AssetType,
		FilePath:       path,
		FileSize:       int64(len(data)),
		ContentHash:    c.ContentHash,
		PerceptualHash: c.PerceptualHash,
		Source:         assets.SourceProvider,
		SourceURL:      c.URL,
		Provider:       c.Provider,
	})
	return err
}

func (p *Pipeline) pruneRemovedCacheFiles(entityID int64, typ assets.Type, prevSelected []*assets.Candidate, winnerIDs map[int64]bool) error {
	files, err := p.cacheFiles.ListByEntity(entityID)
	if err != nil {
		return err
	}
	removedHashes := make(map[string]bool)
	for _, prev := range prevSelected {
		if !winnerIDs[prev.ID] && prev.ContentHash != "" {
			removedHashes[prev.ContentHash] = true
		}
	}
	for _, f := range files {
		if f.AssetType != typ || !removedHashes[f.ContentHash] {
			continue
		}
		if err := p.files.Remove(f.FilePath); err != nil {
			log.Warn().Err(err).Str("path", f.FilePath).Msg("failed to remove superseded cache file")
		}
		if err := p.cacheFiles.Delete(f.ID); err != nil {
			log.Warn().Err(err).Int64("cacheFileId", f.ID).Msg("failed to delete superseded cache file row")
		}
	}
	return nil
}

func (p *Pipeline) deleteLocalPlaceholders(entityID int64, typ assets.Type) error {
	local, err := p.candidates.ListLocal(entityID, typ)
	if err != nil {
		return err
	}
	if len(local) == 0 {
		return nil
	}

	files, err := p.cacheFiles.ListByEntity(entityID)
	if err != nil {
		return err
	}
	localFiles := make(map[string]*assets.CacheFile)
	for _, f := range files {
		if f.AssetType == typ && f.Source == assets.SourceLocal {
			localFiles[f.ContentHash] = f
		}
	}

	for _, c := range local {
		if f, ok := localFiles[c.ContentHash]; ok {
			if err := p.files.Remove(f.FilePath); err != nil {
				log.Warn().Err(err).Str("path", f.FilePath).Msg("failed to remove local placeholder file")
			}
			if err := p.cacheFiles.Delete(f.ID); err != nil {
				log.Warn().Err(err).Int64("cacheFileId", f.ID).Msg("failed to delete local placeholder row")
			}
		}
		if err := p.candidates.DeleteLocal(c.ID); err != nil {
			log.Warn().Err(err).Int64("candidateId", c.ID).Msg("failed to delete local placeholder candidate")
		}
	}
	return nil
}
