package enrichment

import (
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/enrichment/phash"
)

func hashToHex(h phash.Hash) string {
	return strconv.FormatUint(uint64(h), 16)
}

func hexToHash(s string) (phash.Hash, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return phash.Hash(v), true
}

// phase2Match compares candidates that already carry a perceptual hash
// against existing cache files of the same asset type. A match marks the
// candidate downloaded and carries over the cache file's content hash;
// phase 5 still downloads every newly selected candidate, matched or not.
// Cache files missing a perceptual hash are backfilled by decoding the
// file on disk.
func (p *Pipeline) phase2Match(entityID int64) error {
	cacheFiles, err := p.cacheFiles.ListByEntity(entityID)
	if err != nil {
		return err
	}

	byType := make(map[assets.Type][]cacheFileHash)
	for _, f := range cacheFiles {
		h, ok := hexToHash(f.PerceptualHash)
		if !ok {
			h, ok = p.backfillCacheHash(f)
			if !ok {
				continue
			}
		}
		byType[f.AssetType] = append(byType[f.AssetType], cacheFileHash{hash: h, contentHash: f.ContentHash})
	}

	threshold := p.cfg.MatchSimilarity()

	for typ, files := range byType {
		candidates, err := p.candidates.ListByType(entityID, typ)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if c.IsDownloaded {
				continue
			}
			ch, ok := hexToHash(c.PerceptualHash)
			if !ok {
				continue
			}
			for _, f := range files {
				if phash.Similarity(ch, f.hash) >= threshold {
					if err := p.candidates.MarkMatched(c.ID, f.contentHash); err != nil {
						log.Warn().Err(err).Int64("candidateId", c.ID).Msg("failed to mark candidate matched")
					}
					break
				}
			}
		}
	}

	return nil
}

type cacheFileHash struct {
	hash        phash.Hash
	contentHash string
}

func (p *Pipeline) backfillCacheHash(f *assets.CacheFile) (phash.Hash, bool) {
	data, err := p.files.Read(f.FilePath)
	if err != nil {
		return 0, false
	}
	h, err := phash.Average(data)
	if err != nil {
		return 0, false
	}
	if err := p.cacheFiles.UpdatePerceptualHash(f.ID, hashToHex(h)); err != nil {
		log.Warn().Err(err).Int64("cacheFileId", f.ID).Msg("failed to backfill cache file perceptual hash")
	}
	return h, true
}
