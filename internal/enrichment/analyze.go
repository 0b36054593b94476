package enrichment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/enrichment/phash"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/providers"
)

// phase3Analyze downloads every unanalyzed candidate, computes its
// content hash, dimensions, format, perceptual hashes (average and
// difference) and foreground ratio, and persists the result. Concurrency
// is bounded per entity; a single
// candidate's network or decode failure is logged and skipped rather than
// failing the phase.
//
// Trailer candidates (asset type trailer) get a content hash and an
// analyzed flag but no codec/duration probe: no video-container parsing
// library exists anywhere in the retrieval pack, and hand-rolling a
// container parser is out of proportion to what this pipeline needs
// (the scoring table has no video-specific sub-score, so a trailer scores
// on language, votes and provider only, and with no perceptual hash it is
// never rejected as a duplicate).
func (p *Pipeline) phase3Analyze(ctx context.Context, entityID int64) error {
	pending, err := p.candidates.ListUnanalyzed(entityID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	concurrency := p.cfg.AnalyzeConcurrency()
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	analyzed, failed := 0, 0

	for _, c := range pending {
		c := c
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.analyzeOne(ctx, c); err != nil {
				log.Debug().Err(err).Str("url", c.URL).Msg("candidate analysis failed, skipping")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			analyzed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	p.events.Publish(events.TypeEnrichmentPhaseComplete, events.EnrichmentPhaseComplete{
		EntityID: entityID, Phase: 3, Counts: map[string]int{"analyzed": analyzed, "failed": failed},
	})
	return nil
}

func (p *Pipeline) analyzeOne(ctx context.Context, c *assets.Candidate) error {
	data, _, err := providers.Download(ctx, p.httpClient, c.URL)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	c.ContentHash = hex.EncodeToString(sum[:])

	if c.AssetType == assets.TypeTrailer {
		return p.candidates.UpdateAnalysis(c)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		c.Width = cfg.Width
		c.Height = cfg.Height
		c.Format = format
	}

	if h, err := phash.Average(data); err == nil {
		c.PerceptualHash = hashToHex(h)
	}
	if h, err := phash.Difference(data); err == nil {
		c.DifferenceHash = hashToHex(h)
	}
	if ratio, err := phash.ForegroundRatio(data); err == nil {
		c.ForegroundRatio = ratio
	}

	return p.candidates.UpdateAnalysis(c)
}
