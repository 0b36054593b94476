package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/jobs"
)

// localAssetSuffixes maps the Kodi on-disk artwork naming convention
// ("<basename>-poster.jpg", "-fanart.jpg", ...) to the asset taxonomy.
var localAssetSuffixes = map[string]assets.Type{
	"-poster":     assets.TypePoster,
	"-fanart":     assets.TypeBackdrop,
	"-clearlogo":  assets.TypeLogo,
	"-logo":       assets.TypeLogo,
	"-banner":     assets.TypeBanner,
	"-trailer":    assets.TypeTrailer,
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// subtitleLangSuffix matches the Kodi subtitle naming convention
// "<base>.<lang>.srt", capturing a 2-3 letter ISO 639 code.
var subtitleLangSuffix = regexp.MustCompile(`(?i)\.([a-z]{2,3})$`)

// subtitleLanguage extracts the language code from a subtitle filename
// (minus its .srt extension), or "" if the file carries none.
func subtitleLanguage(base string) string {
	m := subtitleLangSuffix.FindStringSubmatch(base)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// handleDiscoverAssets registers every pre-existing artwork file in the
// entity's directory as a source=local candidate, so phase 5 selection
// knows what's already on disk before fetching anything from a provider
//.
func (d Deps) handleDiscoverAssets(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	inner, ok := jobs.EntityPayloadOf(payload)
	if !ok {
		return fmt.Errorf("handlers: unexpected payload type %T for discover-assets", payload)
	}

	entity, err := d.Repo.GetEntity(inner.EntityID)
	if err != nil {
		return fmt.Errorf("get entity %d: %w", inner.EntityID, err)
	}
	if entity.DirectoryPath == "" {
		logJob(job, "entity has no directory, skipping asset discovery")
		return d.continueAfterDiscover(entity.ID)
	}

	entriesList, err := os.ReadDir(entity.DirectoryPath)
	if err != nil {
		return fmt.Errorf("read entity directory %s: %w", entity.DirectoryPath, err)
	}

	found := 0
	for _, e := range entriesList {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !imageExts[ext] {
			continue
		}
		base := strings.TrimSuffix(strings.ToLower(e.Name()), ext)
		var assetType assets.Type
		for suffix, t := range localAssetSuffixes {
			if strings.HasSuffix(base, suffix) {
				assetType = t
				break
			}
		}
		if assetType == "" {
			continue
		}

		fullPath := filepath.Join(entity.DirectoryPath, e.Name())
		hash, err := hashFile(fullPath)
		if err != nil {
			logErr(err, "hash local candidate")
			continue
		}

		_, err = d.Candidates.UpsertCandidate(&assets.Candidate{
			EntityID:    entity.ID,
			AssetType:   assetType,
			Provider:    "local",
			URL:         "file://" + fullPath,
			ContentHash: hash,
			Source:      assets.SourceLocal,
		}, false)
		if err != nil {
			logErr(err, "upsert local candidate")
			continue
		}
		found++
	}

	subs := d.discoverLocalSubtitles(entity, entriesList)
	logJob(job, fmt.Sprintf("discover-assets found %d local candidates, %d subtitles", found, subs))

	return d.continueAfterDiscover(entity.ID)
}

// discoverLocalSubtitles mirrors every on-disk .srt sidecar straight into
// the cache registry, keyed by language: no provider in this engine's
// stack supplies subtitles, so a local file IS the selection, not merely a
// candidate for one. Re-running leaves a subtitle with an unchanged hash
// alone (Insert's upsert-on-conflict is a no-op for it).
func (d Deps) discoverLocalSubtitles(entity *entities.Entity, entriesList []os.DirEntry) int {
	if d.CacheFS == nil || d.CacheFiles == nil {
		return 0
	}
	found := 0
	for _, e := range entriesList {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.ToLower(filepath.Ext(name)) != ".srt" {
			continue
		}

		fullPath := filepath.Join(entity.DirectoryPath, name)
		data, err := os.ReadFile(fullPath)
		if err != nil {
			logErr(err, "read local subtitle")
			continue
		}
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		lang := subtitleLanguage(strings.TrimSuffix(name, filepath.Ext(name)))

		cachePath := d.CacheFS.CanonicalPath(d.Config.CacheRoot(), assets.TypeSubtitle, hash, ".srt")
		if err := d.CacheFS.Write(cachePath, data); err != nil {
			log.Warn().Err(err).Str("path", fullPath).Msg("failed to cache local subtitle")
			continue
		}
		if _, err := d.CacheFiles.Insert(&assets.CacheFile{
			EntityKind:  string(entity.Kind),
			EntityID:    entity.ID,
			AssetType:   assets.TypeSubtitle,
			FilePath:    cachePath,
			FileSize:    int64(len(data)),
			ContentHash: hash,
			Language:    lang,
			Source:      assets.SourceLocal,
			SourceURL:   "file://" + fullPath,
		}); err != nil {
			log.Warn().Err(err).Str("path", fullPath).Msg("failed to record cached subtitle")
			continue
		}
		found++
	}
	return found
}

func (d Deps) continueAfterDiscover(entityID int64) error {
	if !d.Config.Toggles().Enrichment {
		return nil
	}
	return d.enqueue(jobs.TypeEnrichMetadata, jobs.PriorityNormal,
		jobs.NewEnrichMetadataPayload(jobs.EntityJobPayload{
			Chain:    jobs.ChainContext{Source: "scan"},
			EntityID: entityID,
		}), 0)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
