// Package verify reconciles an entity's on-disk directory against the
// cache file registry: re-probing the main media file when it changed,
// restoring missing or corrupted sidecar assets from cache, and
// recycling anything that doesn't belong.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/nfo"
)

// Repository is the subset of entities.Repository the verifier needs.
type Repository interface {
	GetEntity(id int64) (*entities.Entity, error)
	UpdateEntity(e *entities.Entity) error
	ReplaceStreamTracks(entityID int64, tracks []entities.StreamTrack) error
}

// CacheFileLister is the cache_files accessor the verifier reads the
// expected-file set from.
type CacheFileLister interface {
	ListByEntity(entityID int64) ([]*assets.CacheFile, error)
}

// FileStore reads cache-rooted files; internal/cachefs.Store satisfies it.
type FileStore interface {
	Read(path string) ([]byte, error)
}

// StreamProbe extracts container/track metadata from a media file.
// internal/verify/ffprobe.go provides the real implementation.
type StreamProbe interface {
	Probe(ctx context.Context, path string) ([]entities.StreamTrack, error)
}

// Verifier reconciles one entity directory at a time.
type Verifier struct {
	repo       Repository
	cacheFiles CacheFileLister
	files      FileStore
	probe      StreamProbe
	trashRoot  string
}

func New(repo Repository, cacheFiles CacheFileLister, files FileStore, probe StreamProbe, trashRoot string) *Verifier {
	return &Verifier{repo: repo, cacheFiles: cacheFiles, files: files, probe: probe, trashRoot: trashRoot}
}

// Outcome summarizes what changed, so the caller (a handler) can decide
// whether to chain a re-publish or a player-notify job.
type Outcome struct {
	VideoChanged    bool
	AssetsRestored  int
	AssetsRecycled  int
	ResidualsMoved  int
}

func (o Outcome) AnyAssetChange() bool {
	return o.AssetsRestored > 0 || o.AssetsRecycled > 0 || o.ResidualsMoved > 0
}

var ignoredFiles = map[string]bool{
	"thumbs.db":   true,
	"desktop.ini": true,
}

// Verify runs the full reconciliation for one entity and reports what
// changed. Every write is safe to retry: a crash mid-run leaves the
// filesystem in a state the next run will simply re-diff.
func (v *Verifier) Verify(ctx context.Context, entityID int64) (Outcome, error) {
	var out Outcome

	entity, err := v.repo.GetEntity(entityID)
	if err != nil {
		return out, err
	}
	if !entity.IsFileBacked() || entity.MediaFilePath == "" {
		return out, nil
	}

	videoChanged, err := v.checkVideo(ctx, entity)
	if err != nil {
		return out, err
	}
	out.VideoChanged = videoChanged

	snapshot, err := v.snapshotDirectory(entity)
	if err != nil {
		return out, err
	}
	delete(snapshot, filepath.Base(entity.MediaFilePath))

	expected, err := v.expectedFiles(entityID, entity)
	if err != nil {
		return out, err
	}

	for name, cf := range expected {
		entry, present := snapshot[name]
		dest := filepath.Join(entity.DirectoryPath, name)

		if !present {
			if err := v.restore(cf, dest); err != nil {
				log.Warn().Err(err).Str("path", dest).Msg("failed to restore expected asset")
				continue
			}
			out.AssetsRestored++
			continue
		}

		delete(snapshot, name)
		hash, err := hashFile(entry.path)
		if err != nil {
			log.Warn().Err(err).Str("path", entry.path).Msg("failed to hash on-disk asset")
			continue
		}
		if hash == cf.ContentHash {
			continue
		}
		if err := v.recycle(entry.path); err != nil {
			log.Warn().Err(err).Str("path", entry.path).Msg("failed to recycle mismatched asset")
			continue
		}
		out.AssetsRecycled++
		if err := v.restore(cf, dest); err != nil {
			log.Warn().Err(err).Str("path", dest).Msg("failed to restore asset after recycle")
			continue
		}
		out.AssetsRestored++
	}

	for name, entry := range snapshot {
		if ignoredFiles[strings.ToLower(name)] || strings.HasPrefix(name, ".") {
			continue
		}
		if err := v.recycle(entry.path); err != nil {
			log.Warn().Err(err).Str("path", entry.path).Msg("failed to recycle residual file")
			continue
		}
		out.ResidualsMoved++
	}

	return out, nil
}

func (v *Verifier) checkVideo(ctx context.Context, entity *entities.Entity) (bool, error) {
	hash, err := hashFile(entity.MediaFilePath)
	if err != nil {
		return false, fmt.Errorf("verify: hash media file: %w", err)
	}
	if hash == entity.ContentHash {
		return false, nil
	}

	if v.probe != nil {
		tracks, err := v.probe.Probe(ctx, entity.MediaFilePath)
		if err != nil {
			log.Warn().Err(err).Int64("entityId", entity.ID).Msg("stream probe failed, keeping existing track rows")
		} else {
			for i := range tracks {
				tracks[i].EntityID = entity.ID
			}
			if err := v.repo.ReplaceStreamTracks(entity.ID, tracks); err != nil {
				return false, fmt.Errorf("verify: replace stream tracks: %w", err)
			}
		}
	}

	entity.ContentHash = hash
	if err := v.repo.UpdateEntity(entity); err != nil {
		return false, fmt.Errorf("verify: update entity hash: %w", err)
	}
	return true, nil
}

type dirEntry struct {
	path string
	size int64
}

func (v *Verifier) snapshotDirectory(entity *entities.Entity) (map[string]dirEntry, error) {
	entries, err := os.ReadDir(entity.DirectoryPath)
	if err != nil {
		return nil, fmt.Errorf("verify: read directory: %w", err)
	}
	out := make(map[string]dirEntry, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = dirEntry{path: filepath.Join(entity.DirectoryPath, e.Name()), size: info.Size()}
	}
	return out, nil
}

// kodiSuffix maps an asset type to the Kodi sidecar naming convention
//.
func kodiSuffix(t assets.Type) string {
	switch t {
	case assets.TypePoster:
		return "poster"
	case assets.TypeBackdrop:
		return "fanart"
	case assets.TypeLogo:
		return "clearlogo"
	case assets.TypeBanner:
		return "banner"
	default:
		return string(t)
	}
}

// baseName is "Title (Year)" for movies.
// Other kinds use the media file's basename without its extension, since
// their Kodi sidecar convention follows the video basename.
func baseName(entity *entities.Entity) string {
	if entity.Kind == entities.KindMovie {
		return fmt.Sprintf("%s (%d)", entity.Title, entity.Year)
	}
	name := filepath.Base(entity.MediaFilePath)
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext)
}

func (v *Verifier) expectedFiles(entityID int64, entity *entities.Entity) (map[string]*assets.CacheFile, error) {
	files, err := v.cacheFiles.ListByEntity(entityID)
	if err != nil {
		return nil, err
	}

	base := baseName(entity)
	trailerIndex := 0
	out := make(map[string]*assets.CacheFile, len(files))
	for _, f := range files {
		ext := filepath.Ext(f.FilePath)
		var name string
		switch f.AssetType {
		case assets.TypeTrailer:
			if trailerIndex == 0 {
				name = fmt.Sprintf("%s-trailer%s", base, ext)
			} else {
				name = fmt.Sprintf("%s-trailer%d%s", base, trailerIndex, ext)
			}
			trailerIndex++
		case assets.TypeActor:
			continue // actor thumbnails live in the cache only, never as a library sidecar
		case assets.TypeNFO:
			name = filepath.Base(nfo.CanonicalPath(entity))
		case assets.TypeSubtitle:
			if f.Language != "" {
				name = fmt.Sprintf("%s.%s%s", base, f.Language, ext)
			} else {
				name = fmt.Sprintf("%s%s", base, ext)
			}
		default:
			name = fmt.Sprintf("%s-%s%s", base, kodiSuffix(f.AssetType), ext)
		}
		out[name] = f
	}
	return out, nil
}

func (v *Verifier) restore(cf *assets.CacheFile, dest string) error {
	data, err := v.files.Read(cf.FilePath)
	if err != nil {
		return fmt.Errorf("verify: read cache file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("verify: mkdir: %w", err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("verify: write temp file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("verify: rename temp file: %w", err)
	}
	return nil
}

// recycle moves a file to trash/<timestamp>/<filename> rather than
// deleting it outright.
func (v *Verifier) recycle(path string) error {
	dir := filepath.Join(v.trashRoot, strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("verify: mkdir trash: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return copyThenRemove(path, dest)
	}
	return nil
}

func copyThenRemove(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("verify: read for cross-device recycle: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("verify: write for cross-device recycle: %w", err)
	}
	return os.Remove(src)
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
