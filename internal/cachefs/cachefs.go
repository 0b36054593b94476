// Package cachefs materializes selected assets onto disk under a
// content-addressed cache layout:
// cache/<assetType>/<hash[0:2]>/<hash>.<ext> for posters/backdrops/etc,
// and cache/actors/<hash[0:2]>/<hash[2:4]>/<hash>.<ext> for actor
// thumbnails.
package cachefs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jsaddiction/metarr/internal/assets"
)

// Store writes/reads/removes cache files under a root directory,
// atomically (write-to-temp-then-rename) so a crash mid-write never
// leaves a half-written file behind — the same atomic-write idiom the
// NFO writer uses (internal/nfo).
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

// CanonicalPath builds the on-disk path for a regular (non-actor) asset.
func (s *Store) CanonicalPath(cacheRoot string, assetType assets.Type, contentHash, ext string) string {
	if len(contentHash) < 2 {
		contentHash = contentHash + "00"
	}
	return filepath.Join(cacheRoot, string(assetType), contentHash[:2], contentHash+ext)
}

// ActorPath builds the on-disk path for an actor thumbnail, using a
// deeper two-level sharding for the actors cache.
func ActorPath(cacheRoot, contentHash, ext string) string {
	if len(contentHash) < 4 {
		contentHash = contentHash + "0000"
	}
	return filepath.Join(cacheRoot, "actors", contentHash[:2], contentHash[2:4], contentHash+ext)
}

// Write atomically writes data to path, creating parent directories as
// needed.
func (s *Store) Write(path string, data []byte) error {
	full := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("cachefs: mkdir: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cachefs: write temp file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cachefs: rename temp file: %w", err)
	}
	return nil
}

// Read returns a cache file's bytes.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(s.abs(path))
	if err != nil {
		return nil, fmt.Errorf("cachefs: read: %w", err)
	}
	return data, nil
}

// Remove deletes a cache file; a missing file is not an error, matching
// the verifier's "best effort" recycling semantics.
func (s *Store) Remove(path string) error {
	if err := os.Remove(s.abs(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cachefs: remove: %w", err)
	}
	return nil
}

// Sweep walks the cache root and removes any regular file whose
// cache-relative path is not present in known (the cache_files registry),
// returning the count removed. Used by the scheduled-cleanup job to
// reclaim disk left behind by a crash mid-materialize or by an entity
// deletion that never ran.
func (s *Store) Sweep(known []string) (int, error) {
	keep := make(map[string]bool, len(known))
	for _, p := range known {
		keep[filepath.Clean(p)] = true
	}

	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		if keep[filepath.Clean(rel)] {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cachefs: sweep remove %s: %w", path, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *Store) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}
