package db

import (
	"database/sql"
	"fmt"

	"github.com/jsaddiction/metarr/internal/assets"
)

// CacheFileStore is the SQLite-backed cache_files accessor.
type CacheFileStore struct {
	db *DB
}

func NewCacheFileStore(d *DB) *CacheFileStore {
	return &CacheFileStore{db: d}
}

// Insert records a materialized cache file (phase 5 download, phase 5C
// actor thumbnail, or a directory-scan placeholder).
func (s *CacheFileStore) Insert(f *assets.CacheFile) (int64, error) {
	res, err := s.db.Conn().Exec(`
		INSERT INTO cache_files
			(entity_kind, entity_id, asset_type, file_path, file_size, content_hash,
			 perceptual_hash, language, source, source_url, provider)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(entity_id, asset_type, content_hash) DO UPDATE SET
			file_path = excluded.file_path, file_size = excluded.file_size`,
		f.EntityKind, f.EntityID, string(f.AssetType), f.FilePath, f.FileSize, f.ContentHash,
		f.PerceptualHash, f.Language, string(f.Source), f.SourceURL, f.Provider)
	if err != nil {
		return 0, fmt.Errorf("insert cache file: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = s.db.Conn().QueryRow(`
		SELECT id FROM cache_files WHERE entity_id=? AND asset_type=? AND content_hash=?`,
		f.EntityID, string(f.AssetType), f.ContentHash).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve cache file id: %w", err)
	}
	return id, nil
}

// ListByEntity returns every cache file for an entity, regardless of type;
// used by the verifier to compute expected-vs-actual file sets.
func (s *CacheFileStore) ListByEntity(entityID int64) ([]*assets.CacheFile, error) {
	rows, err := s.db.Conn().Query(`
		SELECT id, entity_kind, entity_id, asset_type, file_path, file_size, content_hash,
			perceptual_hash, language, source, source_url, provider, created_at
		FROM cache_files WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, fmt.Errorf("list cache files: %w", err)
	}
	defer rows.Close()

	var out []*assets.CacheFile
	for rows.Next() {
		f, err := scanCacheFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanCacheFile(rows *sql.Rows) (*assets.CacheFile, error) {
	var f assets.CacheFile
	var assetType, source, createdAt string
	var perceptualHash, language, sourceURL, provider sql.NullString

	err := rows.Scan(&f.ID, &f.EntityKind, &f.EntityID, &assetType, &f.FilePath, &f.FileSize,
		&f.ContentHash, &perceptualHash, &language, &source, &sourceURL, &provider, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan cache file: %w", err)
	}
	f.AssetType = assets.Type(assetType)
	f.Source = assets.Source(source)
	f.PerceptualHash = perceptualHash.String
	f.Language = language.String
	f.SourceURL = sourceURL.String
	f.Provider = provider.String
	f.CreatedAt = parseTime(createdAt)
	return &f, nil
}

// ListAllPaths returns every cache file path known to the registry,
// regardless of entity — used by the scheduled-cleanup orphan sweep to
// tell referenced files apart from stray ones left by a crash mid-write
// or a deleted entity.
func (s *CacheFileStore) ListAllPaths() ([]string, error) {
	rows, err := s.db.Conn().Query(`SELECT file_path FROM cache_files`)
	if err != nil {
		return nil, fmt.Errorf("list cache file paths: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes a cache file row (the caller separately removes the
// backing file from disk).
func (s *CacheFileStore) Delete(id int64) error {
	_, err := s.db.Conn().Exec(`DELETE FROM cache_files WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete cache file: %w", err)
	}
	return nil
}

// UpdatePerceptualHash backfills a perceptual hash onto an existing cache
// file row. Missing hashes on old cache rows are backfilled
// opportunistically rather than in a dedicated migration pass.
func (s *CacheFileStore) UpdatePerceptualHash(id int64, hash string) error {
	_, err := s.db.Conn().Exec(`UPDATE cache_files SET perceptual_hash=? WHERE id=?`, hash, id)
	if err != nil {
		return fmt.Errorf("update cache file perceptual hash: %w", err)
	}
	return nil
}
