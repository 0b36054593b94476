package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jsaddiction/metarr/internal/providers"
)

// ProviderCache is the SQLite-backed providers.CacheStore implementation.
type ProviderCache struct {
	db *DB
}

func NewProviderCache(d *DB) *ProviderCache {
	return &ProviderCache{db: d}
}

// GetCached implements providers.CacheStore.
func (c *ProviderCache) GetCached(kind providers.EntityKind, provider providers.Name, providerID string) (*providers.CachedRecord, error) {
	if providerID == "" {
		return nil, nil
	}
	var id int64
	var payload, fetchedAt string
	err := c.db.Conn().QueryRow(`
		SELECT id, payload, fetched_at FROM provider_cache
		WHERE entity_kind = ? AND provider = ? AND provider_id = ?`,
		string(kind), string(provider), providerID).Scan(&id, &payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get provider cache: %w", err)
	}

	var rec providers.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode cached provider record: %w", err)
	}

	images, err := c.loadImages(id)
	if err != nil {
		return nil, err
	}
	rec.Images = images

	return &providers.CachedRecord{Record: &rec, FetchedAt: parseTime(fetchedAt)}, nil
}

// PutCached implements providers.CacheStore, writing the merged record and
// its child image rows atomically.
func (c *ProviderCache) PutCached(kind providers.EntityKind, provider providers.Name, providerID string, rec *providers.Record) error {
	if providerID == "" {
		return nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode provider record: %w", err)
	}
	origin, err := json.Marshal(rec.FieldOrigin)
	if err != nil {
		return fmt.Errorf("encode field origin: %w", err)
	}

	tx, err := c.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("put provider cache: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO provider_cache (entity_kind, provider, provider_id, payload, field_origin, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_kind, provider, provider_id) DO UPDATE SET
			payload = excluded.payload, field_origin = excluded.field_origin, fetched_at = excluded.fetched_at`,
		string(kind), string(provider), providerID, string(payload), string(origin), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert provider cache: %w", err)
	}

	var cacheID int64
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		cacheID = id
	} else {
		if err := tx.QueryRow(`
			SELECT id FROM provider_cache WHERE entity_kind=? AND provider=? AND provider_id=?`,
			string(kind), string(provider), providerID).Scan(&cacheID); err != nil {
			return fmt.Errorf("resolve provider cache id: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM provider_cache_images WHERE cache_id = ?`, cacheID); err != nil {
		return fmt.Errorf("clear provider cache images: %w", err)
	}
	for _, img := range rec.Images {
		if _, err := tx.Exec(`
			INSERT INTO provider_cache_images
				(cache_id, image_type, url, width, height, vote_average, vote_count, language, is_hd, provider)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			cacheID, img.Type, img.URL, img.Width, img.Height, img.VoteAverage, img.VoteCount, img.Language, img.IsHD, string(img.Provider)); err != nil {
			return fmt.Errorf("insert provider cache image: %w", err)
		}
	}

	return tx.Commit()
}

func (c *ProviderCache) loadImages(cacheID int64) ([]providers.Image, error) {
	rows, err := c.db.Conn().Query(`
		SELECT image_type, url, width, height, vote_average, vote_count, language, is_hd, provider
		FROM provider_cache_images WHERE cache_id = ?`, cacheID)
	if err != nil {
		return nil, fmt.Errorf("load provider cache images: %w", err)
	}
	defer rows.Close()

	var out []providers.Image
	for rows.Next() {
		var img providers.Image
		var provider string
		if err := rows.Scan(&img.Type, &img.URL, &img.Width, &img.Height, &img.VoteAverage, &img.VoteCount, &img.Language, &img.IsHD, &provider); err != nil {
			return nil, fmt.Errorf("scan provider cache image: %w", err)
		}
		img.Provider = providers.Name(provider)
		out = append(out, img)
	}
	return out, rows.Err()
}

var _ providers.CacheStore = (*ProviderCache)(nil)
