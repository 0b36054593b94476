// Package config provides a typed reader over runtime-mutable configuration
// stored in the database, with an internal TTL cache so hot paths (the
// handler chain router, the provider orchestrator) don't hit the database
// on every read.
package config

import (
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Toggles are the per-workflow on/off switches.
type Toggles struct {
	Webhooks       bool
	Scanning       bool
	Identification bool
	Enrichment     bool
	Publishing     bool
}

// Limits are the per-asset-type selection caps (poster, backdrop, logo, ...).
type Limits map[string]int

// Store reads/writes the `config` key-value table.
type Store interface {
	GetConfig(key string) (string, bool, error)
	SetConfig(key, value string) error
}

// Reader is a typed view over Store with a 1-minute TTL cache.
type Reader struct {
	store Store
	ttl   time.Duration

	mu      sync.Mutex
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// New creates a Reader with the default 1-minute TTL.
func New(store Store) *Reader {
	return &Reader{
		store: store,
		ttl:   time.Minute,
		cache: make(map[string]cacheEntry),
	}
}

func (r *Reader) get(key, fallback string) string {
	r.mu.Lock()
	if ent, ok := r.cache[key]; ok && time.Now().Before(ent.expires) {
		r.mu.Unlock()
		return ent.value
	}
	r.mu.Unlock()

	val, ok, err := r.store.GetConfig(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("config read failed, using fallback")
		return fallback
	}
	if !ok {
		val = fallback
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{value: val, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return val
}

func (r *Reader) getBool(key string, fallback bool) bool {
	def := "false"
	if fallback {
		def = "true"
	}
	return r.get(key, def) == "true"
}

func (r *Reader) getInt(key string, fallback int) int {
	v := r.get(key, strconv.Itoa(fallback))
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Toggles returns the current workflow toggle set.
func (r *Reader) Toggles() Toggles {
	return Toggles{
		Webhooks:       r.getBool("toggle.webhooks", true),
		Scanning:       r.getBool("toggle.scanning", true),
		Identification: r.getBool("toggle.identification", true),
		Enrichment:     r.getBool("toggle.enrichment", true),
		Publishing:     r.getBool("toggle.publishing", true),
	}
}

// PreferredLanguage returns the user's preferred metadata language (ISO code).
func (r *Reader) PreferredLanguage() string {
	return r.get("preferred_language", "en")
}

// WorkerCount returns the configured worker pool size.
func (r *Reader) WorkerCount() int {
	return r.getInt("worker_count", 4)
}

// ProviderCacheTTL returns the provider cache record TTL.
func (r *Reader) ProviderCacheTTL() time.Duration {
	return time.Duration(r.getInt("provider_cache_ttl_hours", 24*7)) * time.Hour
}

// AssetTypeLimit returns how many selected candidates are allowed for a given
// asset type ("poster", "backdrop", "logo", "banner", ...).
func (r *Reader) AssetTypeLimit(assetType string) int {
	defaults := map[string]int{
		"poster":   1,
		"backdrop": 3,
		"logo":     1,
		"banner":   1,
	}
	def := defaults[assetType]
	if def == 0 {
		def = 1
	}
	return r.getInt("asset_limit."+assetType, def)
}

// AssetTypeLocked reports whether automated selection is disabled for a type.
func (r *Reader) AssetTypeLocked(assetType string) bool {
	return r.getBool("asset_locked."+assetType, false)
}

// MatchSimilarity is the Hamming-similarity threshold for phase-2 candidate
// matching against existing cache files (default 0.85).
func (r *Reader) MatchSimilarity() float64 {
	return r.getFloat("phash.match_similarity", 0.85)
}

// DedupSimilarity is the Hamming-similarity threshold for phase-5 duplicate
// rejection among candidates (default 0.90).
func (r *Reader) DedupSimilarity() float64 {
	return r.getFloat("phash.dedup_similarity", 0.90)
}

// CacheRoot is the root of the on-disk cache layout
// (cache/<assetType>/<hash[0:2]>/<hash>.<ext>).
func (r *Reader) CacheRoot() string {
	return r.get("cache_root", "cache")
}

// AnalyzeConcurrency bounds simultaneous candidate downloads per entity
// during the analyze phase (default 10).
func (r *Reader) AnalyzeConcurrency() int {
	return r.getInt("enrichment.analyze_concurrency", 10)
}

// CronFileScan is the schedule for scheduled-file-scan (default: every 6h).
func (r *Reader) CronFileScan() string {
	return r.get("cron.file_scan", "0 0 */6 * * *")
}

// CronProviderUpdate is the schedule for scheduled-provider-update
// (default: daily at 03:00).
func (r *Reader) CronProviderUpdate() string {
	return r.get("cron.provider_update", "0 0 3 * * *")
}

// CronCleanup is the schedule for scheduled-cleanup (default: daily at 04:00).
func (r *Reader) CronCleanup() string {
	return r.get("cron.cleanup", "0 0 4 * * *")
}

// CronBulkEnrichment is the schedule for the bulk enrichment run (default:
// weekly, Sunday 02:00).
func (r *Reader) CronBulkEnrichment() string {
	return r.get("cron.bulk_enrichment", "0 0 2 * * 0")
}

// ProviderUpdateStaleness is how long since last enrichment before an
// entity is eligible for scheduled-provider-update (default 7 days).
func (r *Reader) ProviderUpdateStaleness() time.Duration {
	return time.Duration(r.getInt("provider_update_staleness_hours", 7*24)) * time.Hour
}

// EnabledNotifiers returns the comma-separated notifier names a publish or
// verify outcome should fan out to (e.g. "kodi,discord"). Unknown names are
// left for the caller to skip; this reader has no opinion on what a
// notifier name means.
func (r *Reader) EnabledNotifiers() []string {
	raw := r.get("notifiers.enabled", "kodi")
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *Reader) getFloat(key string, fallback float64) float64 {
	v := r.get(key, strconv.FormatFloat(fallback, 'f', -1, 64))
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// AcquireLock sets a row-level advisory lock key to "1" if it is not
// already held, returning true if this call acquired it. Bypasses the TTL
// cache: a lock must observe the latest write, never a stale cached value.
// Used by the bulk enrichment run, which layers a process-wide flag on
// top of this storage-backed lock.
func (r *Reader) AcquireLock(key string) (bool, error) {
	val, ok, err := r.store.GetConfig(key)
	if err != nil {
		return false, err
	}
	if ok && val == "1" {
		return false, nil
	}
	if err := r.store.SetConfig(key, "1"); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLock clears a lock previously taken with AcquireLock.
func (r *Reader) ReleaseLock(key string) error {
	return r.store.SetConfig(key, "0")
}

// SQLStore is the database/sql-backed Store implementation.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an existing database connection.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) GetConfig(key string) (string, bool, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *SQLStore) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
