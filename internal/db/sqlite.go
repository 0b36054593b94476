// Package db provides the SQLite-backed persistence layer: the single
// relational database holding entities, jobs, provider cache, asset
// candidates, the cache file registry, configuration, and the refresh log.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultPath is the default path for the engine database.
	DefaultPath = "data/metarr.db"
)

// DB wraps a single-writer SQLite connection: one writer, WAL journal
// mode, and a busy timeout to ride out transient lock contention.
type DB struct {
	mu   sync.RWMutex
	conn *sql.DB
	path string
}

// New creates a DB instance bound to path (DefaultPath if empty).
func New(path string) *DB {
	if path == "" {
		path = DefaultPath
	}
	return &DB{path: path}
}

// Open opens the database connection and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one writer; route everything through one connection
	// so Claim()'s compare-and-set transactions never race each other.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	d.conn = conn

	if err := d.initSchema(); err != nil {
		d.conn.Close()
		return fmt.Errorf("init schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Conn returns the underlying *sql.DB for packages (jobs, config) that need
// direct access.
func (d *DB) Conn() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

func (d *DB) initSchema() error {
	current := d.getMeta("schema_version")
	if current == "" {
		if err := d.createSchema(); err != nil {
			return err
		}
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}
	if current != CurrentSchemaVersion {
		log.Info().Str("current", current).Str("target", CurrentSchemaVersion).Msg("migrating schema")
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}
	return nil
}

func (d *DB) getMeta(key string) string {
	if d.conn == nil {
		return ""
	}
	var v string
	row := d.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, key)
	_ = row.Scan(&v)
	return v
}

func (d *DB) setMeta(key, value string) error {
	_, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);
	`)
	if err != nil {
		return err
	}
	_, err = d.conn.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);

	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE IF NOT EXISTS libraries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		root_path TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		automation_mode TEXT NOT NULL DEFAULT 'manual',
		auto_scan INTEGER NOT NULL DEFAULT 1,
		auto_identify INTEGER NOT NULL DEFAULT 1,
		auto_enrich INTEGER NOT NULL DEFAULT 1,
		auto_publish INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		library_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		original_title TEXT,
		sort_title TEXT,
		year INTEGER,
		plot TEXT,
		outline TEXT,
		tagline TEXT,
		studio TEXT,
		monitored INTEGER NOT NULL DEFAULT 1,
		identification_status TEXT NOT NULL DEFAULT 'discovered',
		legacy_state TEXT,
		directory_path TEXT,
		media_file_path TEXT,
		content_hash TEXT,
		enriched_at TEXT,
		tmdb_id INTEGER,
		imdb_id TEXT,
		tvdb_id INTEGER,
		title_locked INTEGER NOT NULL DEFAULT 0,
		sort_title_locked INTEGER NOT NULL DEFAULT 0,
		plot_locked INTEGER NOT NULL DEFAULT 0,
		tagline_locked INTEGER NOT NULL DEFAULT 0,
		year_locked INTEGER NOT NULL DEFAULT 0,
		studio_locked INTEGER NOT NULL DEFAULT 0,
		rating_locked INTEGER NOT NULL DEFAULT 0,
		monitored_locked INTEGER NOT NULL DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (library_id) REFERENCES libraries(id)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	CREATE INDEX IF NOT EXISTS idx_entities_tmdb ON entities(kind, tmdb_id);
	CREATE INDEX IF NOT EXISTS idx_entities_monitored ON entities(monitored, kind);

	CREATE TABLE IF NOT EXISTS actors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_person_id TEXT UNIQUE,
		name TEXT NOT NULL,
		name_locked INTEGER NOT NULL DEFAULT 0,
		image_hash TEXT,
		image_cache_path TEXT,
		image_width INTEGER NOT NULL DEFAULT 0,
		image_height INTEGER NOT NULL DEFAULT 0,
		profile_url TEXT
	);

	CREATE TABLE IF NOT EXISTS cast_links (
		entity_id INTEGER NOT NULL,
		actor_id INTEGER NOT NULL,
		role TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (entity_id, actor_id)
	);

	CREATE TABLE IF NOT EXISTS ratings (
		entity_id INTEGER NOT NULL,
		source TEXT NOT NULL,
		value REAL NOT NULL,
		votes INTEGER NOT NULL DEFAULT 0,
		max REAL NOT NULL DEFAULT 10,
		is_default INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (entity_id, source)
	);

	CREATE TABLE IF NOT EXISTS collections (
		entity_id INTEGER PRIMARY KEY,
		name TEXT,
		overview TEXT
	);

	CREATE TABLE IF NOT EXISTS stream_tracks (
		entity_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		idx INTEGER NOT NULL,
		codec TEXT,
		language TEXT,
		bit_rate INTEGER,
		width INTEGER,
		height INTEGER,
		is_default INTEGER NOT NULL DEFAULT 0,
		forced INTEGER NOT NULL DEFAULT 0,
		hdr TEXT,
		PRIMARY KEY (entity_id, kind, idx)
	);

	CREATE TABLE IF NOT EXISTS entity_tags (
		entity_id INTEGER NOT NULL,
		kind TEXT NOT NULL, -- genre | studio | country | tag | director | writer
		value TEXT NOT NULL,
		PRIMARY KEY (entity_id, kind, value)
	);

	-- Provider cache: one row per (entity kind, provider identifier).
	CREATE TABLE IF NOT EXISTS provider_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_kind TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		payload TEXT NOT NULL, -- merged JSON response
		field_origin TEXT,      -- JSON map field->provider
		fetched_at TEXT NOT NULL,
		UNIQUE(entity_kind, provider, provider_id)
	);

	CREATE TABLE IF NOT EXISTS provider_cache_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cache_id INTEGER NOT NULL,
		image_type TEXT NOT NULL,
		url TEXT NOT NULL,
		width INTEGER,
		height INTEGER,
		vote_average REAL,
		vote_count INTEGER,
		language TEXT,
		is_hd INTEGER NOT NULL DEFAULT 0,
		provider TEXT NOT NULL,
		FOREIGN KEY (cache_id) REFERENCES provider_cache(id) ON DELETE CASCADE
	);

	-- Per-entity asset candidates produced from the provider cache.
	CREATE TABLE IF NOT EXISTS provider_assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id INTEGER NOT NULL,
		asset_type TEXT NOT NULL,
		provider TEXT NOT NULL,
		url TEXT NOT NULL,
		width INTEGER,
		height INTEGER,
		format TEXT,
		content_hash TEXT,
		perceptual_hash TEXT,
		difference_hash TEXT,
		foreground_ratio REAL,
		vote_average REAL,
		vote_count INTEGER,
		language TEXT,
		analyzed INTEGER NOT NULL DEFAULT 0,
		is_downloaded INTEGER NOT NULL DEFAULT 0,
		is_selected INTEGER NOT NULL DEFAULT 0,
		is_rejected INTEGER NOT NULL DEFAULT 0,
		score INTEGER,
		selected_at TEXT,
		selected_by TEXT,
		duration_ms INTEGER,
		codec TEXT,
		source TEXT NOT NULL DEFAULT 'provider', -- provider | local
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity_id, asset_type, url)
	);
	CREATE INDEX IF NOT EXISTS idx_assets_entity_type ON provider_assets(entity_id, asset_type);

	CREATE TABLE IF NOT EXISTS cache_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_kind TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		asset_type TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL,
		perceptual_hash TEXT,
		language TEXT,
		source TEXT NOT NULL, -- local | provider
		source_url TEXT,
		provider TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity_id, asset_type, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_cache_files_entity ON cache_files(entity_id, asset_type);

	CREATE TABLE IF NOT EXISTS refresh_log (
		entity_kind TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		last_checked TEXT,
		last_modified TEXT,
		needs_refresh INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (entity_kind, entity_id, provider)
	);

	CREATE TABLE IF NOT EXISTS bulk_runs (
		id INTEGER PRIMARY KEY, -- caller-supplied run id (unix nano at enqueue time)
		started_at TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		enqueued INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		stopped INTEGER NOT NULL DEFAULT 0,
		stop_reason TEXT,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 5,
		payload TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		scheduled_at TEXT NOT NULL,
		claimed_at TEXT,
		claimed_by TEXT,
		completed_at TEXT,
		last_error TEXT,
		parent_job_id INTEGER,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claimable ON jobs(state, scheduled_at, priority, id);
	CREATE INDEX IF NOT EXISTS idx_jobs_type_state ON jobs(type, state);
	`

	_, err := d.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	log.Debug().Msg("schema initialized")
	return nil
}
