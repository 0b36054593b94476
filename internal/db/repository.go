package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jsaddiction/metarr/internal/entities"
)

// Repository is the SQLite-backed entities.Repository implementation.
type Repository struct {
	db *DB
}

// NewRepository wraps an opened DB.
func NewRepository(d *DB) *Repository {
	return &Repository{db: d}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func (r *Repository) GetEntity(id int64) (*entities.Entity, error) {
	row := r.db.Conn().QueryRow(`
		SELECT id, kind, library_id, parent_id, title, original_title, sort_title, year,
			plot, outline, tagline, studio, monitored, identification_status, legacy_state,
			directory_path, media_file_path, content_hash, enriched_at,
			tmdb_id, imdb_id, tvdb_id,
			title_locked, sort_title_locked, plot_locked, tagline_locked, year_locked,
			studio_locked, rating_locked, monitored_locked, created_at, updated_at
		FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

func (r *Repository) GetEntityByExternalID(kind entities.Kind, tmdbID int64) (*entities.Entity, error) {
	row := r.db.Conn().QueryRow(`
		SELECT id, kind, library_id, parent_id, title, original_title, sort_title, year,
			plot, outline, tagline, studio, monitored, identification_status, legacy_state,
			directory_path, media_file_path, content_hash, enriched_at,
			tmdb_id, imdb_id, tvdb_id,
			title_locked, sort_title_locked, plot_locked, tagline_locked, year_locked,
			studio_locked, rating_locked, monitored_locked, created_at, updated_at
		FROM entities WHERE kind = ? AND tmdb_id = ?`, string(kind), tmdbID)
	return scanEntity(row)
}

// GetEntityByPath looks up an entity by its directory, the key a directory
// scan re-identifies an already-known entity by (directory paths are
// treated as stable; a renamed directory is a new entity, not a move).
func (r *Repository) GetEntityByPath(directoryPath string) (*entities.Entity, error) {
	row := r.db.Conn().QueryRow(`
		SELECT id, kind, library_id, parent_id, title, original_title, sort_title, year,
			plot, outline, tagline, studio, monitored, identification_status, legacy_state,
			directory_path, media_file_path, content_hash, enriched_at,
			tmdb_id, imdb_id, tvdb_id,
			title_locked, sort_title_locked, plot_locked, tagline_locked, year_locked,
			studio_locked, rating_locked, monitored_locked, created_at, updated_at
		FROM entities WHERE directory_path = ?`, directoryPath)
	return scanEntity(row)
}

func (r *Repository) InsertEntity(e *entities.Entity) (int64, error) {
	now := time.Now()
	res, err := r.db.Conn().Exec(`
		INSERT INTO entities (
			kind, library_id, parent_id, title, original_title, sort_title, year,
			plot, outline, tagline, studio, monitored, identification_status, legacy_state,
			directory_path, media_file_path, content_hash, enriched_at,
			tmdb_id, imdb_id, tvdb_id,
			title_locked, sort_title_locked, plot_locked, tagline_locked, year_locked,
			studio_locked, rating_locked, monitored_locked, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(e.Kind), e.LibraryID, e.ParentID, e.Title, e.OriginalTitle, e.SortTitle, e.Year,
		e.Plot, e.Outline, e.Tagline, e.Studio, e.Monitored, string(e.IdentificationStat), e.LegacyState,
		e.DirectoryPath, e.MediaFilePath, e.ContentHash, formatTimePtr(e.EnrichedAt),
		e.ExternalIDs.TMDBID, e.ExternalIDs.IMDBID, e.ExternalIDs.TVDBID,
		e.Locks.Title, e.Locks.SortTitle, e.Locks.Plot, e.Locks.Tagline, e.Locks.Year,
		e.Locks.Studio, e.Locks.Rating, e.Locks.Monitored, formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("insert entity: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) UpdateEntity(e *entities.Entity) error {
	_, err := r.db.Conn().Exec(`
		UPDATE entities SET
			title=?, original_title=?, sort_title=?, year=?, plot=?, outline=?, tagline=?,
			studio=?, monitored=?, identification_status=?, legacy_state=?,
			directory_path=?, media_file_path=?, content_hash=?, enriched_at=?,
			tmdb_id=?, imdb_id=?, tvdb_id=?,
			title_locked=?, sort_title_locked=?, plot_locked=?, tagline_locked=?, year_locked=?,
			studio_locked=?, rating_locked=?, monitored_locked=?, updated_at=?
		WHERE id=?`,
		e.Title, e.OriginalTitle, e.SortTitle, e.Year, e.Plot, e.Outline, e.Tagline,
		e.Studio, e.Monitored, string(e.IdentificationStat), e.LegacyState,
		e.DirectoryPath, e.MediaFilePath, e.ContentHash, formatTimePtr(e.EnrichedAt),
		e.ExternalIDs.TMDBID, e.ExternalIDs.IMDBID, e.ExternalIDs.TVDBID,
		e.Locks.Title, e.Locks.SortTitle, e.Locks.Plot, e.Locks.Tagline, e.Locks.Year,
		e.Locks.Studio, e.Locks.Rating, e.Locks.Monitored, formatTime(time.Now()),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

func (r *Repository) ListMonitored(kind entities.Kind) ([]*entities.Entity, error) {
	rows, err := r.db.Conn().Query(`
		SELECT id, kind, library_id, parent_id, title, original_title, sort_title, year,
			plot, outline, tagline, studio, monitored, identification_status, legacy_state,
			directory_path, media_file_path, content_hash, enriched_at,
			tmdb_id, imdb_id, tvdb_id,
			title_locked, sort_title_locked, plot_locked, tagline_locked, year_locked,
			studio_locked, rating_locked, monitored_locked, created_at, updated_at
		FROM entities WHERE kind = ? AND monitored = 1 ORDER BY id ASC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list monitored: %w", err)
	}
	defer rows.Close()

	var out []*entities.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListStaleEntities returns monitored entities of every kind never enriched
// or last enriched before olderThan — the scheduled-provider-update work
// queue.
func (r *Repository) ListStaleEntities(olderThan time.Time) ([]*entities.Entity, error) {
	rows, err := r.db.Conn().Query(`
		SELECT id, kind, library_id, parent_id, title, original_title, sort_title, year,
			plot, outline, tagline, studio, monitored, identification_status, legacy_state,
			directory_path, media_file_path, content_hash, enriched_at,
			tmdb_id, imdb_id, tvdb_id,
			title_locked, sort_title_locked, plot_locked, tagline_locked, year_locked,
			studio_locked, rating_locked, monitored_locked, created_at, updated_at
		FROM entities
		WHERE monitored = 1 AND (enriched_at IS NULL OR enriched_at < ?)
		ORDER BY id ASC`, formatTime(olderThan))
	if err != nil {
		return nil, fmt.Errorf("list stale entities: %w", err)
	}
	defer rows.Close()

	var out []*entities.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scannable) (*entities.Entity, error) {
	var e entities.Entity
	var kind, status string
	var enrichedAt sql.NullString
	var originalTitle, sortTitle, plot, outline, tagline, studio, legacyState sql.NullString
	var directoryPath, mediaFilePath, contentHash, imdbID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&e.ID, &kind, &e.LibraryID, &e.ParentID, &e.Title, &originalTitle, &sortTitle, &e.Year,
		&plot, &outline, &tagline, &studio, &e.Monitored, &status, &legacyState,
		&directoryPath, &mediaFilePath, &contentHash, &enrichedAt,
		&e.ExternalIDs.TMDBID, &imdbID, &e.ExternalIDs.TVDBID,
		&e.Locks.Title, &e.Locks.SortTitle, &e.Locks.Plot, &e.Locks.Tagline, &e.Locks.Year,
		&e.Locks.Studio, &e.Locks.Rating, &e.Locks.Monitored, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}

	e.Kind = entities.Kind(kind)
	e.IdentificationStat = entities.IdentificationStatus(status)
	e.OriginalTitle = originalTitle.String
	e.SortTitle = sortTitle.String
	e.Plot = plot.String
	e.Outline = outline.String
	e.Tagline = tagline.String
	e.Studio = studio.String
	e.LegacyState = legacyState.String
	e.DirectoryPath = directoryPath.String
	e.MediaFilePath = mediaFilePath.String
	e.ContentHash = contentHash.String
	e.ExternalIDs.IMDBID = imdbID.String
	e.EnrichedAt = parseTimePtr(enrichedAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)

	return &e, nil
}

func (r *Repository) GetLibrary(id int64) (*entities.Library, error) {
	row := r.db.Conn().QueryRow(`
		SELECT id, root_path, kind, enabled, automation_mode, auto_scan, auto_identify, auto_enrich, auto_publish
		FROM libraries WHERE id = ?`, id)
	return scanLibrary(row)
}

func (r *Repository) ListLibraries() ([]*entities.Library, error) {
	rows, err := r.db.Conn().Query(`
		SELECT id, root_path, kind, enabled, automation_mode, auto_scan, auto_identify, auto_enrich, auto_publish
		FROM libraries ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entities.Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ResolveLibraryForPath finds the library owning path by longest root-path
// prefix match: the longest matching prefix wins.
func (r *Repository) ResolveLibraryForPath(path string) (*entities.Library, error) {
	libs, err := r.ListLibraries()
	if err != nil {
		return nil, err
	}
	var best *entities.Library
	bestLen := -1
	for _, l := range libs {
		if len(l.RootPath) <= bestLen {
			continue
		}
		if hasPrefix(path, l.RootPath) {
			best = l
			bestLen = len(l.RootPath)
		}
	}
	if best == nil {
		return nil, sql.ErrNoRows
	}
	return best, nil
}

func hasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func scanLibrary(row scannable) (*entities.Library, error) {
	var l entities.Library
	var kind, mode string
	err := row.Scan(&l.ID, &l.RootPath, &kind, &l.Enabled, &mode, &l.AutoScan, &l.AutoIdentify, &l.AutoEnrich, &l.AutoPublish)
	if err != nil {
		return nil, err
	}
	l.Kind = entities.LibraryKind(kind)
	l.AutomationMode = entities.AutomationMode(mode)
	return &l, nil
}

func (r *Repository) GetCast(entityID int64) ([]entities.CastLink, error) {
	rows, err := r.db.Conn().Query(`
		SELECT entity_id, actor_id, role, sort_order FROM cast_links
		WHERE entity_id = ? ORDER BY sort_order ASC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entities.CastLink
	for rows.Next() {
		var c entities.CastLink
		if err := rows.Scan(&c.EntityID, &c.ActorID, &c.Role, &c.Order); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceCast upserts actors by provider person id (honoring each actor's
// name lock) then rewrites the entity's cast_links table to match links.
func (r *Repository) ReplaceCast(entityID int64, links []entities.CastLink, actors []entities.Actor) error {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range actors {
		id, err := upsertActorTx(tx, &actors[i])
		if err != nil {
			return err
		}
		actors[i].ID = id
	}

	if _, err := tx.Exec(`DELETE FROM cast_links WHERE entity_id = ?`, entityID); err != nil {
		return err
	}
	for _, l := range links {
		if _, err := tx.Exec(`
			INSERT INTO cast_links (entity_id, actor_id, role, sort_order) VALUES (?,?,?,?)`,
			entityID, l.ActorID, l.Role, l.Order); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertActorTx(tx *sql.Tx, a *entities.Actor) (int64, error) {
	var existingID int64
	var nameLocked bool
	err := tx.QueryRow(`SELECT id, name_locked FROM actors WHERE provider_person_id = ?`, a.ProviderPersonID).Scan(&existingID, &nameLocked)
	if err == sql.ErrNoRows {
		res, err := tx.Exec(`
			INSERT INTO actors (provider_person_id, name, name_locked, image_hash, image_cache_path, profile_url)
			VALUES (?,?,?,?,?,?)`, a.ProviderPersonID, a.Name, a.NameLocked, a.ImageHash, a.ImageCachePath, a.ProfileURL)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	if err != nil {
		return 0, err
	}

	name := a.Name
	if nameLocked {
		var current string
		tx.QueryRow(`SELECT name FROM actors WHERE id = ?`, existingID).Scan(&current)
		name = current
	}
	_, err = tx.Exec(`UPDATE actors SET name = ?, profile_url = ? WHERE id = ?`, name, a.ProfileURL, existingID)
	return existingID, err
}

func (r *Repository) UpsertActor(a *entities.Actor) (int64, error) {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	id, err := upsertActorTx(tx, a)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// SetActorImage records phase 5C's materialized actor thumbnail, including
// the dimensions decoded from it — the only place either column is ever
// written, so an actor's width/height are either both set or both zero.
func (r *Repository) SetActorImage(actorID int64, hash, cachePath string, width, height int) error {
	_, err := r.db.Conn().Exec(`
		UPDATE actors SET image_hash = ?, image_cache_path = ?, image_width = ?, image_height = ?
		WHERE id = ?`, hash, cachePath, width, height, actorID)
	return err
}

// ListActorsWithoutImage returns actors linked to an entity that have a
// provider profile URL but no cached thumbnail yet (phase 5C's work queue).
func (r *Repository) ListActorsWithoutImage(entityID int64) ([]entities.Actor, error) {
	rows, err := r.db.Conn().Query(`
		SELECT a.id, a.provider_person_id, a.name, a.name_locked, a.image_hash, a.image_cache_path,
			a.image_width, a.image_height, a.profile_url
		FROM actors a
		JOIN cast_links c ON c.actor_id = a.id
		WHERE c.entity_id = ? AND (a.image_cache_path IS NULL OR a.image_cache_path = '') AND a.profile_url IS NOT NULL AND a.profile_url != ''`,
		entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Actor
	for rows.Next() {
		var a entities.Actor
		if err := rows.Scan(&a.ID, &a.ProviderPersonID, &a.Name, &a.NameLocked, &a.ImageHash, &a.ImageCachePath,
			&a.ImageWidth, &a.ImageHeight, &a.ProfileURL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) GetActor(id int64) (*entities.Actor, error) {
	var a entities.Actor
	err := r.db.Conn().QueryRow(`
		SELECT id, provider_person_id, name, name_locked, image_hash, image_cache_path,
			image_width, image_height, profile_url
		FROM actors WHERE id = ?`, id).Scan(&a.ID, &a.ProviderPersonID, &a.Name, &a.NameLocked, &a.ImageHash, &a.ImageCachePath,
		&a.ImageWidth, &a.ImageHeight, &a.ProfileURL)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) GetRatings(entityID int64) ([]entities.Rating, error) {
	rows, err := r.db.Conn().Query(`
		SELECT source, value, votes, max, is_default FROM ratings WHERE entity_id = ?`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entities.Rating
	for rows.Next() {
		var rt entities.Rating
		if err := rows.Scan(&rt.Source, &rt.Value, &rt.Votes, &rt.Max, &rt.Default); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *Repository) ReplaceRatings(entityID int64, ratings []entities.Rating) error {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM ratings WHERE entity_id = ?`, entityID); err != nil {
		return err
	}
	for _, rt := range ratings {
		if _, err := tx.Exec(`
			INSERT INTO ratings (entity_id, source, value, votes, max, is_default) VALUES (?,?,?,?,?,?)`,
			entityID, rt.Source, rt.Value, rt.Votes, rt.Max, rt.Default); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) GetCollection(entityID int64) (*entities.Collection, error) {
	var c entities.Collection
	err := r.db.Conn().QueryRow(`SELECT name, overview FROM collections WHERE entity_id = ?`, entityID).Scan(&c.Name, &c.Overview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) ReplaceStreamTracks(entityID int64, tracks []entities.StreamTrack) error {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM stream_tracks WHERE entity_id = ?`, entityID); err != nil {
		return err
	}
	for _, t := range tracks {
		if _, err := tx.Exec(`
			INSERT INTO stream_tracks (entity_id, kind, idx, codec, language, bit_rate, width, height, is_default, forced, hdr)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			entityID, t.Kind, t.Index, t.Codec, t.Language, t.BitRate, t.Width, t.Height, t.Default, t.Forced, t.HDR); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) GetStreamTracks(entityID int64) ([]entities.StreamTrack, error) {
	rows, err := r.db.Conn().Query(`
		SELECT entity_id, kind, idx, codec, language, bit_rate, width, height, is_default, forced, hdr
		FROM stream_tracks WHERE entity_id = ? ORDER BY kind, idx`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []entities.StreamTrack
	for rows.Next() {
		var t entities.StreamTrack
		if err := rows.Scan(&t.EntityID, &t.Kind, &t.Index, &t.Codec, &t.Language, &t.BitRate, &t.Width, &t.Height, &t.Default, &t.Forced, &t.HDR); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) getTagged(entityID int64, kind string) ([]string, error) {
	rows, err := r.db.Conn().Query(`SELECT value FROM entity_tags WHERE entity_id = ? AND kind = ? ORDER BY value`, entityID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repository) replaceTagged(entityID int64, kind string, values []string) error {
	tx, err := r.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM entity_tags WHERE entity_id = ? AND kind = ?`, entityID, kind); err != nil {
		return err
	}
	for _, v := range values {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO entity_tags (entity_id, kind, value) VALUES (?,?,?)`, entityID, kind, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) GetGenres(entityID int64) ([]string, error)    { return r.getTagged(entityID, "genre") }
func (r *Repository) ReplaceGenres(entityID int64, v []string) error { return r.replaceTagged(entityID, "genre", v) }
func (r *Repository) GetStudios(entityID int64) ([]string, error)    { return r.getTagged(entityID, "studio") }
func (r *Repository) ReplaceStudios(entityID int64, v []string) error { return r.replaceTagged(entityID, "studio", v) }
func (r *Repository) GetCountries(entityID int64) ([]string, error)  { return r.getTagged(entityID, "country") }
func (r *Repository) ReplaceCountries(entityID int64, v []string) error {
	return r.replaceTagged(entityID, "country", v)
}
func (r *Repository) GetTags(entityID int64) ([]string, error)    { return r.getTagged(entityID, "tag") }
func (r *Repository) ReplaceTags(entityID int64, v []string) error { return r.replaceTagged(entityID, "tag", v) }
func (r *Repository) GetDirectors(entityID int64) ([]string, error) {
	return r.getTagged(entityID, "director")
}
func (r *Repository) ReplaceDirectors(entityID int64, v []string) error {
	return r.replaceTagged(entityID, "director", v)
}
func (r *Repository) GetWriters(entityID int64) ([]string, error) {
	return r.getTagged(entityID, "writer")
}
func (r *Repository) ReplaceWriters(entityID int64, v []string) error {
	return r.replaceTagged(entityID, "writer", v)
}

var _ entities.Repository = (*Repository)(nil)
