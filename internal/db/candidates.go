package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jsaddiction/metarr/internal/assets"
)

// CandidateStore is the SQLite-backed provider_assets accessor the
// enrichment pipeline programs against.
type CandidateStore struct {
	db *DB
}

func NewCandidateStore(d *DB) *CandidateStore {
	return &CandidateStore{db: d}
}

// UpsertCandidate inserts a newly discovered candidate, or on conflict
// (entity_id, asset_type, url) refreshes its provider-reported metadata
// without touching analysis/selection state. Phase 1 only overwrites
// existing rows on manual runs; callers pass
// refresh=false on automated runs.
func (s *CandidateStore) UpsertCandidate(c *assets.Candidate, refresh bool) (int64, error) {
	if refresh {
		res, err := s.db.Conn().Exec(`
			INSERT INTO provider_assets
				(entity_id, asset_type, provider, url, width, height, vote_average, vote_count, language, source)
			VALUES (?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(entity_id, asset_type, url) DO UPDATE SET
				width = excluded.width, height = excluded.height,
				vote_average = excluded.vote_average, vote_count = excluded.vote_count,
				language = excluded.language`,
			c.EntityID, string(c.AssetType), c.Provider, c.URL, c.Width, c.Height,
			c.VoteAverage, c.VoteCount, c.Language, string(orDefault(c.Source, assets.SourceProvider)))
		if err != nil {
			return 0, fmt.Errorf("upsert candidate: %w", err)
		}
		return s.resolveCandidateID(c.EntityID, c.AssetType, c.URL, res)
	}

	res, err := s.db.Conn().Exec(`
		INSERT INTO provider_assets
			(entity_id, asset_type, provider, url, width, height, vote_average, vote_count, language, source)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(entity_id, asset_type, url) DO NOTHING`,
		c.EntityID, string(c.AssetType), c.Provider, c.URL, c.Width, c.Height,
		c.VoteAverage, c.VoteCount, c.Language, string(orDefault(c.Source, assets.SourceProvider)))
	if err != nil {
		return 0, fmt.Errorf("upsert candidate: %w", err)
	}
	return s.resolveCandidateID(c.EntityID, c.AssetType, c.URL, res)
}

func orDefault(s assets.Source, def assets.Source) assets.Source {
	if s == "" {
		return def
	}
	return s
}

func (s *CandidateStore) resolveCandidateID(entityID int64, typ assets.Type, url string, res sql.Result) (int64, error) {
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err := s.db.Conn().QueryRow(`
		SELECT id FROM provider_assets WHERE entity_id=? AND asset_type=? AND url=?`,
		entityID, string(typ), url).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve candidate id: %w", err)
	}
	return id, nil
}

// ListUnanalyzed returns candidates without an analyzed flag for an entity,
// the phase 3 work queue.
func (s *CandidateStore) ListUnanalyzed(entityID int64) ([]*assets.Candidate, error) {
	return s.query(`
		SELECT id, entity_id, asset_type, provider, url, width, height, format, content_hash,
			perceptual_hash, difference_hash, foreground_ratio, vote_average, vote_count, language, analyzed, is_downloaded,
			is_selected, is_rejected, score, selected_at, selected_by, duration_ms, codec, source, created_at
		FROM provider_assets WHERE entity_id = ? AND analyzed = 0`, entityID)
}

// ListAnalyzed returns every analyzed, non-rejected candidate for an
// entity, phase 4's scoring input.
func (s *CandidateStore) ListAnalyzed(entityID int64) ([]*assets.Candidate, error) {
	return s.query(`
		SELECT id, entity_id, asset_type, provider, url, width, height, format, content_hash,
			perceptual_hash, difference_hash, foreground_ratio, vote_average, vote_count, language, analyzed, is_downloaded,
			is_selected, is_rejected, score, selected_at, selected_by, duration_ms, codec, source, created_at
		FROM provider_assets WHERE entity_id = ? AND analyzed = 1 AND is_rejected = 0`, entityID)
}

// ListByType returns non-rejected candidates of one asset type for an
// entity, phase 5's selection input.
func (s *CandidateStore) ListByType(entityID int64, typ assets.Type) ([]*assets.Candidate, error) {
	return s.query(`
		SELECT id, entity_id, asset_type, provider, url, width, height, format, content_hash,
			perceptual_hash, difference_hash, foreground_ratio, vote_average, vote_count, language, analyzed, is_downloaded,
			is_selected, is_rejected, score, selected_at, selected_by, duration_ms, codec, source, created_at
		FROM provider_assets WHERE entity_id = ? AND asset_type = ? AND is_rejected = 0`, entityID, string(typ))
}

// ListSelected returns the currently selected candidates of one asset type.
func (s *CandidateStore) ListSelected(entityID int64, typ assets.Type) ([]*assets.Candidate, error) {
	return s.query(`
		SELECT id, entity_id, asset_type, provider, url, width, height, format, content_hash,
			perceptual_hash, difference_hash, foreground_ratio, vote_average, vote_count, language, analyzed, is_downloaded,
			is_selected, is_rejected, score, selected_at, selected_by, duration_ms, codec, source, created_at
		FROM provider_assets WHERE entity_id = ? AND asset_type = ? AND is_selected = 1`, entityID, string(typ))
}

// ListLocal returns source='local' rows for an entity and type, the rows
// phase 5 deletes once a real selection supersedes them.
func (s *CandidateStore) ListLocal(entityID int64, typ assets.Type) ([]*assets.Candidate, error) {
	return s.query(`
		SELECT id, entity_id, asset_type, provider, url, width, height, format, content_hash,
			perceptual_hash, difference_hash, foreground_ratio, vote_average, vote_count, language, analyzed, is_downloaded,
			is_selected, is_rejected, score, selected_at, selected_by, duration_ms, codec, source, created_at
		FROM provider_assets WHERE entity_id = ? AND asset_type = ? AND source = 'local'`, entityID, string(typ))
}

func (s *CandidateStore) query(query string, args ...interface{}) ([]*assets.Candidate, error) {
	rows, err := s.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []*assets.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCandidate(r rowScanner) (*assets.Candidate, error) {
	var c assets.Candidate
	var assetType, source, createdAt string
	var format, contentHash, perceptualHash, differenceHash, language, selectedBy, codec sql.NullString
	var foregroundRatio sql.NullFloat64
	var selectedAt sql.NullString

	err := r.Scan(&c.ID, &c.EntityID, &assetType, &c.Provider, &c.URL, &c.Width, &c.Height,
		&format, &contentHash, &perceptualHash, &differenceHash, &foregroundRatio,
		&c.VoteAverage, &c.VoteCount, &language,
		&c.Analyzed, &c.IsDownloaded, &c.IsSelected, &c.IsRejected, &c.Score,
		&selectedAt, &selectedBy, &c.DurationMS, &codec, &source, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan candidate: %w", err)
	}

	c.AssetType = assets.Type(assetType)
	c.Source = assets.Source(source)
	c.Format = format.String
	c.ContentHash = contentHash.String
	c.PerceptualHash = perceptualHash.String
	c.DifferenceHash = differenceHash.String
	c.ForegroundRatio = foregroundRatio.Float64
	c.Language = language.String
	c.SelectedBy = selectedBy.String
	c.Codec = codec.String
	c.CreatedAt = parseTime(createdAt)
	if selectedAt.Valid && selectedAt.String != "" {
		t := parseTime(selectedAt.String)
		c.SelectedAt = &t
	}
	return &c, nil
}

// UpdateAnalysis persists phase 3's analysis result onto a candidate.
func (s *CandidateStore) UpdateAnalysis(c *assets.Candidate) error {
	_, err := s.db.Conn().Exec(`
		UPDATE provider_assets SET
			width=?, height=?, format=?, content_hash=?, perceptual_hash=?,
			difference_hash=?, foreground_ratio=?, analyzed=1,
			duration_ms=?, codec=?
		WHERE id=?`,
		c.Width, c.Height, c.Format, c.ContentHash, c.PerceptualHash,
		c.DifferenceHash, c.ForegroundRatio, c.DurationMS, c.Codec, c.ID)
	if err != nil {
		return fmt.Errorf("update candidate analysis: %w", err)
	}
	return nil
}

// MarkMatched stamps a candidate as matched to an existing cache file in
// phase 2, without a full download.
func (s *CandidateStore) MarkMatched(id int64, contentHash string) error {
	_, err := s.db.Conn().Exec(`
		UPDATE provider_assets SET is_downloaded=1, content_hash=? WHERE id=?`, contentHash, id)
	if err != nil {
		return fmt.Errorf("mark candidate matched: %w", err)
	}
	return nil
}

// UpdateScore persists phase 4's score.
func (s *CandidateStore) UpdateScore(id int64, score int) error {
	_, err := s.db.Conn().Exec(`UPDATE provider_assets SET score=? WHERE id=?`, score, id)
	if err != nil {
		return fmt.Errorf("update candidate score: %w", err)
	}
	return nil
}

// SetSelected updates the selection state of one candidate (phase 5).
func (s *CandidateStore) SetSelected(id int64, selected bool, selectedBy string, selectedAt *time.Time) error {
	_, err := s.db.Conn().Exec(`
		UPDATE provider_assets SET is_selected=?, selected_by=?, selected_at=? WHERE id=?`,
		selected, selectedBy, formatTimePtr(selectedAt), id)
	if err != nil {
		return fmt.Errorf("set candidate selected: %w", err)
	}
	return nil
}

// Reject marks a candidate rejected (duplicate-of-a-better-scored-candidate
// in phase 5, or a permanently failed analysis).
func (s *CandidateStore) Reject(id int64) error {
	_, err := s.db.Conn().Exec(`UPDATE provider_assets SET is_rejected=1 WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("reject candidate: %w", err)
	}
	return nil
}

// DeleteLocal removes a source='local' candidate row (phase 5 cleanup).
func (s *CandidateStore) DeleteLocal(id int64) error {
	_, err := s.db.Conn().Exec(`DELETE FROM provider_assets WHERE id=? AND source='local'`, id)
	if err != nil {
		return fmt.Errorf("delete local candidate: %w", err)
	}
	return nil
}
