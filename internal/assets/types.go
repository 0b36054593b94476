// Package assets defines the per-entity artwork/video candidate model
// (provider_assets rows) and the materialized cache file model
// (cache_files rows) that the enrichment pipeline, verifier and NFO writer
// all share.
package assets

import "time"

// Type is the asset taxonomy the pipeline maps provider image types into.
// Unmapped provider types are skipped at ingest.
type Type string

const (
	TypePoster   Type = "poster"
	TypeBackdrop Type = "backdrop"
	TypeLogo     Type = "logo"
	TypeBanner   Type = "banner"
	TypeActor    Type = "actor"
	TypeTrailer  Type = "trailer"
	// TypeSubtitle and TypeNFO never go through the provider candidate
	// pipeline (no provider in this engine's stack supplies either); they
	// are registered directly into the cache_files registry by the
	// discover and publish handlers, so the verifier can still expect and
	// restore them like any other sidecar.
	TypeSubtitle Type = "subtitle"
	TypeNFO      Type = "nfo"
)

// Limits is the configured top-N selection limit per asset type
//.
type Limits map[Type]int

// DefaultLimits returns one of each artwork type, plus a couple of extra
// backdrops, across the full movie/series taxonomy.
func DefaultLimits() Limits {
	return Limits{
		TypePoster:   1,
		TypeBackdrop: 3,
		TypeLogo:     1,
		TypeBanner:   1,
		TypeTrailer:  1,
	}
}

// Source distinguishes candidates discovered from a provider fetch versus
// ones scanned in from disk before the engine took over. Every
// source=local row is deleted once selection finds a replacement: they
// were scanned-in placeholders now superseded.
type Source string

const (
	SourceProvider Source = "provider"
	SourceLocal    Source = "local"
)

// Candidate is one provider_assets row: a potential artwork/video the
// pipeline discovered, analyzed, scored, and may or may not select.
type Candidate struct {
	ID              int64
	EntityID        int64
	AssetType       Type
	Provider        string
	URL             string
	Width           int
	Height          int
	Format          string
	ContentHash     string
	PerceptualHash  string
	DifferenceHash  string
	ForegroundRatio float64
	VoteAverage     float64
	VoteCount       int
	Language        string
	Analyzed        bool
	IsDownloaded    bool
	IsSelected      bool
	IsRejected      bool
	Score           int
	SelectedAt      *time.Time
	SelectedBy      string
	DurationMS      int
	Codec           string
	Source          Source
	CreatedAt       time.Time
}

// CacheFile is one materialized cache_files row: an asset actually written
// to disk under the on-disk cache layout.
type CacheFile struct {
	ID             int64
	EntityKind     string
	EntityID       int64
	AssetType      Type
	FilePath       string
	FileSize       int64
	ContentHash    string
	PerceptualHash string
	// Language is set for TypeSubtitle rows (an ISO 639 code, or empty for
	// an undetermined-language sidecar); unused for every other type.
	Language  string
	Source    Source
	SourceURL string
	Provider  string
	CreatedAt time.Time
}
