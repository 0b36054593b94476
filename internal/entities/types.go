// Package entities defines the media-library data model: movies, series,
// seasons, episodes, actors and the libraries that own them.
package entities

import "time"

// Kind identifies an entity variant.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindSeries  Kind = "series"
	KindSeason  Kind = "season"
	KindEpisode Kind = "episode"
	KindActor   Kind = "actor"
)

// IdentificationStatus is the authoritative lifecycle field for an entity.
// The legacy "state" column is carried on Entity only for compatibility with
// rows written before this status existed; new code must not branch on it.
type IdentificationStatus string

const (
	StatusDiscovered IdentificationStatus = "discovered"
	StatusIdentified IdentificationStatus = "identified"
	StatusEnriched   IdentificationStatus = "enriched"
	StatusFailed     IdentificationStatus = "failed"
)

// AutomationMode controls how much a library's entities are touched without
// user approval.
type AutomationMode string

const (
	ModeManual AutomationMode = "manual"
	ModeYOLO   AutomationMode = "yolo"
	ModeHybrid AutomationMode = "hybrid"
)

// LibraryKind is the media type a library holds.
type LibraryKind string

const (
	LibraryMovie  LibraryKind = "movie"
	LibrarySeries LibraryKind = "series"
	LibraryMusic  LibraryKind = "music"
)

// Library is a root path the engine scans and publishes into.
type Library struct {
	ID             int64
	RootPath       string
	Kind           LibraryKind
	Enabled        bool
	AutomationMode AutomationMode
	AutoScan       bool
	AutoIdentify   bool
	AutoEnrich     bool
	AutoPublish    bool
}

// ExternalIDs holds the provider identifiers an entity may carry.
type ExternalIDs struct {
	TMDBID int64
	IMDBID string
	TVDBID int64
}

// Lock tracks which user-editable scalar fields automation must not overwrite.
type Lock struct {
	Title      bool
	SortTitle  bool
	Plot       bool
	Tagline    bool
	Year       bool
	Studio     bool
	Rating     bool
	Monitored  bool
}

// Entity is the shared shape of Movie/Series/Season/Episode/Actor rows.
// Variant-specific fields that don't apply to a kind are left zero-valued;
// Tagged-variant payloads are used elsewhere (jobs), but the entity table
// itself is one wide row, with some columns unused per kind.
type Entity struct {
	ID                 int64
	Kind               Kind
	LibraryID          int64
	ParentID           int64 // season->series, episode->season; 0 for top-level
	Title              string
	OriginalTitle      string
	SortTitle          string
	Year               int
	Plot               string
	Outline            string
	Tagline            string
	Studio             string
	Monitored          bool
	IdentificationStat IdentificationStatus
	LegacyState        string
	DirectoryPath      string
	MediaFilePath      string
	ContentHash        string
	EnrichedAt         *time.Time
	ExternalIDs        ExternalIDs
	Locks              Lock
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsFileBacked reports whether the entity kind owns a directory/media file.
func (e Entity) IsFileBacked() bool {
	switch e.Kind {
	case KindMovie, KindEpisode:
		return true
	default:
		return false
	}
}

// Actor is a person linked to movies/episodes via a cast role.
type Actor struct {
	ID               int64
	ProviderPersonID string // e.g. tmdb person id, used to upsert
	Name             string
	NameLocked       bool
	ImageHash        string
	ImageCachePath   string
	ImageWidth       int // decoded from the cached thumbnail, 0 until materialized
	ImageHeight      int
	ProfileURL       string // provider-hosted profile image, pre-materialization
}

// CastLink ties an Actor to an Entity with a role and display order.
type CastLink struct {
	EntityID int64
	ActorID  int64
	Role     string
	Order    int
}

// Rating is a per-source vote tally (imdb, tmdb, metacritic, ...).
type Rating struct {
	Source     string
	Value      float64
	Votes      int
	Max        float64
	Default    bool
}

// Collection groups movies (e.g. a franchise) for the writer/parser.
type Collection struct {
	Name     string
	Overview string
}

// StreamTrack describes one audio/video/subtitle track of the main media file.
type StreamTrack struct {
	EntityID int64
	Kind     string // video | audio | subtitle
	Index    int
	Codec    string
	Language string
	BitRate  int
	Width    int
	Height   int
	Default  bool
	Forced   bool
	HDR      string
}
