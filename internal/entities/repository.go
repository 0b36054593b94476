package entities

import "time"

// Repository is the persistence contract the rest of the engine programs
// against. internal/db provides the SQLite-backed implementation; pipeline
// phases, the verifier and the NFO writer only ever see this interface so
// they can be exercised against a fake in tests.
type Repository interface {
	GetEntity(id int64) (*Entity, error)
	GetEntityByExternalID(kind Kind, tmdbID int64) (*Entity, error)
	GetEntityByPath(directoryPath string) (*Entity, error)
	InsertEntity(e *Entity) (int64, error)
	UpdateEntity(e *Entity) error
	ListMonitored(kind Kind) ([]*Entity, error)
	ListStaleEntities(olderThan time.Time) ([]*Entity, error)

	GetLibrary(id int64) (*Library, error)
	ListLibraries() ([]*Library, error)
	ResolveLibraryForPath(path string) (*Library, error)

	GetCast(entityID int64) ([]CastLink, error)
	ReplaceCast(entityID int64, links []CastLink, actors []Actor) error
	UpsertActor(a *Actor) (int64, error)
	GetActor(id int64) (*Actor, error)
	SetActorImage(actorID int64, hash, cachePath string, width, height int) error
	ListActorsWithoutImage(entityID int64) ([]Actor, error)

	GetRatings(entityID int64) ([]Rating, error)
	ReplaceRatings(entityID int64, ratings []Rating) error

	GetCollection(entityID int64) (*Collection, error)

	ReplaceStreamTracks(entityID int64, tracks []StreamTrack) error
	GetStreamTracks(entityID int64) ([]StreamTrack, error)

	GetGenres(entityID int64) ([]string, error)
	ReplaceGenres(entityID int64, genres []string) error
	GetStudios(entityID int64) ([]string, error)
	ReplaceStudios(entityID int64, studios []string) error
	GetCountries(entityID int64) ([]string, error)
	ReplaceCountries(entityID int64, countries []string) error
	GetTags(entityID int64) ([]string, error)
	ReplaceTags(entityID int64, tags []string) error
	GetDirectors(entityID int64) ([]string, error)
	ReplaceDirectors(entityID int64, directors []string) error
	GetWriters(entityID int64) ([]string, error)
	ReplaceWriters(entityID int64, writers []string) error
}
