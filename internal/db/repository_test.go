package db_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/entities"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err := d.Open(); err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func insertLibrary(t *testing.T, conn *sql.DB, root string) int64 {
	t.Helper()
	res, err := conn.Exec(`
		INSERT INTO libraries (root_path, kind, enabled, automation_mode, auto_scan, auto_identify, auto_enrich, auto_publish)
		VALUES (?, 'movie', 1, 'manual', 1, 1, 1, 0)`, root)
	if err != nil {
		t.Fatalf("insert library: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("library last insert id: %v", err)
	}
	return id
}

func TestEntityInsertGetUpdateRoundTrip(t *testing.T) {
	d := openTestDB(t)
	repo := db.NewRepository(d)
	libID := insertLibrary(t, d.Conn(), "/media/movies")

	e := &entities.Entity{
		Kind:               entities.KindMovie,
		LibraryID:          libID,
		Title:              "Arrival",
		Year:               2016,
		Monitored:          true,
		IdentificationStat: entities.StatusDiscovered,
		DirectoryPath:      "/media/movies/Arrival (2016)",
		ExternalIDs:        entities.ExternalIDs{TMDBID: 329865},
	}

	id, err := repo.InsertEntity(e)
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}

	got, err := repo.GetEntity(id)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if got.Title != "Arrival" || got.Year != 2016 {
		t.Errorf("expected Arrival/2016, got %q/%d", got.Title, got.Year)
	}
	if got.ExternalIDs.TMDBID != 329865 {
		t.Errorf("expected tmdb id 329865, got %d", got.ExternalIDs.TMDBID)
	}

	byPath, err := repo.GetEntityByPath(e.DirectoryPath)
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	if byPath.ID != id {
		t.Errorf("expected GetEntityByPath to find id %d, got %d", id, byPath.ID)
	}

	byExternal, err := repo.GetEntityByExternalID(entities.KindMovie, 329865)
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if byExternal.ID != id {
		t.Errorf("expected GetEntityByExternalID to find id %d, got %d", id, byExternal.ID)
	}

	got.Title = "Arrival (Updated)"
	got.IdentificationStat = entities.StatusIdentified
	if err := repo.UpdateEntity(got); err != nil {
		t.Fatalf("update entity: %v", err)
	}

	reread, err := repo.GetEntity(id)
	if err != nil {
		t.Fatalf("re-get entity: %v", err)
	}
	if reread.Title != "Arrival (Updated)" {
		t.Errorf("expected updated title, got %q", reread.Title)
	}
	if reread.IdentificationStat != entities.StatusIdentified {
		t.Errorf("expected status identified, got %s", reread.IdentificationStat)
	}
}

func TestListMonitoredFiltersByKindAndFlag(t *testing.T) {
	d := openTestDB(t)
	repo := db.NewRepository(d)
	libID := insertLibrary(t, d.Conn(), "/media/movies")

	monitored := &entities.Entity{Kind: entities.KindMovie, LibraryID: libID, Title: "Monitored", Monitored: true, DirectoryPath: "/m/1"}
	unmonitored := &entities.Entity{Kind: entities.KindMovie, LibraryID: libID, Title: "Unmonitored", Monitored: false, DirectoryPath: "/m/2"}
	series := &entities.Entity{Kind: entities.KindSeries, LibraryID: libID, Title: "A Series", Monitored: true, DirectoryPath: "/m/3"}

	for _, e := range []*entities.Entity{monitored, unmonitored, series} {
		if _, err := repo.InsertEntity(e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	movies, err := repo.ListMonitored(entities.KindMovie)
	if err != nil {
		t.Fatalf("list monitored: %v", err)
	}
	if len(movies) != 1 || movies[0].Title != "Monitored" {
		t.Errorf("expected exactly the monitored movie, got %+v", movies)
	}
}

func TestResolveLibraryForPathPrefersLongestPrefix(t *testing.T) {
	d := openTestDB(t)
	repo := db.NewRepository(d)
	insertLibrary(t, d.Conn(), "/media")
	nestedID := insertLibrary(t, d.Conn(), "/media/movies")

	lib, err := repo.ResolveLibraryForPath("/media/movies/Arrival (2016)")
	if err != nil {
		t.Fatalf("resolve library: %v", err)
	}
	if lib.ID != nestedID {
		t.Errorf("expected longest-prefix library %d, got %d", nestedID, lib.ID)
	}
}

func TestGenresTagRoundTrip(t *testing.T) {
	d := openTestDB(t)
	repo := db.NewRepository(d)
	libID := insertLibrary(t, d.Conn(), "/media/movies")
	e := &entities.Entity{Kind: entities.KindMovie, LibraryID: libID, Title: "Arrival", DirectoryPath: "/m/1"}
	id, err := repo.InsertEntity(e)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repo.ReplaceGenres(id, []string{"Drama", "Sci-Fi"}); err != nil {
		t.Fatalf("replace genres: %v", err)
	}
	genres, err := repo.GetGenres(id)
	if err != nil {
		t.Fatalf("get genres: %v", err)
	}
	if len(genres) != 2 {
		t.Fatalf("expected 2 genres, got %v", genres)
	}

	// replacing must clear the prior set, not append to it.
	if err := repo.ReplaceGenres(id, []string{"Drama"}); err != nil {
		t.Fatalf("replace genres again: %v", err)
	}
	genres, err = repo.GetGenres(id)
	if err != nil {
		t.Fatalf("get genres again: %v", err)
	}
	if len(genres) != 1 || genres[0] != "Drama" {
		t.Errorf("expected replace to overwrite the set, got %v", genres)
	}
}

func TestReplaceCastUpsertsActorsAndLinks(t *testing.T) {
	d := openTestDB(t)
	repo := db.NewRepository(d)
	libID := insertLibrary(t, d.Conn(), "/media/movies")
	e := &entities.Entity{Kind: entities.KindMovie, LibraryID: libID, Title: "Arrival", DirectoryPath: "/m/1"}
	id, err := repo.InsertEntity(e)
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}

	actors := []entities.Actor{{ProviderPersonID: "tmdb:1", Name: "Amy Adams"}}
	if err := repo.ReplaceCast(id, []entities.CastLink{{ActorID: 0, Role: "Louise Banks", Order: 0}}, actors); err != nil {
		t.Fatalf("replace cast: %v", err)
	}

	// ReplaceCast mutates actors[0].ID in place; the link rows reference
	// whatever ID was assigned to the placeholder, not actors[0].ID, so
	// confirm the cast made it into the database via GetCast's row count.
	cast, err := repo.GetCast(id)
	if err != nil {
		t.Fatalf("get cast: %v", err)
	}
	if len(cast) != 1 {
		t.Fatalf("expected 1 cast link, got %d", len(cast))
	}

	actor, err := repo.GetActor(actors[0].ID)
	if err != nil {
		t.Fatalf("get actor: %v", err)
	}
	if actor.Name != "Amy Adams" {
		t.Errorf("expected actor name Amy Adams, got %q", actor.Name)
	}
}

func TestUpsertActorRespectsNameLock(t *testing.T) {
	d := openTestDB(t)
	repo := db.NewRepository(d)

	id, err := repo.UpsertActor(&entities.Actor{ProviderPersonID: "tmdb:1", Name: "Original Name", NameLocked: true})
	if err != nil {
		t.Fatalf("insert actor: %v", err)
	}

	if _, err := repo.UpsertActor(&entities.Actor{ID: id, ProviderPersonID: "tmdb:1", Name: "Provider-Supplied Name"}); err != nil {
		t.Fatalf("upsert actor again: %v", err)
	}

	actor, err := repo.GetActor(id)
	if err != nil {
		t.Fatalf("get actor: %v", err)
	}
	if actor.Name != "Original Name" {
		t.Errorf("expected locked name to survive an upsert, got %q", actor.Name)
	}
}
