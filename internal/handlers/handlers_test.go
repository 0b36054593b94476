package handlers_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/cachefs"
	"github.com/jsaddiction/metarr/internal/config"
	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/handlers"
	"github.com/jsaddiction/metarr/internal/jobs"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err := d.Open(); err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d.Conn()
}

// fakeRepo is a minimal in-memory entities.Repository covering what the
// handler tests in this package touch; unexercised methods return zero
// values rather than panicking, so adding a new handler test doesn't
// require extending the fake unless it actually needs that method.
type fakeRepo struct {
	entities    map[int64]*entities.Entity
	byPath      map[string]int64
	libraries   map[int64]*entities.Library
	nextID      int64
	genres      map[int64][]string
	directors   map[int64][]string
	writers     map[int64][]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		entities:  make(map[int64]*entities.Entity),
		byPath:    make(map[string]int64),
		libraries: make(map[int64]*entities.Library),
		genres:    make(map[int64][]string),
		directors: make(map[int64][]string),
		writers:   make(map[int64][]string),
	}
}

func (r *fakeRepo) GetEntity(id int64) (*entities.Entity, error) {
	e, ok := r.entities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (r *fakeRepo) GetEntityByExternalID(kind entities.Kind, tmdbID int64) (*entities.Entity, error) {
	for _, e := range r.entities {
		if e.Kind == kind && e.ExternalIDs.TMDBID == tmdbID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeRepo) GetEntityByPath(path string) (*entities.Entity, error) {
	id, ok := r.byPath[path]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r.GetEntity(id)
}

func (r *fakeRepo) InsertEntity(e *entities.Entity) (int64, error) {
	r.nextID++
	e.ID = r.nextID
	cp := *e
	r.entities[e.ID] = &cp
	r.byPath[e.DirectoryPath] = e.ID
	return e.ID, nil
}

func (r *fakeRepo) UpdateEntity(e *entities.Entity) error {
	if _, ok := r.entities[e.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *e
	r.entities[e.ID] = &cp
	return nil
}

func (r *fakeRepo) ListMonitored(kind entities.Kind) ([]*entities.Entity, error) { return nil, nil }
func (r *fakeRepo) ListStaleEntities(olderThan time.Time) ([]*entities.Entity, error) {
	return nil, nil
}

func (r *fakeRepo) GetLibrary(id int64) (*entities.Library, error) {
	l, ok := r.libraries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return l, nil
}
func (r *fakeRepo) ListLibraries() ([]*entities.Library, error) {
	var out []*entities.Library
	for _, l := range r.libraries {
		out = append(out, l)
	}
	return out, nil
}
func (r *fakeRepo) ResolveLibraryForPath(path string) (*entities.Library, error) {
	for _, l := range r.libraries {
		return l, nil
	}
	return nil, sql.ErrNoRows
}

func (r *fakeRepo) GetCast(entityID int64) ([]entities.CastLink, error) { return nil, nil }
func (r *fakeRepo) ReplaceCast(entityID int64, links []entities.CastLink, actors []entities.Actor) error {
	return nil
}
func (r *fakeRepo) UpsertActor(a *entities.Actor) (int64, error)  { return 1, nil }
func (r *fakeRepo) GetActor(id int64) (*entities.Actor, error)    { return &entities.Actor{ID: id}, nil }
func (r *fakeRepo) SetActorImage(actorID int64, hash, cachePath string, width, height int) error {
	return nil
}
func (r *fakeRepo) ListActorsWithoutImage(entityID int64) ([]entities.Actor, error) {
	return nil, nil
}

func (r *fakeRepo) GetRatings(entityID int64) ([]entities.Rating, error) { return nil, nil }
func (r *fakeRepo) ReplaceRatings(entityID int64, ratings []entities.Rating) error { return nil }
func (r *fakeRepo) GetCollection(entityID int64) (*entities.Collection, error)     { return nil, nil }

func (r *fakeRepo) ReplaceStreamTracks(entityID int64, tracks []entities.StreamTrack) error {
	return nil
}
func (r *fakeRepo) GetStreamTracks(entityID int64) ([]entities.StreamTrack, error) {
	return nil, nil
}

func (r *fakeRepo) GetGenres(entityID int64) ([]string, error) { return r.genres[entityID], nil }
func (r *fakeRepo) ReplaceGenres(entityID int64, v []string) error {
	r.genres[entityID] = v
	return nil
}
func (r *fakeRepo) GetStudios(entityID int64) ([]string, error)          { return nil, nil }
func (r *fakeRepo) ReplaceStudios(entityID int64, v []string) error      { return nil }
func (r *fakeRepo) GetCountries(entityID int64) ([]string, error)        { return nil, nil }
func (r *fakeRepo) ReplaceCountries(entityID int64, v []string) error    { return nil }
func (r *fakeRepo) GetTags(entityID int64) ([]string, error)             { return nil, nil }
func (r *fakeRepo) ReplaceTags(entityID int64, v []string) error         { return nil }
func (r *fakeRepo) GetDirectors(entityID int64) ([]string, error) {
	return r.directors[entityID], nil
}
func (r *fakeRepo) ReplaceDirectors(entityID int64, v []string) error {
	r.directors[entityID] = v
	return nil
}
func (r *fakeRepo) GetWriters(entityID int64) ([]string, error) { return r.writers[entityID], nil }
func (r *fakeRepo) ReplaceWriters(entityID int64, v []string) error {
	r.writers[entityID] = v
	return nil
}

var _ entities.Repository = (*fakeRepo)(nil)

type fakeConfigStore struct{ values map[string]string }

func (s *fakeConfigStore) GetConfig(key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}
func (s *fakeConfigStore) SetConfig(key, value string) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

type noopCandidates struct{}

func (noopCandidates) UpsertCandidate(c *assets.Candidate, refresh bool) (int64, error) {
	return 1, nil
}

// fakeCacheFileStore is an in-memory stand-in for db.CacheFileStore,
// enough for handler tests that register cache_files rows directly
// (nfo caching, local subtitle discovery).
type fakeCacheFileStore struct {
	nextID int64
	rows   map[int64]*assets.CacheFile
}

func newFakeCacheFileStore() *fakeCacheFileStore {
	return &fakeCacheFileStore{rows: make(map[int64]*assets.CacheFile)}
}

func (f *fakeCacheFileStore) ListAllPaths() ([]string, error) {
	out := make([]string, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r.FilePath)
	}
	return out, nil
}

func (f *fakeCacheFileStore) ListByEntity(entityID int64) ([]*assets.CacheFile, error) {
	var out []*assets.CacheFile
	for _, r := range f.rows {
		if r.EntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeCacheFileStore) Insert(cf *assets.CacheFile) (int64, error) {
	f.nextID++
	cp := *cf
	cp.ID = f.nextID
	f.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeCacheFileStore) Delete(id int64) error {
	delete(f.rows, id)
	return nil
}

func TestHandleScanMovieCreatesEntity(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Arrival (2016)")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	repo := newFakeRepo()
	repo.libraries[1] = &entities.Library{ID: 1, RootPath: root, Enabled: true, AutoScan: true, AutomationMode: entities.ModeManual}

	store := jobs.NewStore(openTestDB(t))
	d := handlers.Deps{
		Repo:       repo,
		Jobs:       store,
		Config:     config.New(&fakeConfigStore{}),
		Candidates: noopCandidates{},
		Events:     events.NopBroadcaster{},
	}

	job := &jobs.Job{ID: 1, Type: jobs.TypeScanMovie}
	payload := jobs.ScanMoviePayload{LibraryID: 1, Path: dir}

	if err := callScanMovie(d, job, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, err := repo.GetEntityByPath(dir)
	if err != nil {
		t.Fatalf("expected entity to be created: %v", err)
	}
	if e.Title != "Arrival" || e.Year != 2016 {
		t.Errorf("expected derived title/year Arrival/2016, got %q/%d", e.Title, e.Year)
	}

	count, err := store.CountActiveByType(jobs.TypeDiscoverAssets)
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 discover-assets job enqueued, got %d", count)
	}
}

func TestHandlePublishWritesNFO(t *testing.T) {
	dir := t.TempDir()
	repo := newFakeRepo()
	repo.libraries[1] = &entities.Library{ID: 1, Enabled: true, AutomationMode: entities.ModeYOLO, AutoPublish: true}
	repo.entities[1] = &entities.Entity{ID: 1, Kind: entities.KindMovie, LibraryID: 1, Title: "Arrival", Year: 2016, DirectoryPath: dir}
	repo.byPath[dir] = 1

	store := jobs.NewStore(openTestDB(t))
	cacheFiles := newFakeCacheFileStore()
	d := handlers.Deps{
		Repo:       repo,
		Jobs:       store,
		Config:     config.New(&fakeConfigStore{}),
		Events:     events.NopBroadcaster{},
		CacheFiles: cacheFiles,
		CacheFS:    cachefs.New(t.TempDir()),
	}

	job := &jobs.Job{ID: 1, Type: jobs.TypePublish}
	payload := jobs.NewPublishPayload(jobs.EntityJobPayload{EntityID: 1})

	if err := callPublish(d, job, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nfoPath := filepath.Join(dir, "movie.nfo")
	if _, err := os.Stat(nfoPath); err != nil {
		t.Errorf("expected nfo written at %s: %v", nfoPath, err)
	}

	count, err := store.CountActiveByType(jobs.TypeVerifyMovie)
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 verify-movie job enqueued, got %d", count)
	}

	cached, err := cacheFiles.ListByEntity(1)
	if err != nil {
		t.Fatalf("list cache files: %v", err)
	}
	if len(cached) != 1 || cached[0].AssetType != assets.TypeNFO {
		t.Errorf("expected the published nfo mirrored into the cache registry, got %+v", cached)
	}
}

func TestHandleDiscoverAssetsRegistersLocalSubtitles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Arrival (2016).en.srt"), []byte("1\nhello\n"), 0o644); err != nil {
		t.Fatalf("write subtitle: %v", err)
	}

	repo := newFakeRepo()
	repo.entities[1] = &entities.Entity{ID: 1, Kind: entities.KindMovie, DirectoryPath: dir}

	store := jobs.NewStore(openTestDB(t))
	cacheFiles := newFakeCacheFileStore()
	d := handlers.Deps{
		Repo:       repo,
		Jobs:       store,
		Config:     config.New(&fakeConfigStore{}),
		Candidates: noopCandidates{},
		Events:     events.NopBroadcaster{},
		CacheFiles: cacheFiles,
		CacheFS:    cachefs.New(t.TempDir()),
	}

	job := &jobs.Job{ID: 1, Type: jobs.TypeDiscoverAssets}
	payload := jobs.NewDiscoverAssetsPayload(jobs.EntityJobPayload{EntityID: 1})

	if err := callDiscoverAssets(d, job, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cached, err := cacheFiles.ListByEntity(1)
	if err != nil {
		t.Fatalf("list cache files: %v", err)
	}
	if len(cached) != 1 || cached[0].AssetType != assets.TypeSubtitle || cached[0].Language != "en" {
		t.Errorf("expected the local subtitle registered with language en, got %+v", cached)
	}
}

func callScanMovie(d handlers.Deps, job *jobs.Job, p jobs.Payload) error {
	reg := jobs.NewRegistry()
	handlers.Register(reg, d)
	return dispatch(reg, job, p)
}

func callPublish(d handlers.Deps, job *jobs.Job, p jobs.Payload) error {
	reg := jobs.NewRegistry()
	handlers.Register(reg, d)
	return dispatch(reg, job, p)
}

func dispatch(reg *jobs.Registry, job *jobs.Job, p jobs.Payload) error {
	raw, err := jobs.EncodePayload(p)
	if err != nil {
		return err
	}
	job.Payload = raw
	decoded, err := jobs.DecodePayload(job.Type, raw)
	if err != nil {
		return err
	}
	return invoke(reg, job, decoded)
}

func invoke(reg *jobs.Registry, job *jobs.Job, payload jobs.Payload) error {
	h, ok := reg.Handler(job.Type)
	if !ok {
		return errors.New("no handler registered for " + string(job.Type))
	}
	return h(context.Background(), job, payload)
}
