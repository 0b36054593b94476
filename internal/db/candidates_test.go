package db_test

import (
	"testing"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/entities"
)

func insertEntityForCandidates(t *testing.T, d *db.DB) int64 {
	t.Helper()
	repo := db.NewRepository(d)
	libID := insertLibrary(t, d.Conn(), "/media/movies")
	id, err := repo.InsertEntity(&entities.Entity{
		Kind:          entities.KindMovie,
		LibraryID:     libID,
		Title:         "Arrival",
		DirectoryPath: "/media/movies/Arrival (2016)",
	})
	if err != nil {
		t.Fatalf("insert entity: %v", err)
	}
	return id
}

func TestUpsertCandidateWithoutRefreshIgnoresDuplicates(t *testing.T) {
	d := openTestDB(t)
	store := db.NewCandidateStore(d)
	entityID := insertEntityForCandidates(t, d)

	c := &assets.Candidate{EntityID: entityID, AssetType: assets.TypePoster, Provider: "tmdb", URL: "http://x/1.jpg", VoteAverage: 5}
	id1, err := store.UpsertCandidate(c, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	c.VoteAverage = 9
	id2, err := store.UpsertCandidate(c, false)
	if err != nil {
		t.Fatalf("upsert duplicate: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same row id on duplicate insert, got %d and %d", id1, id2)
	}

	list, err := store.ListByType(entityID, assets.TypePoster)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(list))
	}
	if list[0].VoteAverage != 5 {
		t.Errorf("expected non-refresh upsert to leave original vote average, got %v", list[0].VoteAverage)
	}
}

func TestUpsertCandidateWithRefreshUpdatesExisting(t *testing.T) {
	d := openTestDB(t)
	store := db.NewCandidateStore(d)
	entityID := insertEntityForCandidates(t, d)

	c := &assets.Candidate{EntityID: entityID, AssetType: assets.TypePoster, Provider: "tmdb", URL: "http://x/1.jpg", VoteAverage: 5}
	if _, err := store.UpsertCandidate(c, true); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	c.VoteAverage = 9
	if _, err := store.UpsertCandidate(c, true); err != nil {
		t.Fatalf("upsert refresh: %v", err)
	}

	list, err := store.ListByType(entityID, assets.TypePoster)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(list) != 1 || list[0].VoteAverage != 9 {
		t.Errorf("expected refresh to overwrite vote average to 9, got %+v", list)
	}
}

func TestAnalyzedAndUnanalyzedPartitionCandidates(t *testing.T) {
	d := openTestDB(t)
	store := db.NewCandidateStore(d)
	entityID := insertEntityForCandidates(t, d)

	id, err := store.UpsertCandidate(&assets.Candidate{EntityID: entityID, AssetType: assets.TypeBackdrop, Provider: "tmdb", URL: "http://x/2.jpg"}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	unanalyzed, err := store.ListUnanalyzed(entityID)
	if err != nil {
		t.Fatalf("list unanalyzed: %v", err)
	}
	if len(unanalyzed) != 1 {
		t.Fatalf("expected 1 unanalyzed candidate, got %d", len(unanalyzed))
	}

	unanalyzed[0].Width = 1920
	unanalyzed[0].Height = 1080
	unanalyzed[0].ContentHash = "abc123"
	if err := store.UpdateAnalysis(unanalyzed[0]); err != nil {
		t.Fatalf("update analysis: %v", err)
	}

	stillUnanalyzed, err := store.ListUnanalyzed(entityID)
	if err != nil {
		t.Fatalf("list unanalyzed again: %v", err)
	}
	if len(stillUnanalyzed) != 0 {
		t.Errorf("expected 0 unanalyzed after UpdateAnalysis, got %d", len(stillUnanalyzed))
	}

	analyzed, err := store.ListAnalyzed(entityID)
	if err != nil {
		t.Fatalf("list analyzed: %v", err)
	}
	if len(analyzed) != 1 || analyzed[0].ID != id {
		t.Errorf("expected the analyzed candidate to appear, got %+v", analyzed)
	}
}

func TestRejectExcludesCandidateFromListings(t *testing.T) {
	d := openTestDB(t)
	store := db.NewCandidateStore(d)
	entityID := insertEntityForCandidates(t, d)

	id, err := store.UpsertCandidate(&assets.Candidate{EntityID: entityID, AssetType: assets.TypePoster, Provider: "tmdb", URL: "http://x/3.jpg"}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Reject(id); err != nil {
		t.Fatalf("reject: %v", err)
	}

	list, err := store.ListByType(entityID, assets.TypePoster)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected rejected candidate excluded from ListByType, got %d", len(list))
	}
}

func TestSetSelectedAndListSelected(t *testing.T) {
	d := openTestDB(t)
	store := db.NewCandidateStore(d)
	entityID := insertEntityForCandidates(t, d)

	id, err := store.UpsertCandidate(&assets.Candidate{EntityID: entityID, AssetType: assets.TypePoster, Provider: "tmdb", URL: "http://x/4.jpg"}, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.SetSelected(id, true, "selector", nil); err != nil {
		t.Fatalf("set selected: %v", err)
	}

	selected, err := store.ListSelected(entityID, assets.TypePoster)
	if err != nil {
		t.Fatalf("list selected: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != id {
		t.Errorf("expected the selected candidate to appear, got %+v", selected)
	}
}

func TestDeleteLocalOnlyRemovesLocalSourceRows(t *testing.T) {
	d := openTestDB(t)
	store := db.NewCandidateStore(d)
	entityID := insertEntityForCandidates(t, d)

	providerID, err := store.UpsertCandidate(&assets.Candidate{EntityID: entityID, AssetType: assets.TypePoster, Provider: "tmdb", URL: "http://x/5.jpg", Source: assets.SourceProvider}, false)
	if err != nil {
		t.Fatalf("upsert provider candidate: %v", err)
	}
	localID, err := store.UpsertCandidate(&assets.Candidate{EntityID: entityID, AssetType: assets.TypePoster, Provider: "", URL: "file:///local/poster.jpg", Source: assets.SourceLocal}, false)
	if err != nil {
		t.Fatalf("upsert local candidate: %v", err)
	}

	if err := store.DeleteLocal(providerID); err != nil {
		t.Fatalf("delete local (non-local row): %v", err)
	}
	remaining, err := store.ListByType(entityID, assets.TypePoster)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected DeleteLocal to no-op against a provider-source row, got %d remaining", len(remaining))
	}

	if err := store.DeleteLocal(localID); err != nil {
		t.Fatalf("delete local: %v", err)
	}
	remaining, err = store.ListByType(entityID, assets.TypePoster)
	if err != nil {
		t.Fatalf("list by type after delete: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != providerID {
		t.Errorf("expected only the provider candidate to remain, got %+v", remaining)
	}
}
