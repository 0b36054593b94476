package db_test

import (
	"testing"

	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/providers"
)

func TestProviderCacheMissReturnsNilWithoutError(t *testing.T) {
	d := openTestDB(t)
	cache := db.NewProviderCache(d)

	rec, err := cache.GetCached(providers.KindMovie, providers.NameTMDB, "329865")
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if rec != nil {
		t.Errorf("expected a cache miss to return nil, got %+v", rec)
	}
}

func TestProviderCachePutThenGetRoundTripsRecordAndImages(t *testing.T) {
	d := openTestDB(t)
	cache := db.NewProviderCache(d)

	rec := &providers.Record{
		Title: "Arrival",
		Year:  2016,
		Images: []providers.Image{
			{Type: "poster", URL: "http://a/1.jpg", Width: 1000, Height: 1500, Provider: providers.NameTMDB},
		},
		FieldOrigin: map[string]providers.Name{"title": providers.NameTMDB},
	}

	if err := cache.PutCached(providers.KindMovie, providers.NameTMDB, "329865", rec); err != nil {
		t.Fatalf("put cached: %v", err)
	}

	got, err := cache.GetCached(providers.KindMovie, providers.NameTMDB, "329865")
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cache hit")
	}
	if got.Record.Title != "Arrival" || got.Record.Year != 2016 {
		t.Errorf("expected round-tripped title/year, got %+v", got.Record)
	}
	if len(got.Record.Images) != 1 || got.Record.Images[0].URL != "http://a/1.jpg" {
		t.Errorf("expected the cached image to round-trip, got %+v", got.Record.Images)
	}
}

func TestProviderCachePutReplacesImagesOnUpdate(t *testing.T) {
	d := openTestDB(t)
	cache := db.NewProviderCache(d)

	first := &providers.Record{
		Title:       "Arrival",
		Images:      []providers.Image{{Type: "poster", URL: "http://a/1.jpg", Provider: providers.NameTMDB}},
		FieldOrigin: map[string]providers.Name{"title": providers.NameTMDB},
	}
	if err := cache.PutCached(providers.KindMovie, providers.NameTMDB, "329865", first); err != nil {
		t.Fatalf("put first: %v", err)
	}

	second := &providers.Record{
		Title:       "Arrival",
		Images:      []providers.Image{{Type: "backdrop", URL: "http://a/2.jpg", Provider: providers.NameTMDB}},
		FieldOrigin: map[string]providers.Name{"title": providers.NameTMDB},
	}
	if err := cache.PutCached(providers.KindMovie, providers.NameTMDB, "329865", second); err != nil {
		t.Fatalf("put second: %v", err)
	}

	got, err := cache.GetCached(providers.KindMovie, providers.NameTMDB, "329865")
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if len(got.Record.Images) != 1 || got.Record.Images[0].Type != "backdrop" {
		t.Errorf("expected stale images replaced rather than accumulated, got %+v", got.Record.Images)
	}
}

func TestProviderCacheEmptyProviderIDIsNoop(t *testing.T) {
	d := openTestDB(t)
	cache := db.NewProviderCache(d)

	if err := cache.PutCached(providers.KindMovie, providers.NameTMDB, "", &providers.Record{Title: "x"}); err != nil {
		t.Fatalf("put with empty id: %v", err)
	}
	rec, err := cache.GetCached(providers.KindMovie, providers.NameTMDB, "")
	if err != nil {
		t.Fatalf("get with empty id: %v", err)
	}
	if rec != nil {
		t.Errorf("expected an empty provider id to never hit the cache, got %+v", rec)
	}
}
