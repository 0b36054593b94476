package providers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jsaddiction/metarr/internal/providers"
)

func TestMergePrefersHigherPriorityProviderForScalars(t *testing.T) {
	tmdb := &providers.Record{Title: "TMDB Title", Year: 2020, FieldOrigin: map[string]providers.Name{"title": providers.NameTMDB}}
	tvdb := &providers.Record{Title: "TVDB Title", Year: 1999, FieldOrigin: map[string]providers.Name{"title": providers.NameTVDB}}

	merged := providers.Merge([]*providers.Record{tvdb, tmdb})

	if merged.Title != "TMDB Title" {
		t.Errorf("expected TMDB's title to win, got %q", merged.Title)
	}
	if merged.Year != 2020 {
		t.Errorf("expected TMDB's year to win since it set one, got %d", merged.Year)
	}
}

func TestMergeFillsScalarGapFromLowerPriorityProvider(t *testing.T) {
	tmdb := &providers.Record{Title: "TMDB Title", FieldOrigin: map[string]providers.Name{"title": providers.NameTMDB}}
	tvdb := &providers.Record{Title: "TVDB Title", Year: 1999, FieldOrigin: map[string]providers.Name{"title": providers.NameTVDB}}

	merged := providers.Merge([]*providers.Record{tmdb, tvdb})

	if merged.Title != "TMDB Title" {
		t.Errorf("expected TMDB's title to win, got %q", merged.Title)
	}
	if merged.Year != 1999 {
		t.Errorf("expected TVDB to fill the year TMDB left empty, got %d", merged.Year)
	}
}

func TestMergeUnionsArraysWithoutDuplicates(t *testing.T) {
	a := &providers.Record{
		Genres:      []string{"Action", "Drama"},
		Images:      []providers.Image{{Type: "poster", URL: "http://a/1.jpg", Provider: providers.NameTMDB}},
		FieldOrigin: map[string]providers.Name{"title": providers.NameTMDB},
	}
	b := &providers.Record{
		Genres:      []string{"Drama", "Thriller"},
		Images:      []providers.Image{{Type: "poster", URL: "http://a/1.jpg", Provider: providers.NameFanartTV}, {Type: "poster", URL: "http://b/2.jpg", Provider: providers.NameFanartTV}},
		FieldOrigin: map[string]providers.Name{"title": providers.NameFanartTV},
	}

	merged := providers.Merge([]*providers.Record{a, b})

	if len(merged.Genres) != 3 {
		t.Errorf("expected 3 deduped genres, got %d: %v", len(merged.Genres), merged.Genres)
	}
	if len(merged.Images) != 2 {
		t.Errorf("expected 2 deduped images (same type+URL counted once), got %d", len(merged.Images))
	}
}

type fakeClient struct {
	name   providers.Name
	record *providers.Record
	err    error
	delay  time.Duration
}

func (f *fakeClient) Name() providers.Name { return f.name }

func (f *fakeClient) Fetch(ctx context.Context, ids providers.ExternalIDs, kind providers.EntityKind, opts providers.FetchOptions) (*providers.Record, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.record
	return &cp, nil
}

func TestOrchestratorFetchMergesAcrossContributingProviders(t *testing.T) {
	tmdb := &fakeClient{name: providers.NameTMDB, record: &providers.Record{Title: "From TMDB"}}
	tvdb := &fakeClient{name: providers.NameTVDB, record: &providers.Record{Title: "From TVDB"}}

	orch := providers.NewOrchestrator(nil, []providers.Client{tmdb, tvdb})

	result, err := orch.Fetch(context.Background(), providers.KindMovie, providers.ExternalIDs{TMDBID: 1}, providers.FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Record.Title != "From TMDB" {
		t.Errorf("expected TMDB's title to win the merge, got %q", result.Record.Title)
	}
	if len(result.Providers) != 2 {
		t.Errorf("expected both providers to contribute, got %v", result.Providers)
	}
	if result.Source != providers.SourceLive {
		t.Errorf("expected source live with no degraded providers, got %s", result.Source)
	}
}

func TestOrchestratorFetchDegradesGracefullyOnPartialFailure(t *testing.T) {
	tmdb := &fakeClient{name: providers.NameTMDB, err: errors.New("rate limited")}
	tvdb := &fakeClient{name: providers.NameTVDB, record: &providers.Record{Title: "From TVDB"}}

	orch := providers.NewOrchestrator(nil, []providers.Client{tmdb, tvdb})

	result, err := orch.Fetch(context.Background(), providers.KindMovie, providers.ExternalIDs{TVDBID: 7}, providers.FetchOptions{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if result.Record.Title != "From TVDB" {
		t.Errorf("expected surviving provider's data, got %q", result.Record.Title)
	}
	if len(result.Degraded) != 1 || result.Degraded[0] != providers.NameTMDB {
		t.Errorf("expected tmdb recorded as degraded, got %v", result.Degraded)
	}
	if result.Source != providers.SourceMixed {
		t.Errorf("expected source mixed when some providers degraded, got %s", result.Source)
	}
}

func TestOrchestratorFetchReturnsNoDataWhenAllProvidersFail(t *testing.T) {
	tmdb := &fakeClient{name: providers.NameTMDB, err: errors.New("down")}
	tvdb := &fakeClient{name: providers.NameTVDB, err: errors.New("down")}

	orch := providers.NewOrchestrator(nil, []providers.Client{tmdb, tvdb})

	result, err := orch.Fetch(context.Background(), providers.KindMovie, providers.ExternalIDs{TMDBID: 1}, providers.FetchOptions{})
	if err != nil {
		t.Fatalf("expected no-data result instead of an error, got %v", err)
	}
	if result.Record == nil || result.Record.Title != "" {
		t.Errorf("expected an empty record, got %+v", result.Record)
	}
	if len(result.Degraded) != 2 {
		t.Errorf("expected both providers recorded as degraded, got %v", result.Degraded)
	}
}
