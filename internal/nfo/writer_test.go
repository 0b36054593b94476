package nfo_test

import (
	"strings"
	"testing"

	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/nfo"
)

func TestRender(t *testing.T) {
	entity := &entities.Entity{
		Kind:          entities.KindMovie,
		Title:         "Arrival",
		OriginalTitle: "Arrival",
		Year:          2016,
		Plot:          "A linguist deciphers an alien language.",
		DirectoryPath: "/library/Arrival (2016)",
		MediaFilePath: "/library/Arrival (2016)/Arrival (2016).mkv",
		ExternalIDs:   entities.ExternalIDs{TMDBID: 329865, IMDBID: "tt2543164"},
	}

	doc := nfo.Document{
		Entity:  entity,
		Genres:  []string{"Drama", "Sci-Fi"},
		Studios: []string{"Paramount Pictures"},
		Cast: []entities.CastLink{
			{ActorID: 1, Role: "Louise Banks", Order: 0},
		},
		Actors: map[int64]entities.Actor{
			1: {ID: 1, Name: "Amy Adams"},
		},
	}

	out := string(nfo.Render(doc))

	t.Run("root element matches movie kind", func(t *testing.T) {
		if !strings.Contains(out, "<movie>") {
			t.Errorf("expected <movie> root, got:\n%s", out)
		}
	})

	t.Run("tmdb uniqueid is marked default for movies", func(t *testing.T) {
		if !strings.Contains(out, `<uniqueid type="tmdb" default="true">329865</uniqueid>`) {
			t.Errorf("expected default tmdb uniqueid, got:\n%s", out)
		}
	})

	t.Run("imdb uniqueid present without default", func(t *testing.T) {
		if !strings.Contains(out, `<uniqueid type="imdb">tt2543164</uniqueid>`) {
			t.Errorf("expected imdb uniqueid, got:\n%s", out)
		}
	})

	t.Run("scalars present", func(t *testing.T) {
		if !strings.Contains(out, "<title>Arrival</title>") {
			t.Error("expected title element")
		}
		if !strings.Contains(out, "<year>2016</year>") {
			t.Error("expected year element")
		}
	})

	t.Run("cast emitted with role and order", func(t *testing.T) {
		if !strings.Contains(out, "<name>Amy Adams</name>") || !strings.Contains(out, "<role>Louise Banks</role>") {
			t.Errorf("expected cast member rendered, got:\n%s", out)
		}
	})
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		name   string
		entity *entities.Entity
		want   string
	}{
		{
			name:   "movie",
			entity: &entities.Entity{Kind: entities.KindMovie, DirectoryPath: "/lib/Arrival (2016)"},
			want:   "/lib/Arrival (2016)/movie.nfo",
		},
		{
			name:   "series",
			entity: &entities.Entity{Kind: entities.KindSeries, DirectoryPath: "/lib/Severance"},
			want:   "/lib/Severance/tvshow.nfo",
		},
		{
			name: "episode",
			entity: &entities.Entity{
				Kind:          entities.KindEpisode,
				DirectoryPath: "/lib/Severance/Season 01",
				MediaFilePath: "/lib/Severance/Season 01/S01E01.mkv",
			},
			want: "/lib/Severance/Season 01/S01E01.nfo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nfo.CanonicalPath(tt.entity)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
