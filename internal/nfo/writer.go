package nfo

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jsaddiction/metarr/internal/entities"
)

// Document is everything the writer needs to emit one NFO file, gathered
// by the caller from the entity row and its related tables.
type Document struct {
	Entity     *entities.Entity
	Cast       []entities.CastLink
	Actors     map[int64]entities.Actor // keyed by Actor.ID, looked up via Cast
	Studios    []string
	Countries  []string
	Tags       []string
	Genres     []string
	Directors  []string
	Writers    []string
	Ratings    []entities.Rating
	Collection *entities.Collection
}

type xmlWriter struct {
	buf    bytes.Buffer
	indent int
}

func (w *xmlWriter) open(tag string, attrs ...[2]string) {
	w.writeIndent()
	w.buf.WriteByte('<')
	w.buf.WriteString(tag)
	for _, a := range attrs {
		fmt.Fprintf(&w.buf, ` %s="%s"`, a[0], xmlEscapeAttr(a[1]))
	}
	w.buf.WriteString(">\n")
	w.indent++
}

func (w *xmlWriter) close(tag string) {
	w.indent--
	w.writeIndent()
	w.buf.WriteString("</")
	w.buf.WriteString(tag)
	w.buf.WriteString(">\n")
}

func (w *xmlWriter) leaf(tag, value string, attrs ...[2]string) {
	if value == "" && len(attrs) == 0 {
		return
	}
	w.writeIndent()
	w.buf.WriteByte('<')
	w.buf.WriteString(tag)
	for _, a := range attrs {
		fmt.Fprintf(&w.buf, ` %s="%s"`, a[0], xmlEscapeAttr(a[1]))
	}
	w.buf.WriteString(">")
	xml.EscapeText(&w.buf, []byte(value))
	w.buf.WriteString("</")
	w.buf.WriteString(tag)
	w.buf.WriteString(">\n")
}

func (w *xmlWriter) writeIndent() {
	for i := 0; i < w.indent; i++ {
		w.buf.WriteString("  ")
	}
}

func xmlEscapeAttr(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// rootTag maps an entity kind to the Kodi root element name.
func rootTag(k entities.Kind) string {
	switch k {
	case entities.KindSeries:
		return "tvshow"
	case entities.KindEpisode:
		return "episodedetails"
	default:
		return "movie"
	}
}

// Render produces the deterministic, indented XML body for a Document. The
// uniqueid provider priority is TVDB > TMDB > IMDB for series, TMDB > IMDB
// for movies.
func Render(doc Document) []byte {
	w := &xmlWriter{}
	w.buf.WriteString(xml.Header)
	root := rootTag(doc.Entity.Kind)
	w.open(root)

	writeUniqueIDs(w, doc.Entity)

	w.leaf("title", doc.Entity.Title)
	w.leaf("originaltitle", doc.Entity.OriginalTitle)
	w.leaf("sorttitle", doc.Entity.SortTitle)
	if doc.Entity.Year != 0 {
		w.leaf("year", strconv.Itoa(doc.Entity.Year))
	}
	w.leaf("plot", doc.Entity.Plot)
	if doc.Entity.Kind == entities.KindMovie {
		w.leaf("tagline", doc.Entity.Tagline)
	} else {
		w.leaf("outline", doc.Entity.Outline)
	}

	for _, r := range sortedRatings(doc.Ratings) {
		w.open("ratings")
		attrs := [][2]string{{"name", r.Source}}
		if r.Default {
			attrs = append(attrs, [2]string{"default", "true"})
		}
		w.open("rating", attrs...)
		w.leaf("value", strconv.FormatFloat(r.Value, 'f', 1, 64))
		w.leaf("votes", strconv.Itoa(r.Votes))
		w.close("rating")
		w.close("ratings")
	}

	for _, g := range doc.Genres {
		w.leaf("genre", g)
	}
	for _, s := range doc.Studios {
		w.leaf("studio", s)
	}
	for _, c := range doc.Countries {
		w.leaf("country", c)
	}
	for _, t := range doc.Tags {
		w.leaf("tag", t)
	}
	for _, d := range doc.Directors {
		w.leaf("director", d)
	}
	for _, wr := range doc.Writers {
		w.leaf("credits", wr)
	}

	if doc.Collection != nil && doc.Collection.Name != "" {
		w.open("set")
		w.leaf("name", doc.Collection.Name)
		w.leaf("overview", doc.Collection.Overview)
		w.close("set")
	}

	cast := append([]entities.CastLink(nil), doc.Cast...)
	sort.SliceStable(cast, func(i, j int) bool { return cast[i].Order < cast[j].Order })
	for _, link := range cast {
		actor, ok := doc.Actors[link.ActorID]
		if !ok {
			continue
		}
		w.open("actor")
		w.leaf("name", actor.Name)
		w.leaf("role", link.Role)
		w.leaf("order", strconv.Itoa(link.Order))
		if actor.ImageCachePath != "" {
			w.leaf("thumb", actor.ImageCachePath)
		}
		w.close("actor")
	}

	w.close(root)
	return w.buf.Bytes()
}

func sortedRatings(ratings []entities.Rating) []entities.Rating {
	out := append([]entities.Rating(nil), ratings...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Default != out[j].Default {
			return out[i].Default
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func writeUniqueIDs(w *xmlWriter, e *entities.Entity) {
	type uid struct {
		typ string
		val string
	}
	var order []uid
	if e.Kind == entities.KindSeries || e.Kind == entities.KindSeason || e.Kind == entities.KindEpisode {
		if e.ExternalIDs.TVDBID != 0 {
			order = append(order, uid{"tvdb", strconv.FormatInt(e.ExternalIDs.TVDBID, 10)})
		}
		if e.ExternalIDs.TMDBID != 0 {
			order = append(order, uid{"tmdb", strconv.FormatInt(e.ExternalIDs.TMDBID, 10)})
		}
		if e.ExternalIDs.IMDBID != "" {
			order = append(order, uid{"imdb", e.ExternalIDs.IMDBID})
		}
	} else {
		if e.ExternalIDs.TMDBID != 0 {
			order = append(order, uid{"tmdb", strconv.FormatInt(e.ExternalIDs.TMDBID, 10)})
		}
		if e.ExternalIDs.IMDBID != "" {
			order = append(order, uid{"imdb", e.ExternalIDs.IMDBID})
		}
	}
	for i, u := range order {
		attrs := [][2]string{{"type", u.typ}}
		if i == 0 {
			attrs = append(attrs, [2]string{"default", "true"})
		}
		w.leaf("uniqueid", u.val, attrs...)
	}
}

// CanonicalPath returns the destination path for an entity's NFO file:
// movie.nfo, tvshow.nfo, or "<video-basename>.nfo" for episodes.
func CanonicalPath(e *entities.Entity) string {
	switch e.Kind {
	case entities.KindSeries:
		return filepath.Join(e.DirectoryPath, "tvshow.nfo")
	case entities.KindEpisode:
		base := trimExt(filepath.Base(e.MediaFilePath))
		return filepath.Join(e.DirectoryPath, base+".nfo")
	default:
		return filepath.Join(e.DirectoryPath, "movie.nfo")
	}
}

func trimExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

// Write atomically renders and writes Document's NFO file to its
// canonical path (write-to-temp-then-rename, the same idiom as
// internal/cachefs), and returns the rendered bytes so the caller can
// mirror them into the cache registry without re-rendering.
func Write(doc Document) ([]byte, error) {
	path := CanonicalPath(doc.Entity)
	data := Render(doc)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("nfo: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("nfo: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("nfo: rename temp file: %w", err)
	}
	return data, nil
}
