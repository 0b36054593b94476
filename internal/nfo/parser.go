package nfo

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/errs"
)

// nfoDoc is deliberately permissive: it has no XMLName tag, so it matches
// whichever root element a particular NFO flavor uses (movie, tvshow,
// episodedetails, musicvideo, ...) without a struct per root.
type nfoDoc struct {
	Title         string        `xml:"title"`
	OriginalTitle string        `xml:"originaltitle"`
	SortTitle     string        `xml:"sorttitle"`
	Year          int           `xml:"year"`
	Plot          string        `xml:"plot"`
	Outline       string        `xml:"outline"`
	Tagline       string        `xml:"tagline"`
	Studios       []string      `xml:"studio"`
	Genres        []string      `xml:"genre"`
	Directors     []string      `xml:"director"`
	Writers       []string      `xml:"credits"`
	Countries     []string      `xml:"country"`
	Tags          []string      `xml:"tag"`
	TMDBIDElem    string        `xml:"tmdbid"`
	IMDBIDElem    string        `xml:"imdbid"`
	UniqueIDs     []nfoUniqueID `xml:"uniqueid"`
	Actors        []nfoActor    `xml:"actor"`
	Ratings       []nfoRating   `xml:"ratings>rating"`
	Set           *nfoSet       `xml:"set"`
}

type nfoUniqueID struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type nfoActor struct {
	Name  string `xml:"name"`
	Role  string `xml:"role"`
	Order int    `xml:"order"`
}

type nfoRating struct {
	Name  string  `xml:"name,attr"`
	Value float64 `xml:"value"`
	Votes int     `xml:"votes"`
}

type nfoSet struct {
	Name     string `xml:"name"`
	Overview string `xml:"overview"`
}

var (
	reURLTMDB      = regexp.MustCompile(`themoviedb\.org/(?:movie|tv)/(\d+)`)
	reURLIMDB      = regexp.MustCompile(`imdb\.com/title/(tt\d+)`)
	reURLTVDBPath  = regexp.MustCompile(`thetvdb\.com/series/(\d+)`)
	reURLTVDBQuery = regexp.MustCompile(`thetvdb\.com/[^\s]*[?&]id=(\d+)`)

	reTagTMDB   = regexp.MustCompile(`(?is)<tmdbid>\s*(\d+)\s*</tmdbid>`)
	reTagIMDB   = regexp.MustCompile(`(?is)<imdbid>\s*(tt\d+)\s*</imdbid>`)
	reTagUnique = regexp.MustCompile(`(?is)<uniqueid[^>]*\btype="([^"]+)"[^>]*>\s*([^<]+?)\s*</uniqueid>`)
)

// priority tags a candidate file: exact-match "<videoBasename>.nfo"
// outranks "movie.nfo"/"movie.txt", which outranks any other .nfo/.txt
// file. Anything else is not a candidate at all.
func priority(filename, videoBasename string) int {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".nfo" && ext != ".txt" {
		return 0
	}
	lower := strings.ToLower(filename)
	if videoBasename != "" && lower == strings.ToLower(videoBasename)+".nfo" {
		return 30
	}
	if lower == "movie.nfo" || lower == "movie.txt" {
		return 20
	}
	return 10
}

// DiscoverFiles lists NFO/TXT candidates in dir, tagging each with its
// priority. videoBasename is the main media file's base name without
// extension (movies only; pass "" for series/season/episode directories).
func DiscoverFiles(dir, videoBasename string) ([]CandidateFile, []int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errs.New(errs.KindFatal, fmt.Errorf("nfo: read dir: %w", err))
	}

	var files []CandidateFile
	var priorities []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		prio := priority(e.Name(), videoBasename)
		if prio == 0 {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to read nfo candidate")
			continue
		}
		info, err := e.Info()
		modTime := time.Time{}
		if err == nil {
			modTime = info.ModTime()
		}
		files = append(files, CandidateFile{Path: path, Data: data, ModTime: modTime})
		priorities = append(priorities, prio)
	}
	return files, priorities, nil
}

type fileParse struct {
	path      string
	priority  int
	modTime   time.Time
	ids       entities.ExternalIDs
	meta      *Metadata
	malformed bool
}

// ParseDirectory discovers candidate NFO files, parses and reconciles them
// into one Result.
func ParseDirectory(dir, videoBasename string) (Result, error) {
	files, priorities, err := DiscoverFiles(dir, videoBasename)
	if err != nil {
		return Result{}, err
	}
	return Parse(files, priorities), nil
}

// Parse reconciles already-read candidate files into one Result. Exported
// separately from ParseDirectory so tests can drive it without a
// filesystem.
func Parse(files []CandidateFile, priorities []int) Result {
	parsed := make([]*fileParse, 0, len(files))
	for i, f := range files {
		prio := 10
		if i < len(priorities) {
			prio = priorities[i]
		}
		fp, err := parseOne(f, prio)
		if err != nil {
			log.Warn().Err(err).Str("path", f.Path).Msg("nfo candidate rejected")
			continue
		}
		parsed = append(parsed, fp)
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		if parsed[i].priority != parsed[j].priority {
			return parsed[i].priority > parsed[j].priority
		}
		return parsed[i].modTime.After(parsed[j].modTime)
	})

	ids, ambiguous, diag := resolveIDs(parsed)
	if ambiguous {
		return Result{Status: StatusAmbiguous, Diagnostic: diag}
	}

	meta := mergeMetadata(parsed)
	meta.ExternalIDs = ids
	if ids == (entities.ExternalIDs{}) {
		return Result{Status: StatusInvalid, Diagnostic: "no candidate file yielded a provider identifier", Metadata: meta}
	}

	return Result{Status: StatusValid, Metadata: meta}
}

func parseOne(f CandidateFile, prio int) (*fileParse, error) {
	trimmed := bytes.TrimSpace(f.Data)
	fp := &fileParse{path: f.Path, priority: prio, modTime: f.ModTime}

	if looksLikeXML(trimmed) {
		if containsUnsafeDeclaration(trimmed) {
			return nil, fmt.Errorf("rejected: external entity or DOCTYPE declaration present")
		}
		var doc nfoDoc
		if err := xml.Unmarshal(trimmed, &doc); err != nil {
			fp.ids = regexExtractIDs(trimmed)
			fp.malformed = true
			return fp, nil
		}
		fp.meta = docToMetadata(&doc)
		fp.ids = fp.meta.ExternalIDs
		return fp, nil
	}

	fp.ids = extractIDsFromText(trimmed)
	return fp, nil
}

func looksLikeXML(data []byte) bool {
	return bytes.HasPrefix(data, []byte("<"))
}

func containsUnsafeDeclaration(data []byte) bool {
	upper := bytes.ToUpper(data)
	return bytes.Contains(upper, []byte("<!ENTITY")) || bytes.Contains(upper, []byte("<!DOCTYPE"))
}

func docToMetadata(doc *nfoDoc) *Metadata {
	m := &Metadata{
		Title:         doc.Title,
		OriginalTitle: doc.OriginalTitle,
		SortTitle:     doc.SortTitle,
		Year:          doc.Year,
		Plot:          doc.Plot,
		Outline:       doc.Outline,
		Tagline:       doc.Tagline,
		Genres:        doc.Genres,
		Directors:     doc.Directors,
		Writers:       doc.Writers,
		Studios:       doc.Studios,
		Countries:     doc.Countries,
		Tags:          doc.Tags,
	}

	for _, a := range doc.Actors {
		m.Actors = append(m.Actors, CastMember{Name: a.Name, Role: a.Role, Order: a.Order})
	}
	for _, r := range doc.Ratings {
		m.Ratings = append(m.Ratings, entities.Rating{Source: strings.ToLower(r.Name), Value: r.Value, Votes: r.Votes})
	}
	if doc.Set != nil {
		m.Collection = &entities.Collection{Name: doc.Set.Name, Overview: doc.Set.Overview}
	}
	if len(doc.Studios) > 0 {
		m.Studio = doc.Studios[0]
	}

	ids := entities.ExternalIDs{}
	if doc.TMDBIDElem != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(doc.TMDBIDElem), 10, 64); err == nil {
			ids.TMDBID = n
		}
	}
	if doc.IMDBIDElem != "" {
		ids.IMDBID = strings.TrimSpace(doc.IMDBIDElem)
	}
	for _, u := range doc.UniqueIDs {
		val := strings.TrimSpace(u.Value)
		switch strings.ToLower(u.Type) {
		case "tmdb":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				ids.TMDBID = n
			}
		case "imdb":
			ids.IMDBID = val
		case "tvdb":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				ids.TVDBID = n
			}
		}
	}
	m.ExternalIDs = ids
	return m
}

func extractIDsFromText(data []byte) entities.ExternalIDs {
	var out entities.ExternalIDs
	for _, line := range bytes.Split(data, []byte("\n")) {
		s := string(bytes.TrimSpace(line))
		if s == "" {
			continue
		}
		if m := reURLTMDB.FindStringSubmatch(s); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				out.TMDBID = n
			}
		}
		if m := reURLIMDB.FindStringSubmatch(s); m != nil {
			out.IMDBID = m[1]
		}
		if m := reURLTVDBPath.FindStringSubmatch(s); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				out.TVDBID = n
			}
		} else if m := reURLTVDBQuery.FindStringSubmatch(s); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				out.TVDBID = n
			}
		}
	}
	return out
}

func regexExtractIDs(data []byte) entities.ExternalIDs {
	var out entities.ExternalIDs
	if m := reTagTMDB.FindSubmatch(data); m != nil {
		if n, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil {
			out.TMDBID = n
		}
	}
	if m := reTagIMDB.FindSubmatch(data); m != nil {
		out.IMDBID = string(m[1])
	}
	for _, m := range reTagUnique.FindAllSubmatch(data, -1) {
		typ := strings.ToLower(string(m[1]))
		val := strings.TrimSpace(string(m[2]))
		switch typ {
		case "tmdb":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				out.TMDBID = n
			}
		case "imdb":
			out.IMDBID = val
		case "tvdb":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				out.TVDBID = n
			}
		}
	}
	return out
}

// resolveIDs picks the authoritative identifier set from the
// highest-priority tier of files. A conflict within that tier is
// ambiguous; a conflict against a lower tier is resolved in favor of the
// higher tier and logged.
func resolveIDs(files []*fileParse) (entities.ExternalIDs, bool, string) {
	if len(files) == 0 {
		return entities.ExternalIDs{}, false, ""
	}
	maxPrio := files[0].priority
	var top []*fileParse
	for _, f := range files {
		if f.priority == maxPrio {
			top = append(top, f)
		}
	}

	var ids entities.ExternalIDs
	conflict := false
	for _, f := range top {
		if f.ids.TMDBID != 0 {
			if ids.TMDBID != 0 && ids.TMDBID != f.ids.TMDBID {
				conflict = true
			} else {
				ids.TMDBID = f.ids.TMDBID
			}
		}
		if f.ids.IMDBID != "" {
			if ids.IMDBID != "" && ids.IMDBID != f.ids.IMDBID {
				conflict = true
			} else {
				ids.IMDBID = f.ids.IMDBID
			}
		}
		if f.ids.TVDBID != 0 {
			if ids.TVDBID != 0 && ids.TVDBID != f.ids.TVDBID {
				conflict = true
			} else {
				ids.TVDBID = f.ids.TVDBID
			}
		}
	}
	if conflict {
		return entities.ExternalIDs{}, true, fmt.Sprintf("conflicting identifiers among %d files at priority %d", len(top), maxPrio)
	}

	for _, f := range files {
		if f.priority == maxPrio {
			continue
		}
		if (f.ids.TMDBID != 0 && f.ids.TMDBID != ids.TMDBID) || (f.ids.IMDBID != "" && f.ids.IMDBID != ids.IMDBID) {
			log.Warn().Str("path", f.path).Msg("lower-priority nfo file disagrees with winning identifiers, discarded")
		}
	}
	return ids, false, ""
}

func mergeMetadata(files []*fileParse) Metadata {
	var out Metadata
	var winner *Metadata
	for _, f := range files {
		if f.meta != nil {
			winner = f.meta
			break
		}
	}
	if winner != nil {
		out.Title = winner.Title
		out.OriginalTitle = winner.OriginalTitle
		out.SortTitle = winner.SortTitle
		out.Year = winner.Year
		out.Tagline = winner.Tagline
		out.Studio = winner.Studio
		for _, a := range winner.Actors {
			out.Actors = append(out.Actors, a)
		}
	}

	genres := newUnion()
	directors := newUnion()
	writers := newUnion()
	studios := newUnion()
	countries := newUnion()
	tags := newUnion()
	actorSeen := make(map[string]bool)
	for _, a := range out.Actors {
		actorSeen[a.Name] = true
	}
	ratingsBySource := make(map[string]entities.Rating)
	var collection *entities.Collection

	for _, f := range files {
		if f.meta == nil {
			continue
		}
		if len(f.meta.Plot) > len(out.Plot) {
			out.Plot = f.meta.Plot
		}
		if len(f.meta.Outline) > len(out.Outline) {
			out.Outline = f.meta.Outline
		}
		genres.add(f.meta.Genres...)
		directors.add(f.meta.Directors...)
		writers.add(f.meta.Writers...)
		studios.add(f.meta.Studios...)
		countries.add(f.meta.Countries...)
		tags.add(f.meta.Tags...)

		if f.meta != winner {
			for _, a := range f.meta.Actors {
				if !actorSeen[a.Name] {
					actorSeen[a.Name] = true
					out.Actors = append(out.Actors, a)
				}
			}
		}

		for _, r := range f.meta.Ratings {
			if existing, ok := ratingsBySource[r.Source]; !ok || r.Votes > existing.Votes {
				ratingsBySource[r.Source] = r
			}
		}

		if f.meta.Collection != nil {
			if collection == nil || (collection.Overview == "" && f.meta.Collection.Overview != "") {
				collection = f.meta.Collection
			}
		}
	}

	out.Genres = genres.values()
	out.Directors = directors.values()
	out.Writers = writers.values()
	out.Studios = studios.values()
	out.Countries = countries.values()
	out.Tags = tags.values()
	out.Collection = collection

	sort.SliceStable(out.Actors, func(i, j int) bool { return out.Actors[i].Order < out.Actors[j].Order })
	for _, r := range ratingsBySource {
		out.Ratings = append(out.Ratings, r)
	}
	sort.Slice(out.Ratings, func(i, j int) bool { return out.Ratings[i].Source < out.Ratings[j].Source })

	return out
}

type union struct {
	seen  map[string]bool
	order []string
}

func newUnion() *union { return &union{seen: make(map[string]bool)} }

func (u *union) add(vals ...string) {
	for _, v := range vals {
		if v == "" || u.seen[v] {
			continue
		}
		u.seen[v] = true
		u.order = append(u.order, v)
	}
}

func (u *union) values() []string { return u.order }
