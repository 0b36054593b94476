package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/jobs"
	"github.com/jsaddiction/metarr/internal/nfo"
)

var videoExts = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true, ".ts": true, ".mov": true,
}

// dirTitleYear matches the "Title (Year)" convention scan-movie derives an
// identity from when no webhook already supplied one.
var dirTitleYear = regexp.MustCompile(`^(.*?)\s*\((\d{4})\)\s*$`)

func deriveTitleYear(dirBase string) (string, int) {
	m := dirTitleYear.FindStringSubmatch(dirBase)
	if m == nil {
		return dirBase, 0
	}
	year, _ := strconv.Atoi(m[2])
	return m[1], year
}

// findVideoFile returns the first file in dir whose extension is a known
// video container. Non-recursive: extras/featurettes subfolders are out of
// scope for the primary entity's media file.
func findVideoFile(dir string) (string, error) {
	entriesList, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entriesList {
		if e.IsDir() {
			continue
		}
		if videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// handleWebhookReceived normalizes a Radarr-style webhook straight into an
// entity upsert: the webhook already carries an authoritative title, year
// and provider id, so there's no directory-name guessing to do. Series and
// episode payloads are accepted but not yet acted on (movies are this
// engine's only fully wired kind).
func (d Deps) handleWebhookReceived(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	p, ok := payload.(jobs.WebhookReceivedPayload)
	if !ok {
		return fmt.Errorf("handlers: unexpected payload type %T for webhook-received", payload)
	}
	if !d.Config.Toggles().Webhooks {
		logJob(job, "webhooks disabled, dropping webhook-received job")
		return nil
	}
	if p.Movie == nil {
		logJob(job, "webhook carried no movie payload, nothing to do")
		return nil
	}

	lib, err := d.Repo.ResolveLibraryForPath(p.Movie.FolderPath)
	if err != nil {
		return fmt.Errorf("resolve library for %s: %w", p.Movie.FolderPath, err)
	}
	if !lib.Enabled || !lib.AutoScan {
		logJob(job, "library scanning disabled, dropping webhook-received job")
		return nil
	}

	entity, created, err := d.upsertMovieEntity(lib.ID, p.Movie.FolderPath, p.Movie.Title, p.Movie.Year, entities.ExternalIDs{
		TMDBID: p.Movie.TMDBID,
		IMDBID: p.Movie.IMDBID,
	})
	if err != nil {
		return err
	}

	if err := d.continueAfterScan(lib, entity); err != nil {
		return err
	}
	action := events.ActionUpdated
	if created {
		action = events.ActionAdded
	}
	d.broadcast(events.TypeMoviesChanged, events.MoviesChanged{EntityID: entity.ID, Action: action})
	return nil
}

// handleScanMovie and directory-scan share a handler: both payloads carry
// only a library and a directory, and both derive identity from the
// directory name plus whatever NFO files already live there.
func (d Deps) handleScanMovie(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	var libraryID int64
	var path string
	switch p := payload.(type) {
	case jobs.ScanMoviePayload:
		libraryID, path = p.LibraryID, p.Path
	case jobs.DirectoryScanPayload:
		libraryID, path = p.LibraryID, p.Path
	default:
		return fmt.Errorf("handlers: unexpected payload type %T for scan-movie/directory-scan", payload)
	}

	lib, err := d.Repo.GetLibrary(libraryID)
	if err != nil {
		return fmt.Errorf("get library %d: %w", libraryID, err)
	}
	if !lib.Enabled || !lib.AutoScan {
		logJob(job, "library scanning disabled, dropping scan job")
		return nil
	}

	title, year := deriveTitleYear(filepath.Base(path))
	entity, created, err := d.upsertMovieEntity(libraryID, path, title, year, entities.ExternalIDs{})
	if err != nil {
		return err
	}

	if err := d.continueAfterScan(lib, entity); err != nil {
		return err
	}
	action := events.ActionUpdated
	if created {
		action = events.ActionAdded
	}
	d.broadcast(events.TypeMoviesChanged, events.MoviesChanged{EntityID: entity.ID, Action: action})
	return nil
}

// upsertMovieEntity finds or creates the movie entity for path, sets its
// media file and content hash if a video file is present, and merges in
// any on-disk NFO metadata — including director/writer
// credits, which no provider client in this engine's stack supplies
// (see DESIGN.md "internal/enrichment" entry).
func (d Deps) upsertMovieEntity(libraryID int64, path, title string, year int, seed entities.ExternalIDs) (*entities.Entity, bool, error) {
	entity, err := d.Repo.GetEntityByPath(path)
	created := false
	if errors.Is(err, sql.ErrNoRows) {
		entity = &entities.Entity{
			Kind:               entities.KindMovie,
			LibraryID:          libraryID,
			Title:              title,
			Year:               year,
			Monitored:          true,
			IdentificationStat: entities.StatusDiscovered,
			DirectoryPath:      path,
			ExternalIDs:        seed,
		}
		created = true
	} else if err != nil {
		return nil, false, fmt.Errorf("lookup entity by path %s: %w", path, err)
	}

	if videoPath, verr := findVideoFile(path); verr == nil && videoPath != "" {
		entity.MediaFilePath = videoPath
	}
	if seed.TMDBID != 0 {
		entity.ExternalIDs.TMDBID = seed.TMDBID
	}
	if seed.IMDBID != "" {
		entity.ExternalIDs.IMDBID = seed.IMDBID
	}

	if created {
		id, err := d.Repo.InsertEntity(entity)
		if err != nil {
			return nil, false, fmt.Errorf("insert entity for %s: %w", path, err)
		}
		entity.ID = id
	}

	videoBasename := ""
	if entity.MediaFilePath != "" {
		videoBasename = strings.TrimSuffix(filepath.Base(entity.MediaFilePath), filepath.Ext(entity.MediaFilePath))
	}
	if result, nerr := nfo.ParseDirectory(path, videoBasename); nerr == nil && result.Status == nfo.StatusValid {
		d.mergeNFOMetadata(entity, result.Metadata)
	}

	if !created {
		if err := d.Repo.UpdateEntity(entity); err != nil {
			return nil, false, fmt.Errorf("update entity %d: %w", entity.ID, err)
		}
	} else if entity.ExternalIDs.TMDBID != 0 || entity.ExternalIDs.IMDBID != "" {
		entity.IdentificationStat = entities.StatusIdentified
		if err := d.Repo.UpdateEntity(entity); err != nil {
			return nil, false, fmt.Errorf("update entity %d after identification: %w", entity.ID, err)
		}
	}

	return entity, created, nil
}

// mergeNFOMetadata copies scalar fields, taxonomies and ratings parsed
// from an on-disk NFO into entity and persists the taxonomy tables.
// Locked fields (entities.Lock) are left untouched.
func (d Deps) mergeNFOMetadata(e *entities.Entity, m nfo.Metadata) {
	if !e.Locks.Title && m.Title != "" {
		e.Title = m.Title
	}
	if m.OriginalTitle != "" {
		e.OriginalTitle = m.OriginalTitle
	}
	if !e.Locks.Plot && m.Plot != "" {
		e.Plot = m.Plot
	}
	if !e.Locks.Tagline && m.Tagline != "" {
		e.Tagline = m.Tagline
	}
	if !e.Locks.Year && m.Year != 0 {
		e.Year = m.Year
	}
	if !e.Locks.Studio && m.Studio != "" {
		e.Studio = m.Studio
	}
	if m.ExternalIDs.TMDBID != 0 {
		e.ExternalIDs.TMDBID = m.ExternalIDs.TMDBID
	}
	if m.ExternalIDs.IMDBID != "" {
		e.ExternalIDs.IMDBID = m.ExternalIDs.IMDBID
	}
	if m.ExternalIDs.TVDBID != 0 {
		e.ExternalIDs.TVDBID = m.ExternalIDs.TVDBID
	}

	if len(m.Genres) > 0 {
		if err := d.Repo.ReplaceGenres(e.ID, m.Genres); err != nil {
			logErr(err, "replace genres from nfo")
		}
	}
	if len(m.Studios) > 0 {
		if err := d.Repo.ReplaceStudios(e.ID, m.Studios); err != nil {
			logErr(err, "replace studios from nfo")
		}
	}
	if len(m.Countries) > 0 {
		if err := d.Repo.ReplaceCountries(e.ID, m.Countries); err != nil {
			logErr(err, "replace countries from nfo")
		}
	}
	if len(m.Tags) > 0 {
		if err := d.Repo.ReplaceTags(e.ID, m.Tags); err != nil {
			logErr(err, "replace tags from nfo")
		}
	}
	if len(m.Directors) > 0 {
		if err := d.Repo.ReplaceDirectors(e.ID, m.Directors); err != nil {
			logErr(err, "replace directors from nfo")
		}
	}
	if len(m.Writers) > 0 {
		if err := d.Repo.ReplaceWriters(e.ID, m.Writers); err != nil {
			logErr(err, "replace writers from nfo")
		}
	}
	if len(m.Ratings) > 0 {
		if err := d.Repo.ReplaceRatings(e.ID, m.Ratings); err != nil {
			logErr(err, "replace ratings from nfo")
		}
	}
}

// continueAfterScan enqueues discover-assets without checking any flag
// itself: both callers (the scan handler and the webhook path) have
// already checked the library's enabled and auto-scan flags.
func (d Deps) continueAfterScan(lib *entities.Library, entity *entities.Entity) error {
	return d.enqueue(jobs.TypeDiscoverAssets, jobs.PriorityNormal,
		jobs.NewDiscoverAssetsPayload(jobs.EntityJobPayload{
			Chain:    jobs.ChainContext{Source: "scan"},
			EntityID: entity.ID,
		}), 0)
}

// handleLibraryScan walks one library root one level deep, enqueueing a
// directory-scan per immediate subdirectory. Deeper layouts (season
// folders, extras) are each job's own concern once dispatched.
func (d Deps) handleLibraryScan(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	p, ok := payload.(jobs.LibraryScanPayload)
	if !ok {
		return fmt.Errorf("handlers: unexpected payload type %T for library-scan", payload)
	}
	lib, err := d.Repo.GetLibrary(p.LibraryID)
	if err != nil {
		return fmt.Errorf("get library %d: %w", p.LibraryID, err)
	}
	if !lib.Enabled || !lib.AutoScan {
		logJob(job, "library scanning disabled, dropping library-scan job")
		return nil
	}

	entriesList, err := os.ReadDir(lib.RootPath)
	if err != nil {
		return fmt.Errorf("read library root %s: %w", lib.RootPath, err)
	}

	enqueued := 0
	for _, e := range entriesList {
		if !e.IsDir() {
			continue
		}
		err := d.enqueue(jobs.TypeDirectoryScan, jobs.PriorityLow, jobs.DirectoryScanPayload{
			Chain:     jobs.ChainContext{Source: "scan"},
			LibraryID: lib.ID,
			Path:      filepath.Join(lib.RootPath, e.Name()),
		}, job.ID)
		if err != nil {
			logErr(err, "enqueue directory-scan")
			continue
		}
		enqueued++
	}
	logJob(job, fmt.Sprintf("library-scan enqueued %d directory-scan jobs", enqueued))
	return nil
}

func logErr(err error, msg string) {
	if err == nil {
		return
	}
	log.Error().Err(err).Msg(msg)
}
