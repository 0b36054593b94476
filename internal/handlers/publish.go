package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/assets"
	"github.com/jsaddiction/metarr/internal/entities"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/jobs"
	"github.com/jsaddiction/metarr/internal/nfo"
)

// handlePublish assembles a nfo.Document from the entity and its related
// tables and writes it to the canonical path, then chains
// into verify-movie and a notify job per enabled player/service.
func (d Deps) handlePublish(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	inner, ok := jobs.EntityPayloadOf(payload)
	if !ok {
		return fmt.Errorf("handlers: unexpected payload type %T for publish", payload)
	}

	entity, err := d.Repo.GetEntity(inner.EntityID)
	if err != nil {
		return fmt.Errorf("get entity %d: %w", inner.EntityID, err)
	}
	lib, err := d.Repo.GetLibrary(entity.LibraryID)
	if err != nil {
		return fmt.Errorf("get library %d: %w", entity.LibraryID, err)
	}
	if !lib.Enabled {
		logJob(job, "library disabled, dropping publish job")
		return nil
	}

	doc, err := d.buildDocument(entity)
	if err != nil {
		return fmt.Errorf("build nfo document for entity %d: %w", entity.ID, err)
	}
	data, err := nfo.Write(doc)
	if err != nil {
		return fmt.Errorf("write nfo for entity %d: %w", entity.ID, err)
	}
	d.cacheNFO(entity, data)

	d.broadcast(events.TypeEntityPublished, map[string]interface{}{"entityId": entity.ID, "title": entity.Title})

	if err := d.enqueue(jobs.TypeVerifyMovie, jobs.PriorityNormal,
		jobs.NewVerifyMoviePayload(jobs.EntityJobPayload{
			Chain:    jobs.ChainContext{Source: "publish"},
			EntityID: entity.ID,
		}), job.ID); err != nil {
		return err
	}

	return d.notifyAll(entity, lib)
}

func (d Deps) buildDocument(e *entities.Entity) (nfo.Document, error) {
	cast, err := d.Repo.GetCast(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	actors := make(map[int64]entities.Actor, len(cast))
	for _, link := range cast {
		a, err := d.Repo.GetActor(link.ActorID)
		if err != nil {
			continue
		}
		actors[a.ID] = *a
	}

	genres, err := d.Repo.GetGenres(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	studios, err := d.Repo.GetStudios(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	countries, err := d.Repo.GetCountries(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	tags, err := d.Repo.GetTags(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	directors, err := d.Repo.GetDirectors(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	writers, err := d.Repo.GetWriters(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	ratings, err := d.Repo.GetRatings(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}
	collection, err := d.Repo.GetCollection(e.ID)
	if err != nil {
		return nfo.Document{}, err
	}

	return nfo.Document{
		Entity:     e,
		Cast:       cast,
		Actors:     actors,
		Studios:    studios,
		Countries:  countries,
		Tags:       tags,
		Genres:     genres,
		Directors:  directors,
		Writers:    writers,
		Ratings:    ratings,
		Collection: collection,
	}, nil
}

// notifyAll enqueues a notify-<name> job for every notifier the
// configuration enables, dirtying the entity's directory so each player
// rescans only what changed.
func (d Deps) notifyAll(e *entities.Entity, lib *entities.Library) error {
	for _, name := range d.Config.EnabledNotifiers() {
		typ, ok := notifyTypeForName(name)
		if !ok {
			continue
		}
		np, err := jobs.NewNotifyPayload(typ, jobs.NotifyPayload{
			Chain:     jobs.ChainContext{Source: "publish"},
			EntityID:  e.ID,
			LibraryID: lib.ID,
			DirtyPath: e.DirectoryPath,
		})
		if err != nil {
			logErr(err, "build notify payload")
			continue
		}
		if err := d.enqueue(typ, jobs.PriorityNormal, np, 0); err != nil {
			logErr(err, "enqueue notify job")
		}
	}
	return nil
}

// cacheNFO mirrors a just-written NFO file into the cache registry, so the
// verifier can restore it from cache the same way it restores artwork.
// Best-effort: a failure here never fails the publish job, since the
// library copy (the one that actually matters to players) is already on
// disk.
func (d Deps) cacheNFO(e *entities.Entity, data []byte) {
	if d.CacheFiles == nil || d.CacheFS == nil {
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := d.CacheFiles.ListByEntity(e.ID)
	if err != nil {
		log.Warn().Err(err).Int64("entityId", e.ID).Msg("failed to list cache files before caching nfo")
	}
	for _, f := range existing {
		if f.AssetType != assets.TypeNFO || f.ContentHash == hash {
			continue
		}
		if err := d.CacheFS.Remove(f.FilePath); err != nil {
			log.Warn().Err(err).Str("path", f.FilePath).Msg("failed to remove superseded nfo cache file")
		}
		if err := d.CacheFiles.Delete(f.ID); err != nil {
			log.Warn().Err(err).Int64("cacheFileId", f.ID).Msg("failed to delete superseded nfo cache file row")
		}
	}

	path := d.CacheFS.CanonicalPath(d.Config.CacheRoot(), assets.TypeNFO, hash, ".nfo")
	if err := d.CacheFS.Write(path, data); err != nil {
		log.Warn().Err(err).Int64("entityId", e.ID).Msg("failed to cache nfo file")
		return
	}
	if _, err := d.CacheFiles.Insert(&assets.CacheFile{
		EntityKind:  string(e.Kind),
		EntityID:    e.ID,
		AssetType:   assets.TypeNFO,
		FilePath:    path,
		FileSize:    int64(len(data)),
		ContentHash: hash,
		Source:      assets.SourceLocal,
	}); err != nil {
		log.Warn().Err(err).Int64("entityId", e.ID).Msg("failed to record cached nfo file")
	}
}

func notifyTypeForName(name string) (jobs.Type, bool) {
	switch name {
	case "kodi":
		return jobs.TypeNotifyKodi, true
	case "jellyfin":
		return jobs.TypeNotifyJellyfin, true
	case "plex":
		return jobs.TypeNotifyPlex, true
	case "discord":
		return jobs.TypeNotifyDiscord, true
	case "pushover":
		return jobs.TypeNotifyPushover, true
	case "email":
		return jobs.TypeNotifyEmail, true
	default:
		return "", false
	}
}
