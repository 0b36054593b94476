package jobs

import (
	"encoding/json"
	"fmt"
)

// ChainContext travels inside every payload for traceability: where the
// chain originated and what upstream identifiers produced it. There is no
// implicit state shared across jobs: everything a downstream handler
// needs rides along in this struct.
type ChainContext struct {
	Source       string `json:"source,omitempty"` // "webhook" | "api" | "scan" | "scheduler" | "bulk" | "enrich" | "publish" | "verify"
	WebhookEvent string `json:"webhookEvent,omitempty"`
	TraceID      string `json:"traceId,omitempty"` // set at the webhook and API entry points; follow-up jobs enqueued by handlers start a fresh ChainContext without it
}

// Payload is implemented by every job-type-specific payload variant. There
// is no reflection-based dispatch: Kind() identifies the variant so the
// registry can decode into the matching concrete type before a handler ever
// sees it (payload decode failures are rejected as Validation errors at
// claim time).
type Payload interface {
	Kind() Type
}

// WebhookReceivedPayload carries a normalized Radarr/Sonarr/Lidarr webhook.
type WebhookReceivedPayload struct {
	Chain     ChainContext `json:"chain"`
	Source    string       `json:"source"` // radarr | sonarr | lidarr
	EventType string       `json:"eventType"`
	Movie     *WebhookMovie  `json:"movie,omitempty"`
	Series    *WebhookSeries `json:"series,omitempty"`
	Episodes  []WebhookEpisode `json:"episodes,omitempty"`
}

func (WebhookReceivedPayload) Kind() Type { return TypeWebhookReceived }

type WebhookMovie struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Year       int    `json:"year"`
	Path       string `json:"path"`
	FolderPath string `json:"folderPath"`
	TMDBID     int64  `json:"tmdbId"`
	IMDBID     string `json:"imdbId"`
}

type WebhookSeries struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	TVDBID int64  `json:"tvdbId"`
	Path   string `json:"path"`
}

type WebhookEpisode struct {
	ID            int64  `json:"id"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Path          string `json:"path"`
}

// ScanMoviePayload scans one movie directory, creating or updating an entity.
type ScanMoviePayload struct {
	Chain     ChainContext `json:"chain"`
	LibraryID int64        `json:"libraryId"`
	Path      string       `json:"path"`
}

func (ScanMoviePayload) Kind() Type { return TypeScanMovie }

// EntityJobPayload is the common shape for the bulk of single-entity chain
// steps (discover-assets, fetch-provider-assets, enrich-metadata,
// select-assets, publish, verify-movie).
type EntityJobPayload struct {
	Chain           ChainContext `json:"chain"`
	EntityID        int64        `json:"entityId"`
	ForceRefresh    bool         `json:"forceRefresh,omitempty"`
	RequireComplete bool         `json:"requireComplete,omitempty"` // bulk-run marker
	BulkRunID       int64        `json:"bulkRunId,omitempty"`
}

type discoverAssetsPayload struct{ EntityJobPayload }
type fetchProviderAssetsPayload struct{ EntityJobPayload }
type enrichMetadataPayload struct{ EntityJobPayload }
type selectAssetsPayload struct{ EntityJobPayload }
type publishPayload struct{ EntityJobPayload }
type verifyMoviePayload struct{ EntityJobPayload }

func (discoverAssetsPayload) Kind() Type      { return TypeDiscoverAssets }
func (fetchProviderAssetsPayload) Kind() Type { return TypeFetchProviderAssets }
func (enrichMetadataPayload) Kind() Type      { return TypeEnrichMetadata }
func (selectAssetsPayload) Kind() Type        { return TypeSelectAssets }
func (publishPayload) Kind() Type             { return TypePublish }
func (verifyMoviePayload) Kind() Type         { return TypeVerifyMovie }

// NewDiscoverAssetsPayload, etc. wrap EntityJobPayload for each variant.
func NewDiscoverAssetsPayload(p EntityJobPayload) Payload      { return discoverAssetsPayload{p} }
func NewFetchProviderAssetsPayload(p EntityJobPayload) Payload { return fetchProviderAssetsPayload{p} }
func NewEnrichMetadataPayload(p EntityJobPayload) Payload      { return enrichMetadataPayload{p} }
func NewSelectAssetsPayload(p EntityJobPayload) Payload        { return selectAssetsPayload{p} }
func NewPublishPayload(p EntityJobPayload) Payload             { return publishPayload{p} }
func NewVerifyMoviePayload(p EntityJobPayload) Payload         { return verifyMoviePayload{p} }

// LibraryScanPayload scans an entire library root for new/changed directories.
type LibraryScanPayload struct {
	Chain     ChainContext `json:"chain"`
	LibraryID int64        `json:"libraryId"`
}

func (LibraryScanPayload) Kind() Type { return TypeLibraryScan }

// DirectoryScanPayload scans one directory within a library (enqueued by
// library-scan, one per immediate subdirectory of the library root).
type DirectoryScanPayload struct {
	Chain     ChainContext `json:"chain"`
	LibraryID int64        `json:"libraryId"`
	Path      string       `json:"path"`
}

func (DirectoryScanPayload) Kind() Type { return TypeDirectoryScan }

// CacheAssetPayload downloads and materializes a single accepted candidate.
type CacheAssetPayload struct {
	Chain       ChainContext `json:"chain"`
	EntityID    int64        `json:"entityId"`
	AssetType   string       `json:"assetType"`
	CandidateID int64        `json:"candidateId"`
}

func (CacheAssetPayload) Kind() Type { return TypeCacheAsset }

// NotifyPayload is shared by every notify-<player/notifier> job type.
type NotifyPayload struct {
	Chain      ChainContext `json:"chain"`
	EntityID   int64        `json:"entityId"`
	LibraryID  int64        `json:"libraryId"`
	DirtyPath  string       `json:"dirtyPath"`
}

type notifyKodiPayload struct{ NotifyPayload }
type notifyJellyfinPayload struct{ NotifyPayload }
type notifyPlexPayload struct{ NotifyPayload }
type notifyDiscordPayload struct{ NotifyPayload }
type notifyPushoverPayload struct{ NotifyPayload }
type notifyEmailPayload struct{ NotifyPayload }

func (notifyKodiPayload) Kind() Type      { return TypeNotifyKodi }
func (notifyJellyfinPayload) Kind() Type  { return TypeNotifyJellyfin }
func (notifyPlexPayload) Kind() Type      { return TypeNotifyPlex }
func (notifyDiscordPayload) Kind() Type   { return TypeNotifyDiscord }
func (notifyPushoverPayload) Kind() Type  { return TypeNotifyPushover }
func (notifyEmailPayload) Kind() Type     { return TypeNotifyEmail }

func NewNotifyPayload(typ Type, p NotifyPayload) (Payload, error) {
	switch typ {
	case TypeNotifyKodi:
		return notifyKodiPayload{p}, nil
	case TypeNotifyJellyfin:
		return notifyJellyfinPayload{p}, nil
	case TypeNotifyPlex:
		return notifyPlexPayload{p}, nil
	case TypeNotifyDiscord:
		return notifyDiscordPayload{p}, nil
	case TypeNotifyPushover:
		return notifyPushoverPayload{p}, nil
	case TypeNotifyEmail:
		return notifyEmailPayload{p}, nil
	default:
		return nil, fmt.Errorf("jobs: %q is not a notify job type", typ)
	}
}

// ScheduledPayload is shared by the three scheduler-created job types; each
// carries only a chain context since the handler recomputes its own target
// set at dispatch time.
type ScheduledPayload struct {
	Chain ChainContext `json:"chain"`
}

type scheduledFileScanPayload struct{ ScheduledPayload }
type scheduledProviderUpdatePayload struct{ ScheduledPayload }
type scheduledCleanupPayload struct{ ScheduledPayload }

func (scheduledFileScanPayload) Kind() Type       { return TypeScheduledFileScan }
func (scheduledProviderUpdatePayload) Kind() Type { return TypeScheduledProviderUpdate }
func (scheduledCleanupPayload) Kind() Type        { return TypeScheduledCleanup }

func NewScheduledPayload(typ Type) (Payload, error) {
	p := ScheduledPayload{}
	switch typ {
	case TypeScheduledFileScan:
		return scheduledFileScanPayload{p}, nil
	case TypeScheduledProviderUpdate:
		return scheduledProviderUpdatePayload{p}, nil
	case TypeScheduledCleanup:
		return scheduledCleanupPayload{p}, nil
	default:
		return nil, fmt.Errorf("jobs: %q is not a scheduled job type", typ)
	}
}

// EncodePayload marshals a typed Payload to the opaque JSON blob stored on
// the job row.
func EncodePayload(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload unmarshals the stored JSON blob into the concrete variant
// for typ. An unrecognized type or malformed JSON is a decode failure the
// caller must treat as a Validation error before the handler ever runs.
func DecodePayload(typ Type, raw string) (Payload, error) {
	switch typ {
	case TypeWebhookReceived:
		var p WebhookReceivedPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeScanMovie:
		var p ScanMoviePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeDiscoverAssets, TypeFetchProviderAssets, TypeEnrichMetadata, TypeSelectAssets, TypePublish, TypeVerifyMovie:
		var inner EntityJobPayload
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil, err
		}
		return wrapEntityPayload(typ, inner)
	case TypeLibraryScan:
		var p LibraryScanPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeDirectoryScan:
		var p DirectoryScanPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeCacheAsset:
		var p CacheAssetPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeNotifyKodi, TypeNotifyJellyfin, TypeNotifyPlex, TypeNotifyDiscord, TypeNotifyPushover, TypeNotifyEmail:
		var p NotifyPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, err
		}
		return NewNotifyPayload(typ, p)
	case TypeScheduledFileScan, TypeScheduledProviderUpdate, TypeScheduledCleanup:
		return NewScheduledPayload(typ)
	default:
		return nil, fmt.Errorf("jobs: unrecognized job type %q", typ)
	}
}

// EntityPayloadOf extracts the common EntityJobPayload out of any of the
// discover-assets/fetch-provider-assets/enrich-metadata/select-assets/
// publish/verify-movie payload variants. ok is false for any other Payload.
func EntityPayloadOf(p Payload) (EntityJobPayload, bool) {
	switch v := p.(type) {
	case discoverAssetsPayload:
		return v.EntityJobPayload, true
	case fetchProviderAssetsPayload:
		return v.EntityJobPayload, true
	case enrichMetadataPayload:
		return v.EntityJobPayload, true
	case selectAssetsPayload:
		return v.EntityJobPayload, true
	case publishPayload:
		return v.EntityJobPayload, true
	case verifyMoviePayload:
		return v.EntityJobPayload, true
	default:
		return EntityJobPayload{}, false
	}
}

// NotifyPayloadOf extracts the common NotifyPayload out of any of the
// notify-<player/service> payload variants. ok is false for any other
// Payload.
func NotifyPayloadOf(p Payload) (NotifyPayload, bool) {
	switch v := p.(type) {
	case notifyKodiPayload:
		return v.NotifyPayload, true
	case notifyJellyfinPayload:
		return v.NotifyPayload, true
	case notifyPlexPayload:
		return v.NotifyPayload, true
	case notifyDiscordPayload:
		return v.NotifyPayload, true
	case notifyPushoverPayload:
		return v.NotifyPayload, true
	case notifyEmailPayload:
		return v.NotifyPayload, true
	default:
		return NotifyPayload{}, false
	}
}

// wrapEntityPayload re-wraps a decoded EntityJobPayload into its concrete
// variant keyed by job type, avoiding reflection.
func wrapEntityPayload(typ Type, inner EntityJobPayload) (Payload, error) {
	switch typ {
	case TypeDiscoverAssets:
		return discoverAssetsPayload{inner}, nil
	case TypeFetchProviderAssets:
		return fetchProviderAssetsPayload{inner}, nil
	case TypeEnrichMetadata:
		return enrichMetadataPayload{inner}, nil
	case TypeSelectAssets:
		return selectAssetsPayload{inner}, nil
	case TypePublish:
		return publishPayload{inner}, nil
	case TypeVerifyMovie:
		return verifyMoviePayload{inner}, nil
	default:
		return nil, fmt.Errorf("jobs: no entity payload wrapper for %q", typ)
	}
}
