// Package jobs implements the durable priority job queue and the worker
// pool/handler-registry machinery that drives the engine's chained
// workflows.
package jobs

import "time"

// Type is the closed set of job types the engine knows how to dispatch.
// Identifiers carry no semantics beyond this list; new work is always one
// of these.
type Type string

const (
	TypeWebhookReceived         Type = "webhook-received"
	TypeScanMovie               Type = "scan-movie"
	TypeDiscoverAssets          Type = "discover-assets"
	TypeFetchProviderAssets     Type = "fetch-provider-assets"
	TypeEnrichMetadata          Type = "enrich-metadata"
	TypeSelectAssets            Type = "select-assets"
	TypePublish                 Type = "publish"
	TypeVerifyMovie             Type = "verify-movie"
	TypeLibraryScan             Type = "library-scan"
	TypeDirectoryScan           Type = "directory-scan"
	TypeCacheAsset              Type = "cache-asset"
	TypeNotifyKodi              Type = "notify-kodi"
	TypeNotifyJellyfin          Type = "notify-jellyfin"
	TypeNotifyPlex              Type = "notify-plex"
	TypeNotifyDiscord           Type = "notify-discord"
	TypeNotifyPushover          Type = "notify-pushover"
	TypeNotifyEmail             Type = "notify-email"
	TypeScheduledFileScan       Type = "scheduled-file-scan"
	TypeScheduledProviderUpdate Type = "scheduled-provider-update"
	TypeScheduledCleanup        Type = "scheduled-cleanup"
)

// Priority levels. 1 is reserved for future use; lower values run first.
const (
	PriorityReserved = 1
	PriorityHigh     = 3
	PriorityNormal   = 5
	PriorityLow      = 7
	PriorityScheduled = 8
)

// State is a job's lifecycle state. Transitions are monotonic: once
// completed or permanently failed, a job never changes state again.
type State string

const (
	StatePending    State = "pending"
	StateClaimed    State = "claimed"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateRetrying   State = "retrying"
	StateCancelled  State = "cancelled"
)

// Job is one row of the durable queue.
type Job struct {
	ID          int64
	Type        Type
	Priority    int
	Payload     string // JSON-encoded Payload variant, see payload.go
	State       State
	RetryCount  int
	MaxRetries  int
	ScheduledAt time.Time
	ClaimedAt   *time.Time
	ClaimedBy   string
	CompletedAt *time.Time
	LastError   string
	ParentJobID int64
	CreatedAt   time.Time
}

// Spec is the input to Insert: the caller-supplied fields of a new job.
type Spec struct {
	Type        Type
	Priority    int // 0 means PriorityNormal
	Payload     Payload
	ScheduledAt time.Time // zero means now
	MaxRetries  int       // 0 means DefaultMaxRetries
	ParentJobID int64
}

// DefaultMaxRetries is used when a Spec doesn't set one.
const DefaultMaxRetries = 3

// AgePolicy controls Cleanup's retention window per terminal state.
type AgePolicy struct {
	CompletedAfter time.Duration
	FailedAfter    time.Duration
}

// DefaultAgePolicy retains completed jobs for 30 days and failed jobs for
// 90 days before they're eligible for pruning.
func DefaultAgePolicy() AgePolicy {
	return AgePolicy{
		CompletedAfter: 30 * 24 * time.Hour,
		FailedAfter:    90 * 24 * time.Hour,
	}
}
