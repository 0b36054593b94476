// Package events defines the real-time event types the engine pushes to
// subscribers and the Broadcaster contract that decouples every producer
// (pipeline, scheduler, job pool) from whether anyone is listening.
package events

import "time"

// Type is one of the closed set of event names.
type Type string

const (
	TypeEnrichmentStarted      Type = "enrichment.started"
	TypeEnrichmentPhaseComplete Type = "enrichment.phase.complete"
	TypeEnrichmentComplete     Type = "enrichment.complete"
	TypeEnrichmentFailed       Type = "enrichment.failed"
	TypeBulkProgress           Type = "bulk.progress"
	TypeBulkRateLimit          Type = "bulk.rate_limit"
	TypeBulkComplete           Type = "bulk.complete"
	TypeScanStatus             Type = "scanStatus"
	TypeMoviesChanged          Type = "moviesChanged"
	TypeLibraryChanged         Type = "libraryChanged"
	TypeJobStatus              Type = "jobStatus"
	TypeJobQueueStats          Type = "jobQueueStats"
	TypePlayerStatus           Type = "playerStatus"
	TypeProviderScrape         Type = "providerScrape"
	TypeEntityPublished        Type = "entity.published"
)

// ChangeAction is moviesChanged's action field.
type ChangeAction string

const (
	ActionAdded   ChangeAction = "added"
	ActionUpdated ChangeAction = "updated"
	ActionDeleted ChangeAction = "deleted"
)

// Envelope wraps every published payload with the type/timestamp fields
// every message requires.
type Envelope struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// EnrichmentStarted is published at phase 1's start.
type EnrichmentStarted struct {
	EntityID int64  `json:"entityId"`
	Title    string `json:"title"`
}

// EnrichmentPhaseComplete reports one pipeline phase's outcome.
type EnrichmentPhaseComplete struct {
	EntityID int64          `json:"entityId"`
	Phase    int            `json:"phase"`
	Counts   map[string]int `json:"counts"`
}

// EnrichmentComplete is published once phase 5(/5C) finishes.
type EnrichmentComplete struct {
	EntityID int64 `json:"entityId"`
}

// EnrichmentFailed is published when a pipeline phase aborts the job.
type EnrichmentFailed struct {
	EntityID int64  `json:"entityId"`
	Error    string `json:"error"`
}

// MoviesChanged announces an entity-level mutation to library browsers.
type MoviesChanged struct {
	EntityID int64        `json:"entityId"`
	Action   ChangeAction `json:"action"`
}

// JobStatus mirrors a job's terminal or transitional state.
type JobStatus struct {
	JobID  int64  `json:"jobId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Broadcaster is publish-only, write-only to the subscription layer: the
// core must not depend on subscribers being present. SocketBroadcaster
// provides the wired Socket.IO
// implementation; pipeline/scheduler/handlers code only ever sees this
// interface.
type Broadcaster interface {
	Publish(typ Type, data interface{})
	Broadcast(typ Type, data interface{})
}

// NopBroadcaster discards everything; used where no subscriber layer is
// wired (tests, one-off CLI commands).
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(Type, interface{})   {}
func (NopBroadcaster) Broadcast(Type, interface{}) {}
