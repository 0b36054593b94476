package events_test

import (
	"testing"

	"github.com/jsaddiction/metarr/internal/events"
)

func TestNopBroadcasterDiscardsEverything(t *testing.T) {
	var b events.Broadcaster = events.NopBroadcaster{}
	// Neither call should panic; there is nothing to assert beyond that.
	b.Publish(events.TypeEnrichmentStarted, events.EnrichmentStarted{EntityID: 1})
	b.Broadcast(events.TypeBulkComplete, map[string]int{"enqueued": 3})
}

func TestSocketBroadcasterNilSafe(t *testing.T) {
	// A broadcaster wrapping no server (nil io) must not panic on publish;
	// pipeline/scheduler code constructs Deps before the socket server is
	// guaranteed to exist in some callers (e.g. handler unit tests).
	b := events.NewSocketBroadcaster(nil)
	var iface events.Broadcaster = b
	iface.Publish(events.TypeEnrichmentComplete, events.EnrichmentComplete{EntityID: 1})
	iface.Broadcast(events.TypeJobStatus, events.JobStatus{JobID: 1, Status: "completed"})
}

func TestNilSocketBroadcasterPointerIsSafe(t *testing.T) {
	var b *events.SocketBroadcaster
	var iface events.Broadcaster = b
	iface.Publish(events.TypeScanStatus, nil)
}
