package handlers

import (
	"context"
	"fmt"

	"github.com/jsaddiction/metarr/internal/jobs"
	"github.com/jsaddiction/metarr/internal/notify"
)

// handleNotify returns a handler that forwards a notify-<name> job to the
// matching wired client (internal/notify/kodi, internal/notify/discord).
// Dispatched for a name with no client wired, it fails the job loudly
// rather than silently dropping a player-scan request a user is counting
// on, so it surfaces through retries and the job history.
func (d Deps) handleNotify(name string) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
		np, ok := jobs.NotifyPayloadOf(payload)
		if !ok {
			return fmt.Errorf("handlers: unexpected payload type %T for notify-%s", payload, name)
		}
		client, ok := d.Notifiers[name]
		if !ok || client == nil {
			return fmt.Errorf("handlers: no %s notifier configured", name)
		}
		if err := client.Notify(ctx, notify.Event{
			EntityID:  np.EntityID,
			LibraryID: np.LibraryID,
			DirtyPath: np.DirtyPath,
		}); err != nil {
			return fmt.Errorf("notify %s: %w", name, err)
		}
		return nil
	}
}

// handleNotifyUnimplemented returns a handler for a notify job type this
// engine has no concrete client for (jellyfin, plex, pushover, email).
// It logs the intended notification and completes rather than retrying
// forever against a client that will never exist.
func (d Deps) handleNotifyUnimplemented(name string) jobs.Handler {
	return func(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
		logJob(job, fmt.Sprintf("no %s notifier implemented, skipping", name))
		return nil
	}
}
