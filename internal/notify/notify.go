// Package notify defines the Notifier contract the handler registry
// dispatches player-scan and alerting jobs through (notify-kodi,
// notify-jellyfin, notify-plex, notify-discord, notify-pushover,
// notify-email). Only Kodi (internal/notify/kodi) and Discord
// (internal/notify/discord) have concrete implementations; the other job
// types exist in the dispatch table but no player/service client for them
// is part of this engine's scope.
package notify

import "context"

// Event is what a handler hands to a Notifier: enough to tell a player
// which directory changed or a service what happened, without either side
// needing the entity row itself.
type Event struct {
	EntityID  int64
	LibraryID int64
	Title     string
	DirtyPath string // directory a player should rescan
	Message   string // human-readable summary for alerting notifiers
}

// Notifier is implemented once per external player/service. Handlers
// never know which concrete notifier they're calling; failures are
// logged and retried like any other job, never fatal to the chain.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}
