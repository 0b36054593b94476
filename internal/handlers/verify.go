package handlers

import (
	"context"
	"fmt"

	"github.com/jsaddiction/metarr/internal/jobs"
)

// handleVerifyMovie reconciles an entity's on-disk directory against
// expectations and chains a re-publish (video replaced) or a player
// re-notify (assets restored/recycled).
func (d Deps) handleVerifyMovie(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	inner, ok := jobs.EntityPayloadOf(payload)
	if !ok {
		return fmt.Errorf("handlers: unexpected payload type %T for verify-movie", payload)
	}

	outcome, err := d.Verifier.Verify(ctx, inner.EntityID)
	if err != nil {
		return fmt.Errorf("verify entity %d: %w", inner.EntityID, err)
	}

	if outcome.VideoChanged {
		return d.enqueue(jobs.TypePublish, jobs.PriorityNormal,
			jobs.NewPublishPayload(jobs.EntityJobPayload{
				Chain:    jobs.ChainContext{Source: "verify"},
				EntityID: inner.EntityID,
			}), job.ID)
	}

	if outcome.AnyAssetChange() {
		entity, err := d.Repo.GetEntity(inner.EntityID)
		if err != nil {
			return fmt.Errorf("get entity %d: %w", inner.EntityID, err)
		}
		lib, err := d.Repo.GetLibrary(entity.LibraryID)
		if err != nil {
			return fmt.Errorf("get library %d: %w", entity.LibraryID, err)
		}
		return d.notifyAll(entity, lib)
	}

	return nil
}
