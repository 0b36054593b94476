package handlers

import (
	"context"
	"fmt"

	"github.com/jsaddiction/metarr/internal/jobs"
)

// handleScheduledFileScan fans a cron-dispatched file-scan marker job out
// into one library-scan job per enabled library, keeping the scheduler's
// own tick handler free of any database fan-out work (internal/scheduler).
func (d Deps) handleScheduledFileScan(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	libs, err := d.Repo.ListLibraries()
	if err != nil {
		return fmt.Errorf("list libraries: %w", err)
	}
	enqueued := 0
	for _, lib := range libs {
		if !lib.Enabled || !lib.AutoScan {
			continue
		}
		if err := d.enqueue(jobs.TypeLibraryScan, jobs.PriorityLow, jobs.LibraryScanPayload{
			Chain:     jobs.ChainContext{Source: "scheduler"},
			LibraryID: lib.ID,
		}, job.ID); err != nil {
			logErr(err, "enqueue library-scan")
			continue
		}
		enqueued++
	}
	logJob(job, fmt.Sprintf("scheduled-file-scan enqueued %d library-scan jobs", enqueued))
	return nil
}

func (d Deps) handleScheduledProviderUpdate(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	n, err := d.Scheduler.RunProviderUpdateNow()
	if err != nil {
		return fmt.Errorf("scheduled provider update: %w", err)
	}
	logJob(job, fmt.Sprintf("scheduled-provider-update enqueued %d enrich-metadata jobs", n))
	return nil
}

func (d Deps) handleScheduledCleanup(ctx context.Context, job *jobs.Job, payload jobs.Payload) error {
	deletedJobs, deletedFiles, err := d.Scheduler.RunCleanupNow()
	if err != nil {
		return fmt.Errorf("scheduled cleanup: %w", err)
	}
	logJob(job, fmt.Sprintf("scheduled-cleanup removed %d job rows and %d orphan files", deletedJobs, deletedFiles))
	return nil
}
