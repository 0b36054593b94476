package db_test

import (
	"testing"

	"github.com/jsaddiction/metarr/internal/db"
)

func TestBulkRunStoreLifecycle(t *testing.T) {
	d := openTestDB(t)
	store := db.NewBulkRunStore(d)

	const runID = int64(12345)
	if err := store.Start(runID, 10); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.MarkProgress(runID, 4); err != nil {
		t.Fatalf("mark progress: %v", err)
	}
	if err := store.MarkComplete(runID, 10); err != nil {
		t.Fatalf("mark complete: %v", err)
	}

	var total, enqueued, processed, stopped int
	row := d.Conn().QueryRow(`SELECT total, enqueued, processed, stopped FROM bulk_runs WHERE id = ?`, runID)
	if err := row.Scan(&total, &enqueued, &processed, &stopped); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if total != 10 || enqueued != 10 || processed != 10 || stopped != 0 {
		t.Errorf("unexpected row state: total=%d enqueued=%d processed=%d stopped=%d", total, enqueued, processed, stopped)
	}
}

func TestBulkRunStoreMarkStopped(t *testing.T) {
	d := openTestDB(t)
	store := db.NewBulkRunStore(d)

	const runID = int64(6789)
	if err := store.Start(runID, 50); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.MarkProgress(runID, 20); err != nil {
		t.Fatalf("mark progress: %v", err)
	}
	if err := store.MarkStopped(runID, "provider rate limited"); err != nil {
		t.Fatalf("mark stopped: %v", err)
	}

	var stopped int
	var reason string
	row := d.Conn().QueryRow(`SELECT stopped, stop_reason FROM bulk_runs WHERE id = ?`, runID)
	if err := row.Scan(&stopped, &reason); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if stopped != 1 {
		t.Errorf("expected stopped=1, got %d", stopped)
	}
	if reason != "provider rate limited" {
		t.Errorf("expected stop reason recorded, got %q", reason)
	}

	// A second stop call must not clobber the first reason.
	if err := store.MarkStopped(runID, "a different reason"); err != nil {
		t.Fatalf("second mark stopped: %v", err)
	}
	row = d.Conn().QueryRow(`SELECT stop_reason FROM bulk_runs WHERE id = ?`, runID)
	if err := row.Scan(&reason); err != nil {
		t.Fatalf("scan after second stop: %v", err)
	}
	if reason != "provider rate limited" {
		t.Errorf("expected first stop reason to stick, got %q", reason)
	}
}
