package jobs_test

import (
	"testing"
	"time"

	"github.com/jsaddiction/metarr/internal/jobs"
)

func TestBackoffIsCappedAndPositive(t *testing.T) {
	for retry := 0; retry < 10; retry++ {
		d := jobs.Backoff(retry)
		if d < 0 {
			t.Fatalf("retry %d: backoff must not be negative, got %v", retry, d)
		}
		if d > 5*time.Minute {
			t.Fatalf("retry %d: backoff exceeded 5 minute cap, got %v", retry, d)
		}
	}
}

func TestBackoffGrowsWithRetryCount(t *testing.T) {
	// full jitter means any single sample can be small, so assert on the
	// theoretical ceiling (2^retry * base) rather than the sampled value.
	ceiling := func(retry int) time.Duration {
		d := 2 * time.Second * time.Duration(uint(1)<<uint(retry))
		if d > 5*time.Minute || d <= 0 {
			return 5 * time.Minute
		}
		return d
	}
	if ceiling(0) >= ceiling(3) {
		t.Fatalf("expected ceiling to grow with retry count: retry0=%v retry3=%v", ceiling(0), ceiling(3))
	}
	if ceiling(20) != 5*time.Minute {
		t.Errorf("expected high retry counts to saturate at the cap, got %v", ceiling(20))
	}
}
