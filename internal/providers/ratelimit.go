package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jsaddiction/metarr/internal/errs"
)

// rateLimiter is a simple fixed-interval limiter; each provider client
// holds its own instance.
type rateLimiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastRequest time.Time
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	return &rateLimiter{interval: time.Second / time.Duration(requestsPerSecond)}
}

func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	nextAllowed := r.lastRequest.Add(r.interval)
	if now.Before(nextAllowed) {
		timer := time.NewTimer(nextAllowed.Sub(now))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.lastRequest = time.Now()
	return nil
}

func detectMimeType(data []byte) string {
	if len(data) < 4 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46:
		return "image/gif"
	case data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46:
		if len(data) >= 12 && data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
			return "image/webp"
		}
	}
	return "application/octet-stream"
}

// MaxImageSize caps a single downloaded image, guarding against
// unbounded provider responses.
const MaxImageSize = 10 * 1024 * 1024

// Download fetches raw image bytes from an arbitrary provider URL, used
// by the enrichment pipeline's analysis phase where
// the candidate's URL, not a specific client's endpoint, is the input.
func Download(ctx context.Context, hc *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errs.New(errs.KindFatal, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", errs.New(errs.KindTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", errs.New(errs.KindNotFound, errs.ErrNotFound)
	}
	if resp.StatusCode >= 500 {
		return nil, "", errs.New(errs.KindTransientNetwork, fmt.Errorf("download: server error %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", errs.New(errs.KindFatal, fmt.Errorf("download: unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize+1))
	if err != nil {
		return nil, "", errs.New(errs.KindTransientNetwork, err)
	}
	if len(data) > MaxImageSize {
		return nil, "", errs.New(errs.KindValidation, fmt.Errorf("download: image exceeds %d bytes", MaxImageSize))
	}

	return data, detectMimeType(data), nil
}
