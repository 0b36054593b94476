// Package errs defines the error taxonomy handlers classify failures into.
package errs

import "errors"

// Kind identifies which retry/surfacing policy an error should receive.
type Kind int

const (
	// KindUnknown is the zero value; treated as Fatal by classifiers.
	KindUnknown Kind = iota
	// KindTransientNetwork covers provider timeouts, 5xx, connection errors.
	KindTransientNetwork
	// KindRateLimit covers provider-signalled rate limiting.
	KindRateLimit
	// KindNotFound covers entities/resources absent from a provider.
	KindNotFound
	// KindValidation covers invalid payloads or irreconcilable input.
	KindValidation
	// KindStorageBusy covers database contention.
	KindStorageBusy
	// KindFatal covers unexpected invariant violations.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindStorageBusy:
		return "storage_busy"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Transient reports whether a job failing with this error kind should be retried.
func (k Kind) Transient() bool {
	switch k {
	case KindTransientNetwork, KindRateLimit, KindStorageBusy:
		return true
	default:
		return false
	}
}

// Classified wraps an error with a Kind so handlers and the job store can
// decide retry/permanent-failure policy without sentinel-matching call sites.
type Classified struct {
	kind Kind
	err  error
}

// New wraps err with the given kind. A nil err yields a nil *Classified semantics
// caller-side (New should not be called with a nil error).
func New(kind Kind, err error) *Classified {
	return &Classified{kind: kind, err: err}
}

func (c *Classified) Error() string {
	if c == nil || c.err == nil {
		return ""
	}
	return c.err.Error()
}

func (c *Classified) Unwrap() error {
	return c.err
}

// KindOf returns the error kind, or KindFatal if err is not a *Classified.
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.kind
	}
	return KindFatal
}

// Common sentinels used across provider clients and pipeline phases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrTimeout        = errors.New("request timed out")
	ErrAmbiguous      = errors.New("ambiguous result")
	ErrLocked         = errors.New("field locked")
	ErrNoProviderData = errors.New("no provider produced data")
)
