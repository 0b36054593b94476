package errs_test

import (
	"errors"
	"testing"

	"github.com/jsaddiction/metarr/internal/errs"
)

func TestTransientClassifiesRetryableKinds(t *testing.T) {
	retryable := []errs.Kind{errs.KindTransientNetwork, errs.KindRateLimit, errs.KindStorageBusy}
	for _, k := range retryable {
		if !k.Transient() {
			t.Errorf("expected %s to be transient", k)
		}
	}

	terminal := []errs.Kind{errs.KindNotFound, errs.KindValidation, errs.KindFatal, errs.KindUnknown}
	for _, k := range terminal {
		if k.Transient() {
			t.Errorf("expected %s to be non-transient", k)
		}
	}
}

func TestKindOfUnwrapsClassifiedError(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := errs.New(errs.KindTransientNetwork, base)

	if got := errs.KindOf(wrapped); got != errs.KindTransientNetwork {
		t.Errorf("expected KindTransientNetwork, got %s", got)
	}
	if !errors.Is(wrapped, base) && errors.Unwrap(wrapped) != base {
		t.Error("expected Unwrap to expose the underlying error")
	}
}

func TestKindOfDefaultsToFatalForPlainErrors(t *testing.T) {
	if got := errs.KindOf(errors.New("plain")); got != errs.KindFatal {
		t.Errorf("expected an unclassified error to report KindFatal, got %s", got)
	}
}

func TestKindStringRoundTripsKnownKinds(t *testing.T) {
	cases := map[errs.Kind]string{
		errs.KindTransientNetwork: "transient_network",
		errs.KindRateLimit:        "rate_limit",
		errs.KindNotFound:         "not_found",
		errs.KindValidation:       "validation",
		errs.KindStorageBusy:      "storage_busy",
		errs.KindFatal:            "fatal",
		errs.KindUnknown:          "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}
