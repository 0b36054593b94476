package jobs

import (
	"errors"

	"github.com/jsaddiction/metarr/internal/errs"
)

// classifyErr extracts an errs.Kind from a handler error, if it was
// classified via errs.New. ok is false for plain errors, which the pool
// then treats as transient: a handler panic or uncaught error is retried
// unless the handler explicitly marks it permanent.
func classifyErr(err error) (errs.Kind, bool) {
	var c *errs.Classified
	if !errors.As(err, &c) {
		return errs.KindUnknown, false
	}
	return errs.KindOf(err), true
}
