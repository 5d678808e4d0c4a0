package intel

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrCancelled is returned when the cancellation probe reports true.
// Cancellation is cooperative and distinct from a processing failure: a
// cancelled run yields no result and must not be reported as an error.
var ErrCancelled = eris.New("intel: run cancelled")

// Probe checks whether the run should stop. It is polled at the start of
// every stage and at sub-steps within scrape/analyze; in-flight external
// calls are never forcibly aborted.
type Probe func(ctx context.Context) (bool, error)

// checkCancelled polls the probe and the context. A probe error is
// propagated as an upstream failure, not swallowed.
func checkCancelled(ctx context.Context, probe Probe) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	if probe == nil {
		return nil
	}
	cancelled, err := probe(ctx)
	if err != nil {
		return eris.Wrap(err, "intel: cancellation probe")
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// IsCancelled reports whether err represents a cooperative cancellation
// rather than a failure.
func IsCancelled(err error) bool {
	return eris.Is(err, ErrCancelled)
}
