package intel

import (
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/model"
)

// reporter delivers progress updates to a listener one at a time. Every
// Report call hands its update to a dedicated delivery goroutine over an
// unbuffered channel, so rapid successive calls cannot be coalesced into a
// single observable emission: the sender blocks until the previous update
// has been picked up. With no listener, Report is a no-op.
type reporter struct {
	ch   chan model.ProgressUpdate
	done chan struct{}
}

func newReporter(listener func(model.ProgressUpdate)) *reporter {
	if listener == nil {
		return &reporter{}
	}
	r := &reporter{
		ch:   make(chan model.ProgressUpdate),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for update := range r.ch {
			deliver(listener, update)
		}
	}()
	return r
}

func deliver(listener func(model.ProgressUpdate), update model.ProgressUpdate) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Warn("intel: progress listener panicked",
				zap.Int("stage", update.Stage),
				zap.Any("panic", rec))
		}
	}()
	listener(update)
}

// Report emits one progress tick. Blocks until the delivery goroutine has
// accepted it.
func (r *reporter) Report(stage int, label string, percent float64, etaSeconds int, extra map[string]any) {
	if r.ch == nil {
		return
	}
	r.ch <- model.ProgressUpdate{
		Stage:      stage,
		Label:      label,
		Percent:    percent,
		ETASeconds: etaSeconds,
		Extra:      extra,
	}
}

// Close stops the delivery goroutine and waits for in-flight updates to
// drain. Safe to call on a no-listener reporter.
func (r *reporter) Close() {
	if r.ch == nil {
		return
	}
	close(r.ch)
	<-r.done
}
