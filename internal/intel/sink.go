package intel

import (
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/model"
)

// Sinks bundles the listener callbacks for a single run. Any field may be
// nil; nil sinks are checked once at construction, not per call site.
// Sinks are fire-and-forget: a panicking listener is caught and logged,
// never allowed to fail the pipeline.
type Sinks struct {
	Progress  func(model.ProgressUpdate)
	Partial   func(model.PartialResult)
	Narrative func(model.NarrativeEvent)
}

func (s Sinks) emitPartial(pr model.PartialResult) {
	if s.Partial == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("intel: partial-result listener panicked",
				zap.String("segment", pr.Segment),
				zap.Any("panic", r))
		}
	}()
	s.Partial(pr)
}

func (s Sinks) emitNarrative(ev model.NarrativeEvent) {
	if s.Narrative == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("intel: narrative listener panicked",
				zap.String("type", ev.Type),
				zap.Any("panic", r))
		}
	}()
	s.Narrative(ev)
}
