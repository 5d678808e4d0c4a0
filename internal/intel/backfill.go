package intel

import (
	"context"

	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/model"
)

// repair regenerates derived fields missing from a cache hit: the
// narrative and the scenario set, each independently guarded. A failure in
// one step is logged and does not block the other or fail the cache-hit
// path; only cancellation unwinds. Successful steps persist onto the
// existing current snapshot, merge into result, and emit the same
// progress/partial events a fresh run would.
func (p *Pipeline) repair(
	ctx context.Context,
	req Request,
	rep *reporter,
	str *streamer,
	result *model.AnalysisResult,
	snap *model.IntelligenceSnapshot,
	awaitAudiences func() []string,
) error {
	log := zap.L().With(zap.String("snapshot_id", snap.ID))

	if !snap.HasNarrative() {
		narration, err := p.ai.GenerateNarrative(ctx, &result.Analysis, snap, result.CTAs)
		if err != nil {
			log.Warn("intel: narrative backfill failed", zap.Error(err))
		} else {
			if err := p.store.UpdateSnapshotNarrative(ctx, snap.ID, narration.Narrative, narration.Confidence, narration.Cards); err != nil {
				log.Warn("intel: narrative backfill persistence failed", zap.Error(err))
			}
			snap.Narrative = narration.Narrative
			snap.Confidence = narration.Confidence
			snap.Cards = narration.Cards
			result.Narrative = narration.Narrative
			result.Confidence = narration.Confidence
			result.Cards = narration.Cards
			rep.Report(model.StageScrape, "Narrative restored", 100, 0, nil)
			log.Info("intel: narrative backfilled")
		}
	}

	if len(result.Scenarios) == 0 {
		scenarios, err := p.generateScenarios(ctx, req, rep, str, &result.Analysis, snap.ID, awaitAudiences)
		if err != nil {
			if IsCancelled(err) {
				return err
			}
			log.Warn("intel: scenario backfill failed", zap.Error(err))
		} else {
			result.Scenarios = scenarios
			log.Info("intel: scenarios backfilled", zap.Int("count", len(scenarios)))
		}
	}

	return nil
}
