package intel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sitelens/intel-cli/internal/model"
	"github.com/sitelens/intel-cli/internal/store"
	"github.com/sitelens/intel-cli/pkg/scraper"
)

// Stage 0 percent layout: scrape owns 0-35, analyze 35-75, persistence and
// narrative fill the rest.
var scrapePhasePercent = map[string]float64{
	"fetch":   5,
	"parse":   15,
	"extract": 25,
	"convert": 30,
}

var analyzePhasePercent = map[string]float64{
	"prompt":    40,
	"inference": 55,
	"parse":     70,
}

// Run executes the pipeline for one URL. On a fresh-enough cached result
// it backfills missing derived fields and replays progress/narrative
// events instead of re-running the stages. A cancelled run returns
// ErrCancelled and is not a failure.
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.AnalysisResult, error) {
	if err := req.Owner.Validate(); err != nil {
		return nil, eris.Wrap(err, "intel: run")
	}
	log := zap.L().With(
		zap.String("url", req.URL),
		zap.String("owner", store.OwnerKey(req.Owner)),
	)

	rep := newReporter(req.Sinks.Progress)
	defer rep.Close()
	str := newStreamer(req.Sinks, p.wordDelay(), p.cardDelay())

	if err := checkCancelled(ctx, req.Probe); err != nil {
		return nil, err
	}

	// The owner-audience dedup list is only needed at the audiences stage,
	// so its lookup overlaps with scrape+analyze.
	var prefetched []string
	var prefetch errgroup.Group
	prefetch.Go(func() error {
		audiences, err := p.store.ListOwnerAudiences(ctx, req.Owner)
		if err != nil {
			return err
		}
		prefetched = audiences
		return nil
	})
	awaitAudiences := func() []string {
		if err := prefetch.Wait(); err != nil {
			log.Warn("intel: audience prefetch failed", zap.Error(err))
			return nil
		}
		return prefetched
	}

	now := time.Now().UTC()
	org, snap, err := p.locate(ctx, req.URL, now)
	if err != nil {
		// A broken cache lookup degrades to a miss.
		log.Warn("intel: cache lookup failed", zap.Error(err))
	}
	if org != nil {
		return p.runCacheHit(ctx, req, rep, str, org, snap, awaitAudiences)
	}

	log.Info("intel: starting fresh run")
	str.status("Taking a look at " + req.URL)

	// ===== Stage 0a: scrape (0-35%) =====
	rep.Report(model.StageScrape, "Fetching website", 2, 0, nil)
	lastPercent := 2.0
	scraped, err := p.scraper.Scrape(ctx, req.URL, func(phase, message, _ string) {
		if pct, ok := scrapePhasePercent[phase]; ok && pct > lastPercent {
			lastPercent = pct
			rep.Report(model.StageScrape, message, pct, 0, nil)
		}
	})
	if err != nil {
		return nil, eris.Wrap(err, "intel: scrape")
	}
	content := truncate(scraped.Content, p.cfg.ContentMaxChars)
	rep.Report(model.StageScrape, "Website scraped", 35, 0, map[string]any{
		"content_chars": len(content),
		"headings":      len(scraped.Headings),
		"ctas":          len(scraped.CTAs),
	})
	req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentScrapeResult, Data: scraped})

	if obs, obsErr := p.ai.ScrapeObservation(ctx, scraped); obsErr == nil && obs != "" {
		str.status(obs)
	}

	if err := checkCancelled(ctx, req.Probe); err != nil {
		return nil, err
	}

	// ===== Stage 0b: analyze (35-75%) =====
	rep.Report(model.StageScrape, "Analyzing business", 38, 0, nil)
	lastPercent = 38
	analysis, err := p.ai.Analyze(ctx, buildAnalysisInput(scraped, content), req.URL, func(phase string) {
		if pct, ok := analyzePhasePercent[phase]; ok && pct > lastPercent {
			lastPercent = pct
			rep.Report(model.StageScrape, "Analyzing business", pct, 0, nil)
		}
	})
	if err != nil {
		return nil, eris.Wrap(err, "intel: analyze")
	}
	req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentAnalysis, Data: analysis})

	if err := checkCancelled(ctx, req.Probe); err != nil {
		return nil, err
	}

	// ===== Persist organization + snapshot + CTAs =====
	org, err = p.store.UpsertOrganization(ctx, buildOrganization(req, scraped, analysis, now))
	if err != nil {
		return nil, eris.Wrap(err, "intel: persist organization")
	}
	snap, err = p.store.InsertSnapshot(ctx, &model.IntelligenceSnapshot{
		OrganizationID: org.ID,
		Analysis:       *analysis,
		IsCurrent:      true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "intel: persist snapshot")
	}

	ctas := make([]model.CTA, len(scraped.CTAs))
	for i, cta := range scraped.CTAs {
		cta.OrganizationID = org.ID
		ctas[i] = cta
	}
	if _, ctaErr := p.store.ReplaceCTAs(ctx, org.ID, ctas); ctaErr != nil {
		// Degraded CTA set, not a run failure.
		log.Warn("intel: cta persistence failed", zap.Error(ctaErr))
	}
	rep.Report(model.StageScrape, "Analysis saved", 78, 0, nil)

	if obs, obsErr := p.ai.CTAObservation(ctx, ctas); obsErr == nil && obs != "" {
		str.status(obs)
	}

	result := &model.AnalysisResult{
		OrganizationID: org.ID,
		SnapshotID:     snap.ID,
		URL:            req.URL,
		Analysis:       *analysis,
		CTAs:           ctas,
		ScrapedAt:      scraped.ScrapedAt,
	}

	// ===== Narrative (best-effort, 78-100%) =====
	p.generateAndStreamNarrative(ctx, log, str, result, snap)
	rep.Report(model.StageScrape, "Intelligence ready", 100, 0, nil)

	// ===== Stages 1-3: audiences, pitches, images =====
	scenarios, err := p.generateScenarios(ctx, req, rep, str, analysis, snap.ID, awaitAudiences)
	if err != nil {
		return nil, err
	}
	result.Scenarios = scenarios

	log.Info("intel: run complete",
		zap.String("organization_id", org.ID),
		zap.Int("ctas", len(result.CTAs)),
		zap.Int("scenarios", len(result.Scenarios)))
	return result, nil
}

// runCacheHit serves a fresh-enough cached analysis: repair missing
// derived fields, then replay progress and narrative so the client cannot
// distinguish this path from a fresh run's final state.
func (p *Pipeline) runCacheHit(
	ctx context.Context,
	req Request,
	rep *reporter,
	str *streamer,
	org *model.Organization,
	snap *model.IntelligenceSnapshot,
	awaitAudiences func() []string,
) (*model.AnalysisResult, error) {
	log := zap.L().With(zap.String("url", req.URL), zap.String("organization_id", org.ID))
	log.Info("intel: cache hit", zap.Time("last_analyzed_at", org.LastAnalyzedAt))

	ctas, err := p.store.GetCTAs(ctx, org.ID)
	if err != nil {
		log.Warn("intel: cached cta load failed", zap.Error(err))
	}
	scenarios, err := p.store.ListScenarios(ctx, snap.ID)
	if err != nil {
		log.Warn("intel: cached scenario load failed", zap.Error(err))
	}

	result := &model.AnalysisResult{
		OrganizationID: org.ID,
		SnapshotID:     snap.ID,
		URL:            req.URL,
		Analysis:       snap.Analysis,
		Narrative:      snap.Narrative,
		Confidence:     snap.Confidence,
		Cards:          snap.Cards,
		CTAs:           ctas,
		Scenarios:      scenarios,
		ScrapedAt:      org.LastAnalyzedAt,
		FromCache:      true,
	}

	rep.Report(model.StageScrape, "Loaded from cache", 100, 0, map[string]any{"from_cache": true})

	if err := p.repair(ctx, req, rep, str, result, snap, awaitAudiences); err != nil {
		return nil, err
	}

	// Full narrative replay with the same pacing as a fresh run.
	if result.Narrative != "" || len(result.Cards) > 0 {
		str.transition("Here's what I found earlier")
		str.streamText(ctx, result.Narrative)
		str.streamCards(ctx, result.Cards)
		str.profile(&result.Analysis)
		str.complete()
	}

	return result, nil
}

// generateAndStreamNarrative runs narrative generation after the analysis
// is persisted. Failures degrade to a single fallback insight card and
// never abort the stage.
func (p *Pipeline) generateAndStreamNarrative(
	ctx context.Context,
	log *zap.Logger,
	str *streamer,
	result *model.AnalysisResult,
	snap *model.IntelligenceSnapshot,
) {
	narration, err := p.ai.GenerateNarrative(ctx, &result.Analysis, snap, result.CTAs)
	if err != nil {
		log.Warn("intel: narrative generation failed, degrading", zap.Error(err))
		card := fallbackCard(&result.Analysis)
		result.Cards = []model.InsightCard{card}
		str.transition("Here's what stands out")
		str.streamCards(ctx, result.Cards)
		str.complete()
		return
	}

	if err := p.store.UpdateSnapshotNarrative(ctx, snap.ID, narration.Narrative, narration.Confidence, narration.Cards); err != nil {
		log.Warn("intel: narrative persistence failed", zap.Error(err))
	}
	result.Narrative = narration.Narrative
	result.Confidence = narration.Confidence
	result.Cards = narration.Cards

	str.transition("Here's what I'm seeing")
	str.streamText(ctx, narration.Narrative)
	str.streamCards(ctx, narration.Cards)
	str.profile(&result.Analysis)
	str.complete()
}

// generateScenarios runs stages 1-3 (audiences, pitches, images) and
// persists the scenario rows against snapshotID. Shared by the fresh path
// and the backfill engine so both emit identical partial-result events.
func (p *Pipeline) generateScenarios(
	ctx context.Context,
	req Request,
	rep *reporter,
	str *streamer,
	analysis *model.BusinessAnalysis,
	snapshotID string,
	awaitAudiences func() []string,
) ([]model.AudienceScenario, error) {
	log := zap.L().With(zap.String("snapshot_id", snapshotID))

	// Stage 1: audiences.
	if err := checkCancelled(ctx, req.Probe); err != nil {
		return nil, err
	}
	rep.Report(model.StageAudiences, "Reviewing existing audiences", 10, 0, nil)
	existing := awaitAudiences()
	rep.Report(model.StageAudiences, "Generating audience scenarios", 40, 0, nil)
	str.status("Imagining who shows up here")

	scenarios, err := p.ai.GenerateAudienceScenarios(ctx, analysis, existing)
	if err != nil {
		return nil, eris.Wrap(err, "intel: generate audiences")
	}
	if n := p.cfg.ScenarioCount; n > 0 && len(scenarios) > n {
		scenarios = scenarios[:n]
	}
	for i := range scenarios {
		scenarios[i].SnapshotID = snapshotID
		if scenarios[i].Priority == 0 {
			scenarios[i].Priority = i + 1
		}
		req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentAudienceComplete, Data: scenarios[i]})
	}
	req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentAudiences, Data: scenarios})
	rep.Report(model.StageAudiences, "Audiences ready", 100, 0, map[string]any{"count": len(scenarios)})

	// Stage 2: pitches.
	if err := checkCancelled(ctx, req.Probe); err != nil {
		return nil, err
	}
	rep.Report(model.StagePitches, "Crafting monetization pitches", 10, 0, nil)
	scenarios, err = p.ai.GeneratePitches(ctx, scenarios, analysis)
	if err != nil {
		return nil, eris.Wrap(err, "intel: generate pitches")
	}
	for _, sc := range scenarios {
		req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentPitchComplete, Data: sc})
	}
	req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentPitches, Data: scenarios})
	rep.Report(model.StagePitches, "Pitches ready", 100, 0, nil)

	// Stage 3: images, then persist the full scenario set.
	if err := checkCancelled(ctx, req.Probe); err != nil {
		return nil, err
	}
	rep.Report(model.StageImages, "Illustrating scenarios", 5, 0, nil)
	for i := range scenarios {
		if p.images != nil {
			ref, imgErr := p.images.GenerateScenarioImage(ctx, scenarios[i], analysis)
			if imgErr != nil {
				// A scenario without an image is still a complete scenario.
				log.Warn("intel: scenario image failed",
					zap.String("scenario", scenarios[i].Name),
					zap.Error(imgErr))
			} else {
				scenarios[i].ImageRef = ref
			}
		}
		req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentScenarioImageComplete, Data: scenarios[i]})
		rep.Report(model.StageImages, fmt.Sprintf("Illustrated %d of %d", i+1, len(scenarios)),
			5+float64(i+1)*90/float64(len(scenarios)), 0, nil)
	}

	if err := p.store.InsertScenarios(ctx, scenarios); err != nil {
		return nil, eris.Wrap(err, "intel: persist scenarios")
	}
	req.Sinks.emitPartial(model.PartialResult{Segment: model.SegmentScenarios, Data: scenarios})
	rep.Report(model.StageImages, "Scenarios ready", 100, 0, nil)

	return scenarios, nil
}

func buildOrganization(req Request, scraped *scraper.Result, analysis *model.BusinessAnalysis, now time.Time) *model.Organization {
	name := scraped.Title
	if name == "" {
		name = model.CanonicalDomain(req.URL)
	}
	slugBase := name
	if slugBase == "" {
		slugBase = req.URL
	}
	return &model.Organization{
		Slug:           model.Slugify(slugBase),
		URL:            req.URL,
		Domain:         model.CanonicalDomain(req.URL),
		Name:           name,
		BusinessType:   analysis.BusinessType,
		Description:    analysis.Description,
		TargetAudience: analysis.TargetAudience,
		BrandVoice:     analysis.BrandVoice,
		Owner:          req.Owner,
		LastAnalyzedAt: now,
	}
}

// buildAnalysisInput assembles the text handed to the analyze collaborator:
// page metadata and normalized headings ahead of the truncated body.
func buildAnalysisInput(scraped *scraper.Result, content string) string {
	var b strings.Builder
	if scraped.Title != "" {
		b.WriteString("Title: " + scraped.Title + "\n")
	}
	if scraped.MetaDescription != "" {
		b.WriteString("Description: " + scraped.MetaDescription + "\n")
	}
	if len(scraped.Headings) > 0 {
		b.WriteString("Headings: " + strings.Join(scraped.Headings, " | ") + "\n")
	}
	if len(scraped.SocialHandles) > 0 {
		b.WriteString("Social: " + strings.Join(scraped.SocialHandles, ", ") + "\n")
	}
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}

// truncate caps s at max characters, never splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

func fallbackCard(analysis *model.BusinessAnalysis) model.InsightCard {
	body := analysis.Description
	if body == "" {
		body = "Analysis completed; detailed insights were unavailable for this run."
	}
	return model.InsightCard{
		Title:    "Business overview",
		Body:     body,
		Category: "overview",
	}
}
