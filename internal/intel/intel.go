package intel

import (
	"context"
	"time"

	"github.com/sitelens/intel-cli/internal/config"
	"github.com/sitelens/intel-cli/internal/model"
	"github.com/sitelens/intel-cli/internal/store"
	"github.com/sitelens/intel-cli/pkg/scraper"
)

// Narration is the output of narrative generation: prose streamed
// word-by-word plus structured insight cards.
type Narration struct {
	Narrative  string
	Confidence float64
	Cards      []model.InsightCard
}

// AIClient defines the AI operations the pipeline depends on.
type AIClient interface {
	Analyze(ctx context.Context, content, url string, onPhase func(phase string)) (*model.BusinessAnalysis, error)
	GenerateAudienceScenarios(ctx context.Context, analysis *model.BusinessAnalysis, existingAudiences []string) ([]model.AudienceScenario, error)
	GeneratePitches(ctx context.Context, scenarios []model.AudienceScenario, analysis *model.BusinessAnalysis) ([]model.AudienceScenario, error)
	GenerateNarrative(ctx context.Context, analysis *model.BusinessAnalysis, snapshot *model.IntelligenceSnapshot, ctas []model.CTA) (*Narration, error)
	ScrapeObservation(ctx context.Context, result *scraper.Result) (string, error)
	CTAObservation(ctx context.Context, ctas []model.CTA) (string, error)
}

// ImageGenerator produces an illustrative image for a scenario, returned
// as an opaque image reference (typically a data URL).
type ImageGenerator interface {
	GenerateScenarioImage(ctx context.Context, scenario model.AudienceScenario, brand *model.BusinessAnalysis) (string, error)
}

// Request describes one pipeline run.
type Request struct {
	URL   string
	Owner model.Owner
	Sinks Sinks
	Probe Probe
}

// Pipeline orchestrates scrape → analyze → persist → generate stages for a
// single URL, with read-through caching and cooperative cancellation. All
// collaborators are injected; Pipeline itself holds no mutable state, so
// one instance serves concurrent runs.
type Pipeline struct {
	cfg     config.PipelineConfig
	store   store.Store
	scraper scraper.Scraper
	ai      AIClient
	images  ImageGenerator
}

// New creates a Pipeline with all dependencies.
func New(cfg config.PipelineConfig, st store.Store, sc scraper.Scraper, ai AIClient, images ImageGenerator) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   st,
		scraper: sc,
		ai:      ai,
		images:  images,
	}
}

func (p *Pipeline) cacheTTL() time.Duration {
	days := p.cfg.CacheTTLDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func (p *Pipeline) wordDelay() time.Duration {
	return time.Duration(p.cfg.WordDelayMs) * time.Millisecond
}

func (p *Pipeline) cardDelay() time.Duration {
	return time.Duration(p.cfg.CardDelayMs) * time.Millisecond
}
