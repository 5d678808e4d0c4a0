package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/config"
	"github.com/sitelens/intel-cli/internal/intel"
	"github.com/sitelens/intel-cli/internal/model"
	"github.com/sitelens/intel-cli/pkg/anthropic"
	"github.com/sitelens/intel-cli/pkg/scraper"
)

const systemPrompt = `You are a website intelligence analyst. You study a business's
website content and produce precise, structured assessments of what the
business is, who it serves, and how it could monetize. Respond with JSON
only when asked for JSON, no prose around it.`

// Analyzer implements the pipeline's AI operations on top of the
// Anthropic messages API.
type Analyzer struct {
	client anthropic.Client
	cfg    config.AnthropicConfig
}

var _ intel.AIClient = (*Analyzer)(nil)

// New creates an Analyzer.
func New(client anthropic.Client, cfg config.AnthropicConfig) *Analyzer {
	return &Analyzer{client: client, cfg: cfg}
}

func (a *Analyzer) complete(ctx context.Context, phase, prompt string, temperature *float64) (string, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System: []anthropic.SystemBlock{
			{Text: systemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("analyzer: %s", phase))
	}
	resp.Usage.LogCost(a.cfg.Model, phase)
	return resp.Text(), nil
}

// Analyze derives a structured business analysis from scraped content.
func (a *Analyzer) Analyze(ctx context.Context, content, url string, onPhase func(string)) (*model.BusinessAnalysis, error) {
	if onPhase == nil {
		onPhase = func(string) {}
	}

	onPhase("prompt")
	prompt := fmt.Sprintf(`Analyze the business behind %s from its website content below.

Return JSON with exactly these fields:
{"business_type": "", "business_model": "", "description": "",
 "target_audience": "", "brand_voice": "",
 "offerings": [], "differentiators": [], "monetization_ideas": []}

Website content:
%s`, url, content)

	onPhase("inference")
	text, err := a.complete(ctx, "analyze", prompt, nil)
	if err != nil {
		return nil, err
	}

	onPhase("parse")
	var analysis model.BusinessAnalysis
	if err := json.Unmarshal([]byte(cleanJSON(text)), &analysis); err != nil {
		return nil, eris.Wrap(err, "analyzer: parse analysis")
	}
	if analysis.BusinessType == "" && analysis.Description == "" {
		return nil, eris.New("analyzer: empty analysis")
	}
	return &analysis, nil
}

type scenarioPayload struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Demographics string   `json:"demographics"`
	PainPoints   []string `json:"pain_points"`
	Priority     int      `json:"priority"`
}

// GenerateAudienceScenarios produces customer-segment scenarios,
// avoiding segments the owner already has.
func (a *Analyzer) GenerateAudienceScenarios(ctx context.Context, analysis *model.BusinessAnalysis, existingAudiences []string) ([]model.AudienceScenario, error) {
	analysisJSON, _ := json.Marshal(analysis)

	var avoid string
	if len(existingAudiences) > 0 {
		avoid = "\nThe owner already tracks these audiences; do not repeat them:\n- " +
			strings.Join(existingAudiences, "\n- ")
	}

	temp := 0.8
	prompt := fmt.Sprintf(`Given this business analysis, invent 4 distinct customer-segment
scenarios, most promising first.%s

Return a JSON array:
[{"name": "", "description": "", "demographics": "", "pain_points": [], "priority": 1}]

Business analysis:
%s`, avoid, analysisJSON)

	text, err := a.complete(ctx, "audiences", prompt, &temp)
	if err != nil {
		return nil, err
	}

	var payloads []scenarioPayload
	if err := json.Unmarshal([]byte(cleanJSONArray(text)), &payloads); err != nil {
		return nil, eris.Wrap(err, "analyzer: parse audience scenarios")
	}
	if len(payloads) == 0 {
		return nil, eris.New("analyzer: no audience scenarios generated")
	}

	scenarios := make([]model.AudienceScenario, len(payloads))
	for i, p := range payloads {
		priority := p.Priority
		if priority == 0 {
			priority = i + 1
		}
		scenarios[i] = model.AudienceScenario{
			Name:         p.Name,
			Description:  p.Description,
			Demographics: p.Demographics,
			PainPoints:   p.PainPoints,
			Priority:     priority,
		}
	}
	return scenarios, nil
}

type pitchPayload struct {
	Headline string `json:"headline"`
	Body     string `json:"body"`
	Angle    string `json:"angle"`
}

// GeneratePitches attaches one monetization pitch per scenario, in input
// order.
func (a *Analyzer) GeneratePitches(ctx context.Context, scenarios []model.AudienceScenario, analysis *model.BusinessAnalysis) ([]model.AudienceScenario, error) {
	type pitchInput struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	inputs := make([]pitchInput, len(scenarios))
	for i, sc := range scenarios {
		inputs[i] = pitchInput{Name: sc.Name, Description: sc.Description}
	}
	inputsJSON, _ := json.Marshal(inputs)
	analysisJSON, _ := json.Marshal(analysis)

	temp := 0.7
	prompt := fmt.Sprintf(`For each audience scenario below, write one monetization pitch for
this business. Return a JSON array in the SAME order as the input, one
element per scenario:
[{"headline": "", "body": "", "angle": ""}]

Business analysis:
%s

Audience scenarios:
%s`, analysisJSON, inputsJSON)

	text, err := a.complete(ctx, "pitches", prompt, &temp)
	if err != nil {
		return nil, err
	}

	var pitches []pitchPayload
	if err := json.Unmarshal([]byte(cleanJSONArray(text)), &pitches); err != nil {
		return nil, eris.Wrap(err, "analyzer: parse pitches")
	}

	out := make([]model.AudienceScenario, len(scenarios))
	copy(out, scenarios)
	for i := range out {
		if i >= len(pitches) {
			zap.L().Warn("analyzer: fewer pitches than scenarios",
				zap.Int("scenarios", len(scenarios)),
				zap.Int("pitches", len(pitches)))
			break
		}
		out[i].Pitch = &model.Pitch{
			Headline: pitches[i].Headline,
			Body:     pitches[i].Body,
			Angle:    pitches[i].Angle,
		}
	}
	return out, nil
}

type narrationPayload struct {
	Narrative  string              `json:"narrative"`
	Confidence float64             `json:"confidence"`
	Cards      []model.InsightCard `json:"cards"`
}

// GenerateNarrative produces the streamed "thinking" prose, a confidence
// score, and structured insight cards.
func (a *Analyzer) GenerateNarrative(ctx context.Context, analysis *model.BusinessAnalysis, snapshot *model.IntelligenceSnapshot, ctas []model.CTA) (*intel.Narration, error) {
	analysisJSON, _ := json.Marshal(analysis)
	ctasJSON, _ := json.Marshal(ctas)

	// A backfilled snapshot may carry intelligence from an earlier pass;
	// feed it back so the regenerated narrative stays consistent with it.
	prior := "none"
	if snapshot != nil && (snapshot.Confidence > 0 || len(snapshot.Cards) > 0) {
		priorJSON, _ := json.Marshal(struct {
			Confidence float64             `json:"confidence"`
			Cards      []model.InsightCard `json:"cards,omitempty"`
		}{snapshot.Confidence, snapshot.Cards})
		prior = string(priorJSON)
	}

	temp := 0.6
	prompt := fmt.Sprintf(`Write a short first-person narrative (3-6 sentences) walking through
what you noticed about this business, plus 2-4 insight cards. Include a
confidence score between 0 and 1.

Return JSON:
{"narrative": "", "confidence": 0.0,
 "cards": [{"title": "", "body": "", "category": ""}]}

Business analysis:
%s

Calls to action found on the site:
%s

Intelligence from the stored snapshot (stay consistent with it):
%s`, analysisJSON, ctasJSON, prior)

	text, err := a.complete(ctx, "narrative", prompt, &temp)
	if err != nil {
		return nil, err
	}

	var payload narrationPayload
	if err := json.Unmarshal([]byte(cleanJSON(text)), &payload); err != nil {
		return nil, eris.Wrap(err, "analyzer: parse narrative")
	}
	if payload.Narrative == "" {
		return nil, eris.New("analyzer: empty narrative")
	}
	return &intel.Narration{
		Narrative:  payload.Narrative,
		Confidence: payload.Confidence,
		Cards:      payload.Cards,
	}, nil
}

// ScrapeObservation produces one short narrative line about the scraped
// page. Best-effort color; callers ignore failures.
func (a *Analyzer) ScrapeObservation(ctx context.Context, result *scraper.Result) (string, error) {
	prompt := fmt.Sprintf(`In one short sentence (no JSON), note something interesting about
this page for a live status feed. Title: %q. Description: %q. Headings: %s.`,
		result.Title, result.MetaDescription, strings.Join(result.Headings, "; "))

	temp := 0.9
	text, err := a.complete(ctx, "scrape_observation", prompt, &temp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// CTAObservation produces one short narrative line about the CTA set.
func (a *Analyzer) CTAObservation(ctx context.Context, ctas []model.CTA) (string, error) {
	if len(ctas) == 0 {
		return "", nil
	}
	texts := make([]string, len(ctas))
	for i, cta := range ctas {
		texts[i] = fmt.Sprintf("%q (%s)", cta.Text, cta.Placement)
	}

	temp := 0.9
	prompt := fmt.Sprintf(`In one short sentence (no JSON), comment on what these calls to
action say about the business: %s.`, strings.Join(texts, ", "))

	text, err := a.complete(ctx, "cta_observation", prompt, &temp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// cleanJSON strips markdown fences and extracts the outermost JSON object.
func cleanJSON(text string) string {
	text = stripFences(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// cleanJSONArray strips markdown fences and extracts the outermost JSON
// array.
func cleanJSONArray(text string) string {
	text = stripFences(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return text
}
