package model

import "time"

// BusinessAnalysis is the structured output of the analyze stage.
type BusinessAnalysis struct {
	BusinessType      string   `json:"business_type"`
	BusinessModel     string   `json:"business_model"`
	Description       string   `json:"description"`
	TargetAudience    string   `json:"target_audience"`
	BrandVoice        string   `json:"brand_voice"`
	Offerings         []string `json:"offerings,omitempty"`
	Differentiators   []string `json:"differentiators,omitempty"`
	MonetizationIdeas []string `json:"monetization_ideas,omitempty"`
}

// InsightCard is one structured insight surfaced alongside the narrative.
type InsightCard struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"` // e.g. "audience", "positioning", "monetization"
}

// IntelligenceSnapshot is one versioned analysis result for an Organization.
// At most one snapshot per organization carries IsCurrent; inserting a new
// snapshot flips all prior flags in the same transaction.
type IntelligenceSnapshot struct {
	ID             string           `json:"id"`
	OrganizationID string           `json:"organization_id"`
	Analysis       BusinessAnalysis `json:"analysis"`
	Narrative      string           `json:"narrative,omitempty"`
	Confidence     float64          `json:"confidence"`
	Cards          []InsightCard    `json:"cards,omitempty"`
	IsCurrent      bool             `json:"is_current"`
	CreatedAt      time.Time        `json:"created_at"`
}

// HasNarrative reports whether the narrative field is populated. The
// backfill engine regenerates the narrative only when this is false.
func (s *IntelligenceSnapshot) HasNarrative() bool {
	return s != nil && s.Narrative != ""
}
