package model

import "time"

// AnalysisResult is the final output of a pipeline run. A degraded run
// (missing CTAs or cards) is still a complete result; a failed or cancelled
// run produces no result at all.
type AnalysisResult struct {
	OrganizationID string             `json:"organization_id"`
	SnapshotID     string             `json:"snapshot_id"`
	URL            string             `json:"url"`
	Analysis       BusinessAnalysis   `json:"analysis"`
	Narrative      string             `json:"narrative,omitempty"`
	Confidence     float64            `json:"confidence"`
	Cards          []InsightCard      `json:"cards,omitempty"`
	CTAs           []CTA              `json:"ctas"`
	Scenarios      []AudienceScenario `json:"scenarios"`
	ScrapedAt      time.Time          `json:"scraped_at"`
	FromCache      bool               `json:"from_cache,omitempty"`
}
