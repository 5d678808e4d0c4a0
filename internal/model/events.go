package model

// Pipeline stages in execution order. Scrape and Analyze share stage 0's
// percent range; audiences, pitches and images are tracked independently.
const (
	StageScrape    = 0
	StageAudiences = 1
	StagePitches   = 2
	StageImages    = 3
)

// ProgressUpdate is one normalized progress tick.
type ProgressUpdate struct {
	Stage      int            `json:"stage"`
	Label      string         `json:"label"`
	Percent    float64        `json:"percent"`
	ETASeconds int            `json:"eta_seconds,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Partial-result segments.
const (
	SegmentScrapeResult          = "scrape-result"
	SegmentAnalysis              = "analysis"
	SegmentAudiences             = "audiences"
	SegmentPitches               = "pitches"
	SegmentScenarios             = "scenarios"
	SegmentAudienceComplete      = "audience-complete"
	SegmentPitchComplete         = "pitch-complete"
	SegmentScenarioImageComplete = "scenario-image-complete"
)

// PartialResult carries an intermediate pipeline output to the client
// before the run completes.
type PartialResult struct {
	Segment string `json:"segment"`
	Data    any    `json:"data"`
}

// Narrative event types.
const (
	NarrativeStatusUpdate    = "status-update"
	NarrativeTransition      = "transition"
	NarrativeTextChunk       = "text-chunk"
	NarrativeInsightCard     = "insight-card"
	NarrativeBusinessProfile = "business-profile"
	NarrativeComplete        = "narrative-complete"
)

// NarrativeEvent is one element of the streamed "thinking" output. Exactly
// one payload field is populated, selected by Type.
type NarrativeEvent struct {
	Type    string            `json:"type"`
	Message string            `json:"message,omitempty"` // status-update, transition
	Text    string            `json:"text,omitempty"`    // text-chunk
	Card    *InsightCard      `json:"card,omitempty"`    // insight-card
	Profile *BusinessAnalysis `json:"profile,omitempty"` // business-profile
}
