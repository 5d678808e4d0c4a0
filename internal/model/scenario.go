package model

import "time"

// Pitch is a monetization pitch attached to an audience scenario.
type Pitch struct {
	Headline string `json:"headline"`
	Body     string `json:"body"`
	Angle    string `json:"angle,omitempty"` // e.g. "subscription", "upsell", "sponsorship"
}

// AudienceScenario is a generated customer segment tied to the current
// IntelligenceSnapshot. One set per snapshot, superseded on re-analysis.
type AudienceScenario struct {
	ID           string    `json:"id"`
	SnapshotID   string    `json:"snapshot_id"`
	Priority     int       `json:"priority"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Demographics string    `json:"demographics,omitempty"`
	PainPoints   []string  `json:"pain_points,omitempty"`
	Pitch        *Pitch    `json:"pitch,omitempty"`
	ImageRef     string    `json:"image_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
