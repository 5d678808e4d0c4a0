package model

// CTA is one call-to-action extracted from a page. The natural key is
// (organization, page URL, text, placement); the set is replaced wholesale
// on each fresh analysis.
type CTA struct {
	OrganizationID string `json:"organization_id"`
	PageURL        string `json:"page_url"`
	Text           string `json:"text"`
	Placement      string `json:"placement"` // e.g. "hero", "nav", "footer", "body"
	Href           string `json:"href,omitempty"`
}
