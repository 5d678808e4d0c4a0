package scraper

import (
	"context"
	"time"

	"github.com/sitelens/intel-cli/internal/model"
)

// ProgressFunc receives phase-level progress while a scrape is running.
// detail carries an optional human-readable extra (e.g. a byte count).
type ProgressFunc func(phase, message, detail string)

// Result holds everything extracted from a single page.
type Result struct {
	URL             string
	Title           string
	MetaDescription string
	Headings        []string
	Content         string // markdown
	CTAs            []model.CTA
	SocialHandles   []string
	ScrapedAt       time.Time
}

// Scraper fetches a URL and extracts structured page content.
type Scraper interface {
	Scrape(ctx context.Context, url string, onProgress ProgressFunc) (*Result, error)
	Name() string
}
