package model

import (
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Owner scopes an Organization to either a registered user or an anonymous
// session. Exactly one of the two must be set.
type Owner struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Validate enforces the user-XOR-session invariant.
func (o Owner) Validate() error {
	if o.UserID == "" && o.SessionID == "" {
		return eris.New("owner: neither user_id nor session_id set")
	}
	if o.UserID != "" && o.SessionID != "" {
		return eris.New("owner: both user_id and session_id set")
	}
	return nil
}

// IsAnonymous reports whether the owner is a session-scoped visitor.
func (o Owner) IsAnonymous() bool {
	return o.UserID == ""
}

// Organization is the persisted identity for an analyzed website. One row
// per (owner, URL); updated in place on re-analysis, never hard-deleted by
// the pipeline.
type Organization struct {
	ID             string    `json:"id"`
	Slug           string    `json:"slug"`
	URL            string    `json:"url"`
	Domain         string    `json:"domain"`
	Name           string    `json:"name"`
	BusinessType   string    `json:"business_type"`
	Description    string    `json:"description"`
	TargetAudience string    `json:"target_audience"`
	BrandVoice     string    `json:"brand_voice"`
	Owner          Owner     `json:"owner"`
	LastAnalyzedAt time.Time `json:"last_analyzed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CanonicalDomain extracts the bare host from a URL, dropping any
// "www." prefix. Returns the input lowercased if it doesn't parse.
func CanonicalDomain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		// Bare domains like "acme.test" parse with an empty host.
		u, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil || u.Host == "" {
			return strings.ToLower(strings.TrimSpace(rawURL))
		}
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	return host
}

// URLVariants returns the forms of a URL the cache locator matches against:
// the exact string plus the bare host under both schemes, with and without
// a www prefix.
func URLVariants(rawURL string) []string {
	raw := strings.TrimSpace(rawURL)
	domain := CanonicalDomain(raw)

	seen := map[string]bool{}
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	add(raw)
	add("https://" + domain)
	add("http://" + domain)
	add("https://www." + domain)
	add("http://www." + domain)
	return out
}

var slugStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives a URL-safe slug from an organization name or domain.
func Slugify(s string) string {
	if stripped, _, err := transform.String(slugStripper, s); err == nil {
		s = stripped
	}
	s = strings.ToLower(s)

	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// DisambiguateSlug appends a timestamp suffix to a slug that collided with
// an existing row.
func DisambiguateSlug(slug string, at time.Time) string {
	return slug + "-" + at.UTC().Format("20060102150405")
}
