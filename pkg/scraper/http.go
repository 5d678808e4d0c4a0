package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/model"
)

const defaultMaxBodyBytes = 4 << 20

// HTTPScraper fetches pages over plain HTTP and extracts structured
// content with goquery, converting the body to markdown.
type HTTPScraper struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewHTTPScraper creates an HTTPScraper. A zero timeout falls back to
// 45s; a zero maxBodyBytes falls back to 4 MiB.
func NewHTTPScraper(userAgent string, timeout time.Duration, maxBodyBytes int64) *HTTPScraper {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPScraper{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

func (s *HTTPScraper) Name() string { return "http" }

// Scrape fetches a URL and extracts title, meta description, headings,
// CTAs, social handles, and a markdown rendering of the page body.
func (s *HTTPScraper) Scrape(ctx context.Context, targetURL string, onProgress ProgressFunc) (*Result, error) {
	if onProgress == nil {
		onProgress = func(string, string, string) {}
	}

	onProgress("fetch", "Fetching page", targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: create request")
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scraper: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "scraper: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("scraper: blocked (%s)", blockType)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("scraper: status %d", resp.StatusCode)
	}
	if len(body) < 100 {
		return nil, eris.New("scraper: empty page")
	}

	onProgress("parse", "Parsing HTML", fmt.Sprintf("%d bytes", len(body)))

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "scraper: parse html")
	}

	// Redirects may have moved us; resolve links against where we landed.
	finalURL := targetURL
	base := resp.Request.URL
	if base != nil {
		finalURL = base.String()
	}

	onProgress("extract", "Extracting page structure", "")

	result := &Result{
		URL:             finalURL,
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		MetaDescription: extractMetaDescription(doc),
		Headings:        extractHeadings(doc),
		CTAs:            extractCTAs(doc, base, finalURL),
		SocialHandles:   extractSocialHandles(doc),
		ScrapedAt:       time.Now().UTC(),
	}

	onProgress("convert", "Converting content", "")

	content, err := convertContent(doc, base)
	if err != nil {
		// Degraded: fall back to the page text rather than failing the scrape.
		zap.L().Warn("scraper: markdown conversion failed, using plain text",
			zap.String("url", finalURL),
			zap.Error(err))
		content = strings.TrimSpace(doc.Find("body").Text())
	}
	result.Content = content

	zap.L().Debug("scrape complete",
		zap.String("url", finalURL),
		zap.Int("content_chars", len(result.Content)),
		zap.Int("headings", len(result.Headings)),
		zap.Int("ctas", len(result.CTAs)))

	return result, nil
}

func extractMetaDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	if desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		return strings.TrimSpace(desc)
	}
	return ""
}

const maxHeadings = 40

func extractHeadings(doc *goquery.Document) []string {
	var headings []string
	seen := make(map[string]bool)
	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		text := collapseSpace(sel.Text())
		if text == "" || seen[text] || len(headings) >= maxHeadings {
			return
		}
		seen[text] = true
		headings = append(headings, text)
	})
	return headings
}

// ctaTextRe matches the action-oriented phrasing that marks a link or
// button as a call to action.
var ctaTextRe = regexp.MustCompile(`(?i)\b(get started|sign up|sign in|log in|buy|shop|order|subscribe|contact|book|schedule|try|start|join|register|apply|download|donate|demo|learn more|free trial|get a quote|call)\b`)

const maxCTAs = 30

func extractCTAs(doc *goquery.Document, base *url.URL, pageURL string) []model.CTA {
	var ctas []model.CTA
	seen := make(map[string]bool)

	doc.Find("a[href], button").Each(func(_ int, sel *goquery.Selection) {
		if len(ctas) >= maxCTAs {
			return
		}
		text := collapseSpace(sel.Text())
		if text == "" || len(text) > 60 || !ctaTextRe.MatchString(text) {
			return
		}

		placement := "body"
		if sel.ParentsFiltered("header, nav").Length() > 0 {
			placement = "header"
		} else if sel.ParentsFiltered("footer").Length() > 0 {
			placement = "footer"
		}

		href, _ := sel.Attr("href")
		href = resolveHref(base, href)

		key := text + "|" + placement
		if seen[key] {
			return
		}
		seen[key] = true

		ctas = append(ctas, model.CTA{
			PageURL:   pageURL,
			Text:      text,
			Placement: placement,
			Href:      href,
		})
	})

	return ctas
}

// socialHosts maps recognized social domains to platform names.
var socialHosts = map[string]string{
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"linkedin.com":  "linkedin",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
}

func extractSocialHandles(doc *goquery.Document) []string {
	var handles []string
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u, err := url.Parse(href)
		if err != nil || u.Host == "" {
			return
		}
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		platform, ok := socialHosts[host]
		if !ok {
			return
		}
		path := strings.Trim(u.Path, "/")
		if path == "" || strings.Contains(path, "/share") || strings.HasPrefix(path, "intent") {
			return
		}
		handle := platform + ":" + path
		if seen[handle] {
			return
		}
		seen[handle] = true
		handles = append(handles, handle)
	})

	return handles
}

// convertContent strips chrome elements and renders the body as markdown.
func convertContent(doc *goquery.Document, base *url.URL) (string, error) {
	doc.Find("script, style, noscript, iframe, svg, form, nav, footer").Remove()

	body := doc.Find("body")
	if body.Length() == 0 {
		return "", eris.New("scraper: no body element")
	}
	html, err := body.Html()
	if err != nil {
		return "", eris.Wrap(err, "scraper: serialize body")
	}

	domain := ""
	if base != nil {
		domain = base.Scheme + "://" + base.Host
	}
	converter := md.NewConverter(domain, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", eris.Wrap(err, "scraper: convert markdown")
	}
	return strings.TrimSpace(markdown), nil
}

func resolveHref(base *url.URL, href string) string {
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
