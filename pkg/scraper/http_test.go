package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head>
<title>Acme Coffee Roasters</title>
<meta name="description" content="Small-batch coffee roasted in Portland.">
</head><body>
<header><nav><a href="/shop">Shop Now</a></nav></header>
<h1>Acme Coffee Roasters</h1>
<h2>Our Beans</h2>
<h2>Our Beans</h2>
<p>We roast single-origin beans every morning.</p>
<a href="/subscribe">Subscribe to our newsletter</a>
<a href="https://instagram.com/acmecoffee">Follow us</a>
<a href="https://x.com/acmecoffee">Tweets</a>
<footer><a href="/contact">Contact Us</a><p>Copyright 2026</p></footer>
<script>console.log("tracking")</script>
</body></html>`

func newTestScraper() *HTTPScraper {
	return NewHTTPScraper("intel-cli-test/1.0", 5*time.Second, 0)
}

func TestHTTPScraper_ExtractsStructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	var phases []string
	result, err := newTestScraper().Scrape(context.Background(), srv.URL, func(phase, _, _ string) {
		phases = append(phases, phase)
	})
	require.NoError(t, err)

	assert.Equal(t, "Acme Coffee Roasters", result.Title)
	assert.Equal(t, "Small-batch coffee roasted in Portland.", result.MetaDescription)
	assert.Equal(t, []string{"Acme Coffee Roasters", "Our Beans"}, result.Headings)
	assert.False(t, result.ScrapedAt.IsZero())
	assert.Equal(t, []string{"fetch", "parse", "extract", "convert"}, phases)

	assert.Contains(t, result.Content, "single-origin beans")
	// Chrome elements are stripped from converted content.
	assert.NotContains(t, result.Content, "Copyright 2026")
	assert.NotContains(t, result.Content, "tracking")
}

func TestHTTPScraper_CTAPlacement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	result, err := newTestScraper().Scrape(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	byText := make(map[string]string)
	for _, cta := range result.CTAs {
		byText[cta.Text] = cta.Placement
	}
	assert.Equal(t, "header", byText["Shop Now"])
	assert.Equal(t, "body", byText["Subscribe to our newsletter"])
	assert.Equal(t, "footer", byText["Contact Us"])

	// Relative hrefs are resolved against the server URL.
	for _, cta := range result.CTAs {
		if cta.Text == "Shop Now" {
			assert.Equal(t, srv.URL+"/shop", cta.Href)
		}
		assert.Equal(t, result.URL, cta.PageURL)
	}
}

func TestHTTPScraper_SocialHandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	result, err := newTestScraper().Scrape(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	assert.Contains(t, result.SocialHandles, "instagram:acmecoffee")
	assert.Contains(t, result.SocialHandles, "twitter:acmecoffee")
}

func TestHTTPScraper_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(403)
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestScraper().Scrape(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestHTTPScraper_HTTP404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		_, _ = w.Write([]byte(`<html><body>Not found page with enough content to pass the size check here</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestScraper().Scrape(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestHTTPScraper_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	_, err := newTestScraper().Scrape(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestHTTPScraper_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestScraper().Scrape(ctx, srv.URL, nil)
	assert.Error(t, err)
}
