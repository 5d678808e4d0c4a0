package scraper

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock_Cloudflare403(t *testing.T) {
	resp := &http.Response{
		StatusCode: 403,
		Header:     http.Header{"Cf-Ray": {"abc123"}},
	}
	blocked, bt := DetectBlock(resp, nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_RateLimited(t *testing.T) {
	resp := &http.Response{
		StatusCode: 429,
		Header:     http.Header{},
	}
	blocked, bt := DetectBlock(resp, nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockRateLimit, bt)
}

func TestDetectBlock_CaptchaInBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
	}
	body := []byte("<html><body>Please complete the reCAPTCHA to continue</body></html>")
	blocked, bt := DetectBlock(resp, body)
	assert.True(t, blocked)
	assert.Equal(t, BlockCaptcha, bt)
}

func TestDetectBlock_JSShell(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
	}
	body := []byte(`<html><body><noscript>Please enable JavaScript</noscript></body></html>`)
	blocked, bt := DetectBlock(resp, body)
	assert.True(t, blocked)
	assert.Equal(t, BlockJSShell, bt)
}

func TestDetectBlock_CleanPage(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
	}
	body := []byte("<html><body><h1>Welcome</h1><p>Normal page content</p></body></html>")
	blocked, bt := DetectBlock(resp, body)
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, bt)
}

func TestDetectBlock_NilResponse(t *testing.T) {
	blocked, bt := DetectBlock(nil, nil)
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, bt)
}
