package scrape

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-bot interstitial detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockRateLimit  BlockType = "rate_limited"
)

// interstitialLimit is the body size under which a page is treated as a
// challenge shell rather than content. Registry pages with real figures are
// far larger, and many of them embed a captcha widget in the footer.
const interstitialLimit = 8 * 1024

var (
	cfMarkers = [][]byte{
		[]byte("checking your browser"),
		[]byte("cf-browser-verification"),
		[]byte("cf-challenge"),
		[]byte("just a moment..."),
	}
	captchaMarkers = [][]byte{
		[]byte("captcha"),
		[]byte("are you a robot"),
		[]byte("olet robotti"),
		[]byte("är du en robot"),
	}
)

// DetectBlock inspects a response for anti-bot protection. It returns
// BlockNone for a normal page.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return BlockCloudflare
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return BlockRateLimit
	}

	// Structured payloads mean real content even on small pages.
	if hasPayload(body) {
		return BlockNone
	}

	lower := bytes.ToLower(body)
	for _, m := range cfMarkers {
		if bytes.Contains(lower, m) {
			return BlockCloudflare
		}
	}
	if len(body) >= interstitialLimit {
		return BlockNone
	}
	for _, m := range captchaMarkers {
		if bytes.Contains(lower, m) {
			return BlockCaptcha
		}
	}
	if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) &&
		len(stripHTML(string(body))) < 200 {
		return BlockJSShell
	}
	if bytes.Contains(lower, []byte(`meta http-equiv="refresh"`)) {
		return BlockJSShell
	}
	return BlockNone
}

func hasPayload(body []byte) bool {
	return bytes.Contains(body, []byte("__NEXT_DATA__")) ||
		bytes.Contains(body, []byte("__INITIAL_STATE__")) ||
		bytes.Contains(body, []byte("application/ld+json"))
}
