package scrape

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/enrichment-cli/internal/apperr"
)

const maxBodyBytes = 2 << 20

// userAgents is rotated round-robin across requests.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Edg/124.0",
}

// Page is a fetched registry page.
type Page struct {
	URL    string
	Status int
	Title  string
	HTML   string
	// Text is the visible text with scripts, styles and markup removed.
	Text string
}

// Fetcher performs one GET against one candidate URL.
type Fetcher interface {
	Fetch(ctx context.Context, source, url string) (*Page, error)
}

// HTTPFetcher fetches pages over net/http with a rotating client identity, a
// fixed timeout and exactly one attempt. Retries belong to the chain.
type HTTPFetcher struct {
	client *http.Client
	next   atomic.Uint64
}

// NewHTTPFetcher creates an HTTPFetcher. A non-positive timeout means 15s.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (f *HTTPFetcher) userAgent() string {
	n := f.next.Add(1) - 1
	return userAgents[n%uint64(len(userAgents))]
}

// Fetch GETs targetURL. Transport failures return *apperr.UpstreamTimeout,
// non-2xx answers and anti-bot interstitials return *apperr.UpstreamHTTPError.
func (f *HTTPFetcher) Fetch(ctx context.Context, source, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: %s: create request", source)
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "fi,sv;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, eris.Wrapf(err, "scrape: %s: fetch", source)
		}
		return nil, &apperr.UpstreamTimeout{Source: source, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &apperr.UpstreamTimeout{Source: source, Err: eris.Wrap(err, "read body")}
	}

	if bt := DetectBlock(resp, body); bt != BlockNone {
		status := resp.StatusCode
		if status < 400 {
			status = http.StatusForbidden
		}
		return nil, eris.Wrapf(&apperr.UpstreamHTTPError{Source: source, Status: status}, "scrape: %s: blocked (%s)", source, bt)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.UpstreamHTTPError{Source: source, Status: resp.StatusCode}
	}
	html := decodeBody(body, resp.Header.Get("Content-Type"))
	text := stripHTML(html)
	if emptyPage(html, text) {
		return nil, apperr.NewParseError(source+" page", string(body), eris.New("empty page"))
	}
	return &Page{
		URL:    targetURL,
		Status: resp.StatusCode,
		Title:  extractTitle(html),
		HTML:   html,
		Text:   text,
	}, nil
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([\w-]+)`)

// decodeBody converts body to UTF-8 using the declared charset. Registry
// sites still serve ISO-8859-1 and windows-1252 pages.
func decodeBody(body []byte, contentType string) string {
	charset := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		charset = params["charset"]
	}
	if charset == "" {
		head := body
		if len(head) > 2048 {
			head = head[:2048]
		}
		if m := metaCharsetRe.FindSubmatch(head); m != nil {
			charset = string(m[1])
		}
	}
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return string(body)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(body)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(out)
}

var (
	titleRe      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	blockTagRes  = compileBlockTags("script", "style", "nav", "footer", "noscript")
	breakTagRe   = regexp.MustCompile(`(?i)<(?:br|/p|/div|/tr|/li|/h[1-6]|/dt|/dd)[^>]*>`)
	cellTagRe    = regexp.MustCompile(`(?i)</t[dh]>`)
	anyTagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRunRe   = regexp.MustCompile(`[ \t\x{00A0}]+`)
	newlineRunRe = regexp.MustCompile(`\n\s*\n(\s*\n)+`)
	entities     = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
		"&euro;", "€",
		"&auml;", "ä",
		"&ouml;", "ö",
		"&aring;", "å",
		"&Auml;", "Ä",
		"&Ouml;", "Ö",
		"&Aring;", "Å",
	)
)

func compileBlockTags(tags ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(tags))
	for i, tag := range tags {
		out[i] = regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	}
	return out
}

func extractTitle(html string) string {
	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		return strings.TrimSpace(entities.Replace(m[1]))
	}
	return ""
}

// emptyPage reports a page with no visible text and no script payload for
// the structured tier to read. Body size says nothing: a short page can
// still carry a figure.
func emptyPage(html, text string) bool {
	return strings.TrimSpace(text) == "" && !hasPayload([]byte(html))
}

// stripHTML reduces a page to visible text. Block-level closers become line
// breaks and table cells end in " | ", so a registry table row survives as
// "label | value | value" without neighbouring cells running together.
func stripHTML(html string) string {
	for _, re := range blockTagRes {
		html = re.ReplaceAllString(html, "")
	}
	html = breakTagRe.ReplaceAllString(html, "\n")
	html = cellTagRe.ReplaceAllString(html, " | ")
	html = anyTagRe.ReplaceAllString(html, " ")
	html = entities.Replace(html)
	html = spaceRunRe.ReplaceAllString(html, " ")
	html = newlineRunRe.ReplaceAllString(html, "\n\n")
	lines := strings.Split(html, "\n")
	for i, l := range lines {
		lines[i] = strings.Trim(l, " \t\r|")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
