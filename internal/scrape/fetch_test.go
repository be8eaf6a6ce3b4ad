package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-cli/internal/apperr"
)

const pagePadding = "<p>Acme Oy is a Finnish company registered in the trade register.</p>"

func TestHTTPFetcher_CleanHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Acme Oy</title></head>
<body><nav>Menu</nav><h1>Welcome</h1><table><tr><td>Liikevaihto</td><td>500 000 €</td></tr></table>` + pagePadding + `
<footer>Copyright 2024</footer></body></html>`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	page, err := f.Fetch(context.Background(), "finder", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Acme Oy", page.Title)
	assert.Equal(t, 200, page.Status)
	assert.Contains(t, page.Text, "Welcome")
	assert.Contains(t, page.Text, "Liikevaihto | 500 000 €")
	assert.NotContains(t, page.Text, "Menu")
	assert.NotContains(t, page.Text, "Copyright 2024")
	assert.Contains(t, page.HTML, "<nav>")
}

func TestHTTPFetcher_RotatesUserAgent(t *testing.T) {
	var (
		mu     sync.Mutex
		agents = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents[r.UserAgent()] = true
		mu.Unlock()
		_, _ = w.Write([]byte("<html><body>" + pagePadding + "</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second)
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), "finder", srv.URL)
		require.NoError(t, err)
	}
	assert.Len(t, agents, 3)
}

func TestHTTPFetcher_SingleAttemptOn404(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html><body>" + pagePadding + "</body></html>"))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), "finder", srv.URL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamHTTP, apperr.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestHTTPFetcher_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), "finder", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
	assert.Equal(t, apperr.KindUpstreamHTTP, apperr.KindOf(err))
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(50*time.Millisecond).Fetch(context.Background(), "finder", srv.URL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamTimeout, apperr.KindOf(err))
}

func TestHTTPFetcher_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), "finder", srv.URL)
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
}

func TestStripHTML_CellsStaySeparate(t *testing.T) {
	result := stripHTML(`<table>
<tr><th>Tilikausi</th><th>2023</th><th>2022</th></tr>
<tr><td>Liikevaihto</td><td>500 000</td><td>450 000</td></tr>
<tr><td>Liiketulos</td><td></td><td>12 000</td></tr>
</table>`)
	assert.Contains(t, result, "Tilikausi | 2023 | 2022")
	assert.Contains(t, result, "Liikevaihto | 500 000 | 450 000")
	assert.Contains(t, result, "Liiketulos | | 12 000")
}

func TestHTTPFetcher_ShortPageWithText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<p>Liikevaihto 500 000 €</p>`))
	}))
	defer srv.Close()

	page, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), "finder", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Liikevaihto 500 000 €", page.Text)
}

func TestEmptyPage(t *testing.T) {
	assert.True(t, emptyPage("<html><body> </body></html>", ""))
	assert.False(t, emptyPage(`<script id="__NEXT_DATA__">{"props":{}}</script>`, ""))
	assert.False(t, emptyPage("<p>x</p>", "x"))
}

func TestDecodeBody_Latin1(t *testing.T) {
	body := []byte("<html><body>Oms\xe4ttning 500 tkr</body></html>")
	assert.Contains(t, decodeBody(body, "text/html; charset=ISO-8859-1"), "Omsättning")

	withMeta := append([]byte(`<meta charset="windows-1252">`), body...)
	assert.Contains(t, decodeBody(withMeta, "text/html"), "Omsättning")

	assert.Equal(t, "plain", decodeBody([]byte("plain"), "text/html; charset=utf-8"))
}

func TestStripHTML(t *testing.T) {
	input := `<html><head><style>body{color:red}</style></head>
<body><script>alert('hi')</script><h1>Hello</h1><p>World &amp; friends</p>
<table><tr><th>Omsättning</th><td>1&nbsp;234 tkr</td></tr></table></body></html>`
	result := stripHTML(input)
	assert.Contains(t, result, "Hello")
	assert.Contains(t, result, "World & friends")
	assert.Contains(t, result, "Omsättning | 1 234 tkr")
	assert.NotContains(t, result, "tkr |")
	assert.NotContains(t, result, "alert")
	assert.NotContains(t, result, "color:red")
	assert.NotContains(t, result, "<h1>")
	assert.False(t, strings.Contains(result, "\n\n\n"))
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "My Page Title", extractTitle(`<html><head><title>My Page Title</title></head></html>`))
	assert.Equal(t, "", extractTitle(`<html><body>no title here</body></html>`))
}
