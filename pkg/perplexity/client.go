// Package perplexity is a minimal client for the Perplexity chat completions
// API, a search-grounded language model that returns the web sources it used.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/resilience"
)

const (
	defaultBaseURL   = "https://api.perplexity.ai"
	defaultModel     = "sonar-pro"
	maxRetryAttempts = 3
	sourceName       = "perplexity"
)

// Client performs chat completions against the Perplexity API.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ChatCompletionRequest is the request body for POST /chat/completions.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	// SearchDomainFilter limits grounding to (or, with a "-" prefix,
	// excludes) the listed domains.
	SearchDomainFilter  []string `json:"search_domain_filter,omitempty"`
	SearchRecencyFilter string   `json:"search_recency_filter,omitempty"`
}

// Message represents a single message in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the response from POST /chat/completions.
type ChatCompletionResponse struct {
	ID            string         `json:"id"`
	Model         string         `json:"model"`
	Choices       []Choice       `json:"choices"`
	Usage         Usage          `json:"usage"`
	Citations     []string       `json:"citations"`
	SearchResults []SearchResult `json:"search_results"`
}

// Content returns the first choice's text, or "".
func (r *ChatCompletionResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Sources returns the grounding URLs, preferring search_results over the
// older citations list.
func (r *ChatCompletionResponse) Sources() []string {
	if r == nil {
		return nil
	}
	if len(r.SearchResults) > 0 {
		out := make([]string, 0, len(r.SearchResults))
		for _, s := range r.SearchResults {
			if s.URL != "" {
				out = append(out, s.URL)
			}
		}
		return out
	}
	return r.Citations
}

// Choice is a single completion choice.
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

// SearchResult is one page the model consulted.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"date,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for 429 and 5xx answers.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a Perplexity API client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = maxRetryAttempts
	retry.OnRetry = resilience.RetryLogger(sourceName, "chat_completion")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		retry:   retry,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: marshal request")
	}

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*ChatCompletionResponse, error) {
		return c.send(ctx, body)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "perplexity: chat completion")
		}
		return nil, err
	}
	return resp, nil
}

func (c *httpClient) send(ctx context.Context, body []byte) (*ChatCompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "perplexity: send request")
		}
		return nil, &apperr.UpstreamTimeout{Source: sourceName, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperr.UpstreamTimeout{Source: sourceName, Err: eris.Wrap(err, "read response")}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrapf(&apperr.UpstreamHTTPError{Source: sourceName, Status: resp.StatusCode},
			"perplexity: unexpected status %d: %s", resp.StatusCode, apperr.Truncate(string(respBody), 300))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(apperr.NewParseError("perplexity response", string(respBody), err), "perplexity: unmarshal response")
	}
	return &result, nil
}
