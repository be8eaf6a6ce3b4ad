// Package aiextract turns search-grounded language model answers into typed
// enrichment module outputs. Every value the model returns must carry a
// source URL and a confidence tag; anything it cannot find stays absent and
// is reported in a missing-field list.
package aiextract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/cost"
	"github.com/sells-group/enrichment-cli/internal/jsonx"
	"github.com/sells-group/enrichment-cli/pkg/anthropic"
	"github.com/sells-group/enrichment-cli/pkg/perplexity"
)

const defaultTemperature = 0.1

// Request identifies the company a prompt is about.
type Request struct {
	BusinessID  string
	CompanyName string
	DomainHint  string
	// SearchDomains optionally narrows grounding to registry sites.
	SearchDomains []string
}

// Engine builds prompts, calls the grounded model and parses its answers.
type Engine struct {
	gen         perplexity.Client
	structurer  anthropic.Client
	structModel string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRestructurer enables a second pass that converts unparseable grounded
// text into JSON. The pass may only reshape facts already in the text.
func WithRestructurer(c anthropic.Client, model string) Option {
	return func(e *Engine) {
		e.structurer = c
		e.structModel = model
	}
}

// New creates an Engine around a grounded generation client.
func New(gen perplexity.Client, opts ...Option) *Engine {
	e := &Engine{gen: gen}
	for _, o := range opts {
		o(e)
	}
	return e
}

// generate runs one grounded completion and returns the raw text and the
// URLs the provider reported.
func (e *Engine) generate(ctx context.Context, what, prompt string, req Request) (string, []string, error) {
	temp := defaultTemperature
	resp, err := e.gen.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:        &temp,
		SearchDomainFilter: req.SearchDomains,
	})
	if err != nil {
		return "", nil, eris.Wrapf(err, "aiextract: %s: grounded search", what)
	}
	cost.FromContext(ctx).AddPerplexity(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	text := resp.Content()
	if strings.TrimSpace(text) == "" {
		return "", nil, eris.Wrapf(apperr.NewParseError(what, "", eris.New("empty response")), "aiextract: %s", what)
	}
	return text, resp.Sources(), nil
}

// decode parses a model answer that is expected to hold one JSON object.
func decode(what, raw string, v any) error {
	cleaned := jsonx.Clean(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return apperr.NewParseError(what, raw, err)
	}
	return nil
}

// parse decodes raw into v, falling back to the restructuring pass when one
// is configured. The original parse error is returned if both fail.
func (e *Engine) parse(ctx context.Context, what, schema, raw string, v any) error {
	err := decode(what, raw, v)
	if err == nil {
		return nil
	}
	if e.structurer == nil {
		return eris.Wrapf(err, "aiextract: %s", what)
	}

	log := zap.L().With(zap.String("module", what))
	log.Warn("aiextract: unparseable answer, restructuring", zap.Error(err))

	temp := 0.0
	resp, serr := e.structurer.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.structModel,
		MaxTokens:   4096,
		System:      restructurePrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Schema:\n" + schema + "\n\nText:\n" + raw},
		},
	})
	if serr != nil {
		log.Warn("aiextract: restructuring failed", zap.Error(serr))
		return eris.Wrapf(err, "aiextract: %s", what)
	}
	resp.Usage.LogUsage(resp.Model, what)
	cost.FromContext(ctx).AddClaude(e.structModel, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	if derr := decode(what, resp.Text(), v); derr != nil {
		log.Warn("aiextract: restructured answer still unparseable", zap.Error(derr))
		return eris.Wrapf(err, "aiextract: %s", what)
	}
	return nil
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
