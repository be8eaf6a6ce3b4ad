package aiextract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-cli/internal/apperr"
	"github.com/sells-group/enrichment-cli/internal/cost"
	"github.com/sells-group/enrichment-cli/internal/model"
	"github.com/sells-group/enrichment-cli/pkg/anthropic"
	"github.com/sells-group/enrichment-cli/pkg/perplexity"
)

type genFunc func(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error)

func (f genFunc) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	return f(ctx, req)
}

func answer(text string, citations ...string) genFunc {
	return func(context.Context, perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
		return &perplexity.ChatCompletionResponse{
			Choices:   []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: text}}},
			Citations: citations,
		}, nil
	}
}

type structurerFunc func(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)

func (f structurerFunc) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return f(ctx, req)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

var acme = Request{BusinessID: "1234567-8", CompanyName: "Acme Oy", DomainHint: "acme.fi"}

func TestExtractBasicInfo_FencedAnswer(t *testing.T) {
	text := "Here is what I found:\n```json\n" + `{
  "name": {"value": "Acme Oy", "source": "https://ytj.fi/acme", "confidence": "HIGH"},
  "industry": {"value": "Software", "source": "https://ytj.fi/acme", "confidence": "HIGH"},
  "companyForm": {"value": "Osakeyhtiö", "source": "https://ytj.fi/acme", "confidence": "HIGH"},
  "address": {"value": "Mannerheimintie 1, Helsinki", "source": "https://acme.fi", "confidence": "HIGH"},
  "website": {"value": "https://acme.fi", "source": "https://acme.fi", "confidence": "HIGH"},
  "employees": {"value": 42, "source": "https://www.finder.fi/acme", "confidence": "MEDIUM"},
  "description": null,
  "products": {"value": ["ERP", "Payroll"], "source": "https://acme.fi", "confidence": "HIGH"},
  "marketPosition": "N/A",
  "confidence": "HIGH",
}` + "\n```"

	var sawReq perplexity.ChatCompletionRequest
	gen := func(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
		sawReq = req
		return answer(text, "https://ytj.fi/acme", "https://other.test")(ctx, req)
	}

	info, sources, err := New(genFunc(gen)).ExtractBasicInfo(context.Background(), acme)
	require.NoError(t, err)

	assert.Equal(t, "Acme Oy", info.Name)
	assert.Equal(t, "Software", info.Industry)
	require.NotNil(t, info.Employees)
	assert.Equal(t, 42, *info.Employees)
	assert.Equal(t, []string{"ERP", "Payroll"}, info.Products)
	assert.Empty(t, info.MarketPosition)
	assert.Equal(t, []string{"registrationDate", "description", "marketPosition"}, info.DataQuality.MissingFields)
	assert.Equal(t, model.ConfidenceHigh, info.DataQuality.Confidence)
	assert.True(t, info.DataQuality.AIGenerated)
	assert.False(t, info.DataQuality.NeedsVerification)
	assert.Equal(t, "https://www.finder.fi/acme", info.Sources["employees"])
	assert.Equal(t, []string{"https://ytj.fi/acme", "https://acme.fi", "https://www.finder.fi/acme", "https://other.test"}, sources)

	require.Len(t, sawReq.Messages, 2)
	assert.Contains(t, sawReq.Messages[1].Content, "Acme Oy")
	assert.Contains(t, sawReq.Messages[1].Content, "1234567-8")
}

func TestExtractBasicInfo_MissingCoreFieldsAreLow(t *testing.T) {
	text := `{"name": "Acme Oy", "website": "https://acme.fi", "companyForm": "Oy", "confidence": "HIGH"}`

	info, _, err := New(answer(text)).ExtractBasicInfo(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, model.ConfidenceLow, info.DataQuality.Confidence)
	assert.True(t, info.DataQuality.NeedsVerification)
	assert.Contains(t, info.DataQuality.MissingFields, "industry")
	assert.Contains(t, info.DataQuality.MissingFields, "address")
	assert.Contains(t, info.DataQuality.MissingFields, "employees")
}

func TestExtractBasicInfo_ParseError(t *testing.T) {
	_, _, err := New(answer("I could not find this company.")).ExtractBasicInfo(context.Background(), acme)
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))

	var pe *apperr.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Preview, "could not find")
}

func TestExtractBasicInfo_EmptyAnswer(t *testing.T) {
	_, _, err := New(answer("   ")).ExtractBasicInfo(context.Background(), acme)
	require.Error(t, err)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))
}

func TestExtractBasicInfo_UpstreamError(t *testing.T) {
	gen := genFunc(func(context.Context, perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
		return nil, &apperr.UpstreamHTTPError{Source: "perplexity", Status: 500}
	})
	_, _, err := New(gen).ExtractBasicInfo(context.Background(), acme)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamHTTP, apperr.KindOf(err))
}

func TestParse_RestructurePass(t *testing.T) {
	var calls int
	st := structurerFunc(func(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		calls++
		assert.Contains(t, req.Messages[0].Content, "Acme Oy is a software company")
		assert.Equal(t, "haiku", req.Model)
		return textResponse(`{"name": "Acme Oy", "industry": "Software", "confidence": "MEDIUM"}`), nil
	})

	e := New(answer("Acme Oy is a software company in Helsinki."), WithRestructurer(st, "haiku"))
	info, _, err := e.ExtractBasicInfo(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "Software", info.Industry)
	assert.Empty(t, info.Address)
}

func TestEngine_MetersModelCalls(t *testing.T) {
	gen := genFunc(func(context.Context, perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
		return &perplexity.ChatCompletionResponse{
			Choices: []perplexity.Choice{{Message: perplexity.Message{Content: "Acme Oy makes software."}}},
			Usage:   perplexity.Usage{PromptTokens: 1000000, CompletionTokens: 0},
		}, nil
	})
	st := structurerFunc(func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		resp := textResponse(`{"name": "Acme Oy", "confidence": "LOW"}`)
		resp.Usage = anthropic.TokenUsage{InputTokens: 1000000}
		return resp, nil
	})

	meter := cost.NewMeter(cost.NewCalculator(cost.Rates{
		Anthropic:  map[string]cost.ModelRate{"haiku": {Input: 1}},
		Perplexity: cost.PerplexityRate{PerQuery: 0.01, InputPerMTok: 2},
	}))
	ctx := cost.WithMeter(context.Background(), meter)

	_, _, err := New(gen, WithRestructurer(st, "haiku")).ExtractBasicInfo(ctx, acme)
	require.NoError(t, err)

	usd, calls := meter.Total()
	assert.Equal(t, 2, calls)
	assert.InDelta(t, 0.01+2+1, usd, 1e-9)
}

func TestParse_RestructureFailureKeepsOriginalError(t *testing.T) {
	st := structurerFunc(func(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse("still not json"), nil
	})

	e := New(answer("no json here"), WithRestructurer(st, ""))
	_, _, err := e.ExtractBasicInfo(context.Background(), acme)
	require.Error(t, err)

	var pe *apperr.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "no json here", pe.Preview)
}

func TestExtractFinancials_UnitsAndMerge(t *testing.T) {
	text := `{
  "currency": "eur",
  "unit": "thousand",
  "yearlyData": [
    {"year": 2023, "revenue": {"value": 224, "source": "https://www.finder.fi/a", "confidence": "HIGH"},
     "operatingProfit": {"value": "2.5 million", "source": "https://www.finder.fi/a", "confidence": "HIGH"},
     "netProfit": {"value": -12, "source": "https://www.finder.fi/a"},
     "confidence": "HIGH"},
    {"year": "2023", "equity": {"value": 100, "unit": "million", "source": "https://asiakastieto.fi/a"}, "confidence": "LOW"},
    {"year": 2022, "unit": "", "revenue": {"value": "1 200 000", "source": "https://kauppalehti.fi/a"}, "totalAssets": 900000},
    {"year": 2021, "revenue": null},
    {"year": "unknown", "revenue": 1}
  ],
  "confidence": "HIGH"
}`

	fin, sources, err := New(answer(text)).ExtractFinancials(context.Background(), acme)
	require.NoError(t, err)

	assert.Equal(t, "EUR", fin.Currency)
	require.Len(t, fin.YearlyData, 2)

	y23 := fin.YearlyData[0]
	assert.Equal(t, 2023, y23.Year)
	assert.Equal(t, "224000", y23.Revenue.String())
	assert.Equal(t, "2500000", y23.OperatingProfit.String())
	assert.Equal(t, "-12000", y23.NetProfit.String())
	assert.Equal(t, "100000000", y23.Equity.String())
	assert.Equal(t, model.ConfidenceHigh, y23.Confidence)
	assert.Equal(t, "https://www.finder.fi/a", y23.Source)

	y22 := fin.YearlyData[1]
	assert.Equal(t, 2022, y22.Year)
	assert.Equal(t, "1200000000", y22.Revenue.String(), "response unit applies when the year leaves it empty")
	assert.Equal(t, "900000000", y22.TotalAssets.String())

	assert.Equal(t, model.ConfidenceHigh, fin.FieldConfidence["2023.revenue"])
	assert.Equal(t, []string{"totalLiabilities"}, fin.MissingFields)
	assert.Equal(t, model.ConfidenceHigh, fin.Confidence)
	assert.Contains(t, sources, "https://asiakastieto.fi/a")
	assert.Contains(t, sources, "https://kauppalehti.fi/a")
}

func TestExtractFinancials_NoYears(t *testing.T) {
	fin, _, err := New(answer(`{"currency": "SEK", "yearlyData": [], "confidence": "HIGH"}`)).
		ExtractFinancials(context.Background(), acme)
	require.NoError(t, err)
	assert.Empty(t, fin.YearlyData)
	assert.Equal(t, "yearlyData", fin.MissingFields[0])
	assert.Equal(t, model.ConfidenceLow, fin.Confidence)
}

func TestAnalyze(t *testing.T) {
	text := `{"summary": "Niche ERP vendor.", "points": [
  {"text": "Competes with Visma", "source": "https://a.test"},
  {"text": ""},
  {"text": "Strong public sector base", "source": "https://b.test"}
], "confidence": "medium"}`

	raw, sources, err := New(answer(text, "https://c.test")).Analyze(context.Background(), model.ModuleCompetitiveLandscape, acme)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test", "https://b.test", "https://c.test"}, sources)

	var out Analysis
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "Niche ERP vendor.", out.Summary)
	assert.Len(t, out.Points, 2)
	assert.Equal(t, model.ConfidenceMedium, out.Confidence)
}

func TestAnalyze_UnknownModule(t *testing.T) {
	_, _, err := New(answer("{}")).Analyze(context.Background(), model.ModuleBasicInfo, acme)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		declared model.Confidence
		missing  int
		want     model.Confidence
	}{
		{model.ConfidenceHigh, 0, model.ConfidenceHigh},
		{model.ConfidenceHigh, 1, model.ConfidenceMedium},
		{model.ConfidenceMedium, 0, model.ConfidenceMedium},
		{"", 0, model.ConfidenceMedium},
		{model.ConfidenceHigh, 3, model.ConfidenceLow},
		{model.ConfidenceLow, 0, model.ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.declared, tt.missing), "declared=%s missing=%d", tt.declared, tt.missing)
	}
}

func TestSourced_Values(t *testing.T) {
	var v struct {
		A sourced `json:"a"`
		B sourced `json:"b"`
		C sourced `json:"c"`
		D sourced `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": "Unknown", "b": {"value": "ERP, Payroll ,", "confidence": "low"}, "c": "about 120 employees", "d": "FY2023"}`), &v))

	assert.False(t, v.A.Present())
	assert.Equal(t, []string{"ERP", "Payroll"}, v.B.Strings())
	assert.Equal(t, model.ConfidenceLow, v.B.Confidence)
	require.NotNil(t, v.C.Int())
	assert.Equal(t, 120, *v.C.Int())
	assert.Equal(t, 0, v.D.Year())
}
