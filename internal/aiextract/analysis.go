package aiextract

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-cli/internal/model"
)

// AnalysisModules lists the modules Analyze can answer.
var AnalysisModules = []model.ModuleName{
	model.ModuleIndustryAnalysis,
	model.ModuleCompetitiveLandscape,
	model.ModuleMarketTrends,
	model.ModuleGrowthOpportunities,
	model.ModuleRiskAssessment,
	model.ModuleValuationFactors,
}

// Analysis is the output of one analysis module.
type Analysis struct {
	Summary    string           `json:"summary"`
	Points     []AnalysisPoint  `json:"points"`
	Confidence model.Confidence `json:"confidence"`
	Sources    []string         `json:"sources"`
}

// AnalysisPoint is one cited claim.
type AnalysisPoint struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// Analyze runs one analysis module and returns its JSON output.
func (e *Engine) Analyze(ctx context.Context, module model.ModuleName, req Request) (json.RawMessage, []string, error) {
	topic, ok := analysisTopics[string(module)]
	if !ok {
		return nil, nil, eris.Errorf("aiextract: unknown analysis module %q", module)
	}
	what := string(module)

	text, cited, err := e.generate(ctx, what, analysisPrompt(topic, req), req)
	if err != nil {
		return nil, nil, err
	}

	var ans struct {
		Summary    string          `json:"summary"`
		Points     []AnalysisPoint `json:"points"`
		Confidence string          `json:"confidence"`
	}
	const schema = `{"summary": string, "points": [{"text": string, "source": url}], "confidence": string}`
	if err := e.parse(ctx, what, schema, text, &ans); err != nil {
		return nil, nil, err
	}

	out := Analysis{
		Summary:    ans.Summary,
		Confidence: model.ParseConfidence(ans.Confidence),
		Sources:    []string{},
	}
	for _, p := range ans.Points {
		if p.Text == "" {
			continue
		}
		out.Points = append(out.Points, p)
		out.Sources = appendUnique(out.Sources, p.Source)
	}
	out.Sources = appendUnique(out.Sources, cited...)
	if out.Confidence == "" {
		out.Confidence = model.ConfidenceMedium
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "aiextract: %s: marshal", what)
	}
	return raw, out.Sources, nil
}
