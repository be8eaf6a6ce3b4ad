// Package cost estimates the USD spend of the language model calls an
// enrichment job makes.
package cost

// Rates holds per-provider pricing.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate is the USD price per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityRate prices grounded search: a flat request fee plus tokens.
type PerplexityRate struct {
	PerQuery      float64 `yaml:"per_query" mapstructure:"per_query"`
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
}

// Calculator computes costs from token usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude returns the cost of one Anthropic message. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Perplexity returns the cost of one grounded completion.
func (c *Calculator) Perplexity(prompt, completion int) float64 {
	r := c.rates.Perplexity
	return r.PerQuery +
		(float64(prompt)/1e6)*r.InputPerMTok +
		(float64(completion)/1e6)*r.OutputPerMTok
}

// DefaultRates returns list pricing for the models the engine uses.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Perplexity: PerplexityRate{PerQuery: 0.006, InputPerMTok: 3.00, OutputPerMTok: 15.00},
	}
}
