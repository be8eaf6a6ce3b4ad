package cost

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 1.00, Output: 5.00},
			"sonnet": {Input: 3.00, Output: 15.00},
		},
		Perplexity: PerplexityRate{PerQuery: 0.005, InputPerMTok: 1.00, OutputPerMTok: 1.00},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   float64
	}{
		{name: "haiku", model: "haiku", input: 1000000, output: 100000, want: 1.00 + 0.50},
		{name: "sonnet", model: "sonnet", input: 1000000, output: 100000, want: 3.00 + 1.50},
		{name: "zero tokens", model: "haiku", want: 0},
		{name: "unknown model", model: "gpt-4", input: 1000000, output: 1000000, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestPerplexity(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.005, calc.Perplexity(0, 0), 1e-9)
	assert.InDelta(t, 0.005+1.0+0.5, calc.Perplexity(1000000, 500000), 1e-9)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()
	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Greater(t, rates.Perplexity.PerQuery, 0.0)
}

func TestMeter_AccumulatesFromContext(t *testing.T) {
	t.Parallel()
	m := NewMeter(NewCalculator(testRates()))
	ctx := WithMeter(context.Background(), m)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			FromContext(ctx).AddPerplexity(0, 0)
		}()
	}
	wg.Wait()
	FromContext(ctx).AddClaude("haiku", 1000000, 0)

	usd, calls := m.Total()
	assert.Equal(t, 11, calls)
	assert.InDelta(t, 10*0.005+1.0, usd, 1e-9)
}

func TestMeter_NilIsNoop(t *testing.T) {
	t.Parallel()
	m := FromContext(context.Background())
	assert.Nil(t, m)
	m.AddPerplexity(100, 100)
	m.AddClaude("haiku", 100, 100)
	usd, calls := m.Total()
	assert.Zero(t, usd)
	assert.Zero(t, calls)
}

func TestNewMeter_DefaultRates(t *testing.T) {
	t.Parallel()
	m := NewMeter(nil)
	m.AddClaude("claude-haiku-4-5-20251001", 1000000, 0)
	usd, _ := m.Total()
	assert.InDelta(t, 1.00, usd, 1e-9)
}
