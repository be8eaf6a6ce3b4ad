package cost

import (
	"context"
	"sync"
)

type meterKey struct{}

// Meter accumulates the cost of one job's model calls. A nil Meter
// discards everything, so callers need not check.
type Meter struct {
	mu    sync.Mutex
	calc  *Calculator
	usd   float64
	calls int
}

// NewMeter creates a Meter. A nil calc uses DefaultRates.
func NewMeter(calc *Calculator) *Meter {
	if calc == nil {
		calc = NewCalculator(DefaultRates())
	}
	return &Meter{calc: calc}
}

// WithMeter attaches m to ctx.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// FromContext returns the Meter attached to ctx, or nil.
func FromContext(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}

// AddClaude records one Anthropic message.
func (m *Meter) AddClaude(model string, input, output int64) {
	if m == nil {
		return
	}
	m.add(m.calc.Claude(model, input, output))
}

// AddPerplexity records one grounded completion.
func (m *Meter) AddPerplexity(prompt, completion int) {
	if m == nil {
		return
	}
	m.add(m.calc.Perplexity(prompt, completion))
}

func (m *Meter) add(usd float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usd += usd
	m.calls++
}

// Total returns the accumulated cost and call count.
func (m *Meter) Total() (usd float64, calls int) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usd, m.calls
}
