package scrape

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_MergeTierPrecedence(t *testing.T) {
	var a Fields
	a.SetFigure(2023, false, FigRevenue, decimal.NewFromInt(100), TierRegex, "b")
	a.SetText(keyIndustry, "Retail", TierRegex)

	var b Fields
	b.SetFigure(2023, false, FigRevenue, decimal.NewFromInt(200), TierStructured, "c")
	b.SetText(keyIndustry, "Wholesale", TierRegex)
	b.SetPersonnel(5, TierRegex, "c")

	a.Merge(b)
	assert.Equal(t, "200", a.Financials[0].Revenue.String())
	assert.Equal(t, "c", a.Financials[0].Source)
	assert.Equal(t, "Retail", a.Industry, "tie keeps the earlier value")
	require.NotNil(t, a.Personnel)
	assert.Equal(t, 3, a.Populated())
}

func TestFields_LowerTierNeverOverwrites(t *testing.T) {
	var f Fields
	assert.True(t, f.SetFigure(2023, false, FigEquity, decimal.NewFromInt(1), TierStructured, "a"))
	assert.False(t, f.SetFigure(2023, false, FigEquity, decimal.NewFromInt(2), TierRegex, "b"))
	assert.Equal(t, "1", f.Financials[0].Equity.String())
}

func TestFields_MissingAndLatest(t *testing.T) {
	var f Fields
	assert.Nil(t, f.Latest())
	assert.Len(t, f.Missing(), 8)

	f.SetFigure(2022, false, FigRevenue, decimal.NewFromInt(1), TierRegex, "a")
	f.SetFigure(2023, false, FigNetResult, decimal.NewFromInt(1), TierRegex, "a")
	assert.Equal(t, 2023, f.Latest().Year)
	assert.Contains(t, f.Missing(), FigRevenue)
	assert.NotContains(t, f.Missing(), FigNetResult)
}

func TestFields_JSONShape(t *testing.T) {
	var f Fields
	f.SetFigure(2023, false, FigRevenue, decimal.NewFromInt(500000), TierStructured, "allabolag")
	f.Currency = "SEK"
	f.finalize(fixedNow)

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	fin := m["financials"].([]any)[0].(map[string]any)
	assert.Equal(t, "500000", fin["revenue"])
	assert.Nil(t, fin["ebitda"])
	assert.Equal(t, "SEK", fin["currency"])
	assert.Equal(t, "allabolag", fin["source"])
	assert.NotEmpty(t, m["lastUpdated"])
	assert.NotContains(t, m, "tiers")
}
