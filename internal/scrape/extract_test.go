package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func page(html string) *Page {
	return &Page{HTML: html, Text: stripHTML(html)}
}

func figure(t *testing.T, f Fields, year int, name string) string {
	t.Helper()
	for _, y := range f.Financials {
		if y.Year == year {
			if v := y.Get(name); v != nil {
				return v.String()
			}
		}
	}
	return ""
}

func TestExtract_TextRevenueEuro(t *testing.T) {
	html := `<html><body><h1>Acme Oy</h1><p>Revenue ... 500000 €</p></body></html>`
	f := Extract(page(html), LocaleFI, Source{Name: "finder"}, fixedNow)

	require.Len(t, f.Financials, 1)
	yf := f.Financials[0]
	assert.Equal(t, 2024, yf.Year)
	assert.True(t, yf.YearEstimated)
	assert.Equal(t, "500000", yf.Revenue.String())
	assert.Equal(t, TierRegex, f.FigureTier(2024, FigRevenue))
	assert.Equal(t, "EUR", f.Currency)
}

func TestExtract_StructuredThousands(t *testing.T) {
	html := `<html><head><script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"company":{"orgnr":"5566778899","financials":[{"revenue":500,"unit":"thousands"}]}}}}
</script></head><body>Acme AB</body></html>`
	f := Extract(page(html), LocaleSE, Source{Name: "allabolag"}, fixedNow)

	require.Len(t, f.Financials, 1)
	assert.Equal(t, "500000", f.Financials[0].Revenue.String())
	assert.True(t, f.Financials[0].YearEstimated)
	assert.Equal(t, TierStructured, f.FigureTier(2024, FigRevenue))
}

func TestExtract_StructuredBeatsText(t *testing.T) {
	html := `<html><head><script>window.__INITIAL_STATE__ = {"company":{"industry":"Software",
"accounts":[{"fiscalYear":2023,"netSales":{"value":1.5,"unit":"MEUR"},"operatingProfit":120000}]}};</script></head>
<body><p>Tilikausi 2023</p><p>Liikevaihto 1 400 000 €</p><p>Henkilöstö 12</p><p>Toimiala: Ohjelmistot</p></body></html>`
	f := Extract(page(html), LocaleFI, Source{Name: "kauppalehti"}, fixedNow)

	assert.Equal(t, "1500000", figure(t, f, 2023, FigRevenue))
	assert.Equal(t, "120000", figure(t, f, 2023, FigOperatingProfit))
	assert.Equal(t, "Software", f.Industry)
	require.NotNil(t, f.Personnel)
	assert.Equal(t, 12, f.Personnel.Count)
	assert.Equal(t, TierRegex, f.TierOf(keyPersonnel))
	assert.False(t, f.Financials[0].YearEstimated)
}

func TestExtractText_SwedishTableWithHeaderUnit(t *testing.T) {
	text := stripHTML(`<table>
<tr><th>Räkenskapsår</th><td>2023-12</td></tr>
<tr><th>Omsättning (tkr)</th><td>12 345</td></tr>
<tr><th>Rörelseresultat (tkr)</th><td>-1 200</td></tr>
<tr><th>Soliditet</th><td>45,5 %</td></tr>
<tr><th>Antal anställda</th><td>37</td></tr>
</table>`)
	f := ExtractText(text, LocaleSE, "merinfo", "", fixedNow)

	assert.Equal(t, "12345000", figure(t, f, 2023, FigRevenue))
	assert.Equal(t, "-1200000", figure(t, f, 2023, FigOperatingProfit))
	assert.Equal(t, "45.5", figure(t, f, 2023, FigSolidityRatio))
	require.NotNil(t, f.Personnel)
	assert.Equal(t, 37, f.Personnel.Count)
	assert.Equal(t, "SEK", f.Currency)
}

func TestExtractText_PageUnit(t *testing.T) {
	f := ExtractText("Nettoomsättning 2 500\nÅrets resultat 300 tkr", LocaleSE, "allabolag", "thousand", fixedNow)
	assert.Equal(t, "2500000", figure(t, f, 2024, FigRevenue))
	assert.Equal(t, "300000", figure(t, f, 2024, FigNetResult))
}

func TestExtractText_RatioNotMistakenForEquity(t *testing.T) {
	f := ExtractText("Equity ratio 45 %", LocaleFI, "finder", "", fixedNow)
	assert.Equal(t, "", figure(t, f, 2024, FigEquity))
	assert.Equal(t, "45", figure(t, f, 2024, FigSolidityRatio))
}

func TestExtractText_UnitWords(t *testing.T) {
	f := ExtractText("Liikevaihto 2,5 milj. €\nLiiketulos 224 tuhatta euroa", LocaleFI, "finder", "", fixedNow)
	assert.Equal(t, "2500000", figure(t, f, 2024, FigRevenue))
	assert.Equal(t, "224000", figure(t, f, 2024, FigOperatingProfit))
}

func TestExtractText_UnknownLocale(t *testing.T) {
	f := ExtractText("Revenue 100", Locale("dk"), "x", "", fixedNow)
	assert.Equal(t, 0, f.Populated())
}

func TestFiscalYear(t *testing.T) {
	ls := labelSets[LocaleFI]

	y, est := fiscalYear("Tilikausi 01.01.2022 - 31.12.2022", ls, fixedNow)
	assert.Equal(t, 2022, y)
	assert.False(t, est)

	y, est = fiscalYear("Päivitetty 03.02.2025", ls, fixedNow)
	assert.Equal(t, 2024, y)
	assert.True(t, est)

	y, est = fiscalYear("Päivitetty 03.02.2023", ls, fixedNow)
	assert.Equal(t, 2023, y)
	assert.True(t, est)

	y, est = fiscalYear("nothing here", ls, fixedNow)
	assert.Equal(t, 2024, y)
	assert.True(t, est)
}

func TestExtractStructured_LDJSONIdentity(t *testing.T) {
	html := `<script type="application/ld+json">{"@type":"Organization","name":"Acme Oy",
"address":{"streetAddress":"Mannerheimintie 1","postalCode":"00100","addressLocality":"Helsinki"},
"numberOfEmployees":{"@type":"QuantitativeValue","value":42},"website":"https://acme.fi",}</script>`
	f := ExtractStructured(html, "finder", "", 2024, true)

	assert.Equal(t, "Mannerheimintie 1, 00100, Helsinki", f.Address)
	assert.Equal(t, "https://acme.fi", f.Website)
	require.NotNil(t, f.Personnel)
	assert.Equal(t, 42, f.Personnel.Count)
}

func TestExtractStructured_YearKeyedFigures(t *testing.T) {
	html := `<script id="__NEXT_DATA__" type="application/json">{"company":{"unit":"tkr",
"revenue":{"2023":500,"2022":"450"},"currency":"sek"}}</script>`
	f := ExtractStructured(html, "ratsit", "", 2024, true)

	assert.Equal(t, "500000", figure(t, f, 2023, FigRevenue))
	assert.Equal(t, "450000", figure(t, f, 2022, FigRevenue))
	assert.Equal(t, "SEK", f.Currency)
	assert.Equal(t, 2023, f.Latest().Year)
}

func TestPayloads_SkipsInvalid(t *testing.T) {
	html := `<script id="__NEXT_DATA__">{not json</script><script type="application/ld+json">{"a":1}</script>`
	assert.Equal(t, []string{`{"a":1}`}, Payloads(html))
}

func TestExtractText_MultiYearPlainRow(t *testing.T) {
	text := "Tilikausi 2023 2022\nLiikevaihto 500 000 450 000\nLiiketulos 50 000 -12 000\nOmavaraisuusaste 45,5 40,1 %"
	f := ExtractText(text, LocaleFI, "finder", "", fixedNow)

	assert.Equal(t, "500000", figure(t, f, 2023, FigRevenue))
	assert.Equal(t, "450000", figure(t, f, 2022, FigRevenue))
	assert.Equal(t, "50000", figure(t, f, 2023, FigOperatingProfit))
	assert.Equal(t, "-12000", figure(t, f, 2022, FigOperatingProfit))
	assert.Equal(t, "45.5", figure(t, f, 2023, FigSolidityRatio))
	assert.Equal(t, "40.1", figure(t, f, 2022, FigSolidityRatio))
	require.Len(t, f.Financials, 2)
	for _, y := range f.Financials {
		assert.False(t, y.YearEstimated, "year %d", y.Year)
	}
}

func TestExtractText_MultiYearTable(t *testing.T) {
	text := stripHTML(`<table>
<tr><th>Tilikausi</th><th>12/2023</th><th>12/2022</th><th>12/2021</th></tr>
<tr><td>Liikevaihto (1000 €)</td><td>500</td><td>450</td><td>2000</td></tr>
<tr><td>Liiketulos (1000 €)</td><td></td><td>-20</td><td>15</td></tr>
</table>`)
	f := ExtractText(text, LocaleFI, "finder", "", fixedNow)

	assert.Equal(t, "500000", figure(t, f, 2023, FigRevenue))
	assert.Equal(t, "450000", figure(t, f, 2022, FigRevenue))
	assert.Equal(t, "2000000", figure(t, f, 2021, FigRevenue))
	assert.Equal(t, "", figure(t, f, 2023, FigOperatingProfit))
	assert.Equal(t, "-20000", figure(t, f, 2022, FigOperatingProfit))
	assert.Equal(t, "15000", figure(t, f, 2021, FigOperatingProfit))
}

func TestExtractText_AmbiguousRowSkipped(t *testing.T) {
	f := ExtractText("Tilikausi 2023 2022\nLiikevaihto 100 200 300 400", LocaleFI, "finder", "", fixedNow)
	assert.Equal(t, "", figure(t, f, 2023, FigRevenue))
	assert.Equal(t, "", figure(t, f, 2022, FigRevenue))
}

func TestExtractText_InlineYear(t *testing.T) {
	f := ExtractText("Revenue 2023 1 234 567 €", LocaleFI, "finder", "", fixedNow)

	require.Len(t, f.Financials, 1)
	assert.Equal(t, 2023, f.Financials[0].Year)
	assert.False(t, f.Financials[0].YearEstimated)
	assert.Equal(t, "1234567", figure(t, f, 2023, FigRevenue))
	assert.Equal(t, "", figure(t, f, 2024, FigRevenue))
}

func TestRowValues(t *testing.T) {
	tests := []struct {
		name string
		tail string
		cols int
		want []string
	}{
		{name: "single grouped", tail: "1 234 567 €", cols: 1, want: []string{"1 234 567"}},
		{name: "two columns", tail: "500 000 450 000", cols: 2, want: []string{"500 000", "450 000"}},
		{name: "decimals", tail: "45,5 40,1 %", cols: 2, want: []string{"45,5", "40,1"}},
		{name: "cells", tail: "500 000 | | 12", cols: 3, want: []string{"500 000", "", "12"}},
		{name: "units per value", tail: "500 tkr 450 tkr", cols: 2, want: []string{"500", "450"}},
		{name: "ambiguous", tail: "100 200 300 400", cols: 2, want: nil},
		{name: "fewer values than columns", tail: "1 400 000 €", cols: 2, want: []string{"1 400 000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, v := range rowValues(tt.tail, tt.cols) {
				got = append(got, v.number)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnYears(t *testing.T) {
	ls := labelSets[LocaleFI]
	assert.Equal(t, []int{2023, 2022}, columnYears("Tilikausi | 2023 | 2022", ls))
	assert.Equal(t, []int{2023, 2022}, columnYears("Tilikausi 31.12.2023 31.12.2022", ls))
	assert.Nil(t, columnYears("Tilikausi 01.01.2022 - 31.12.2022", ls))
	assert.Nil(t, columnYears("Tilikausi 01.07.2022 - 30.06.2023", ls))
	assert.Nil(t, columnYears("Tilikausi 2023", ls))
}
