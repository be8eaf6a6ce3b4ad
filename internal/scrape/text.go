package scrape

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/enrichment-cli/internal/amount"
)

// numberPattern matches one quantity with optional thousands grouping and a
// decimal part: "500000", "1 234", "1.234,50", "2,5".
const numberPattern = `[-−]?\d+(?:[ \x{00A0}\x{202F}.,]\d{3})*(?:[.,]\d{1,2})?`

// unitPattern matches a multiplier written after a number.
const unitPattern = `(?:thousands?|millions?|billions?|tuhatta|tuhat|tusen|miljoonaa|miljoner|miljon|milj|mrd|meur|teur|keur|tkr|mkr|ksek|msek|tsek|mn|mio|bn|k€|t€|m€)\.?`

// inlineYear captures a fiscal year written between a label and its value:
// "Revenue 2023 1 234 567 €".
const inlineYear = `(?:\b((?:19|20)\d{2})\b([^\d\n|]{1,12}))?`

// rowTail captures the rest of the line from the first number on. Table
// rows carry one value per year column.
const rowTail = `(` + numberPattern + `[^\n]*)`

// headerUnit matches a parenthesised column unit right after a label:
// "Liikevaihto (1000 €)", "Omsättning (tkr)".
const headerUnit = `\s*(?:\(([^)\n]{1,24})\))?`

// valueGap is what may sit between a label and its value. Letters are not
// allowed, so "Equity ratio 45 %" never feeds the equity rule.
const valueGap = `[^\p{L}\d\n−-]{0,40}`

type textRule struct {
	field string
	re    *regexp.Regexp
}

// labelRule matches a label row. Submatches: 1 header unit, 2 value gap,
// 3 inline year, 4 space after it, 5 row tail.
func labelRule(field string, labels ...string) textRule {
	return textRule{field: field, re: regexp.MustCompile(
		`(?i)(?:` + strings.Join(labels, "|") + `)` + headerUnit + `(` + valueGap + `)` + inlineYear + rowTail)}
}

// labelSet holds the text rules for one locale.
type labelSet struct {
	money     []textRule
	ratios    []textRule
	employees *regexp.Regexp
	industry  *regexp.Regexp
	address   *regexp.Regexp
	website   *regexp.Regexp
	year      *regexp.Regexp
	columns   *regexp.Regexp
	updated   *regexp.Regexp
}

// English labels are part of every battery; registry sites ship English
// variants of the same templates.
var (
	enRevenue     = []string{`net sales`, `revenue`, `turnover`}
	enOpProfit    = []string{`operating profit`, `ebit\b`}
	enEBITDA      = []string{`ebitda`}
	enProfit      = []string{`profit before tax(?:es)?`, `result before tax(?:es)?`}
	enNet         = []string{`net (?:profit|result|income)`, `profit for the (?:financial )?(?:year|period)`}
	enEquity      = []string{`(?:total )?equity\b(?: capital)?`}
	enAssets      = []string{`total assets`, `balance sheet total`}
	enCurAssets   = []string{`current assets`}
	enCurLiab     = []string{`current liabilities`}
	enSolidity    = []string{`equity ratio`, `solidity`}
	enLiquidity   = []string{`quick ratio`, `current ratio`, `liquidity`}
	enMargin      = []string{`(?:operating |profit )?margin`}
	enEmployees   = `employees|personnel|staff`
	enIndustry    = `industry|line of business`
	enAddress     = `address|visiting address`
	enWebsite     = `website|homepage`
	enFiscalYear  = `fiscal year|financial year|accounting period`
	enLastUpdated = `last updated|updated`
)

func join(a []string, b ...string) []string { return append(append([]string{}, a...), b...) }

func newLabelSet(
	money map[string][]string, ratios map[string][]string,
	employees, industry, address, website, fiscalYear, updated string,
) labelSet {
	ls := labelSet{
		employees: regexp.MustCompile(`(?i)(?:` + employees + `)[^\d\n]{0,30}(\d+(?:[ \x{00A0}]\d{3})*)`),
		industry:  regexp.MustCompile(`(?i)(?:` + industry + `)\s*[:|]?\s*([^\n:|]{3,120})`),
		address:   regexp.MustCompile(`(?i)(?:` + address + `)\s*[:|]?\s*([^\n|]{5,160})`),
		website:   regexp.MustCompile(`(?i)(?:` + website + `)\s*:?\s*((?:https?://|www\.)[^\s"'<>]+)`),
		year:      regexp.MustCompile(`(?i)(?:` + fiscalYear + `)[^\d\n]{0,20}(?:\d{1,2}[./]){0,2}((?:19|20)\d{2})`),
		columns:   regexp.MustCompile(`(?i)(?:` + fiscalYear + `)([^\n]*)`),
		updated:   regexp.MustCompile(`(?i)(?:` + updated + `)[^\d\n]{0,20}(?:\d{1,2}[./]){0,2}((?:19|20)\d{2})`),
	}
	for _, f := range Figures {
		if labels, ok := money[f]; ok {
			ls.money = append(ls.money, labelRule(f, labels...))
		}
		if labels, ok := ratios[f]; ok {
			ls.ratios = append(ls.ratios, labelRule(f, labels...))
		}
	}
	return ls
}

var labelSets = map[Locale]labelSet{
	LocaleFI: newLabelSet(
		map[string][]string{
			FigRevenue:            join(enRevenue, `liikevaihto`),
			FigOperatingProfit:    join(enOpProfit, `liiketulos(?:\s*\(ebit\))?`),
			FigEBITDA:             join(enEBITDA, `käyttökate`),
			FigProfit:             join(enProfit, `tulos ennen (?:tilinpäätössiirtoja ja )?veroja`),
			FigNetResult:          join(enNet, `tilikauden (?:tulos|voitto)`),
			FigEquity:             join(enEquity, `oma pääoma`),
			FigTotalAssets:        join(enAssets, `taseen loppusumma`, `taseen summa`),
			FigCurrentAssets:      join(enCurAssets, `vaihtuvat vastaavat`),
			FigCurrentLiabilities: join(enCurLiab, `lyhytaikainen vieras pääoma`),
		},
		map[string][]string{
			FigSolidityRatio:  join(enSolidity, `omavaraisuusaste`),
			FigLiquidityRatio: join(enLiquidity, `maksuvalmius`, `quick ratio`),
			FigProfitMargin:   join(enMargin, `liiketulos-%`, `liikevoitto-%`, `liiketulosprosentti`),
		},
		enEmployees+`|henkilöstö(?:määrä)?|henkilökunta|työntekijät`,
		enIndustry+`|toimiala`,
		enAddress+`|käyntiosoite|postiosoite|osoite`,
		enWebsite+`|kotisivu(?:t)?|www-osoite`,
		enFiscalYear+`|tilikausi`,
		enLastUpdated+`|päivitetty`,
	),
	LocaleSE: newLabelSet(
		map[string][]string{
			FigRevenue:            join(enRevenue, `nettoomsättning`, `omsättning`),
			FigOperatingProfit:    join(enOpProfit, `rörelseresultat(?:\s*\(ebit\))?`),
			FigEBITDA:             join(enEBITDA),
			FigProfit:             join(enProfit, `resultat efter finansnetto`),
			FigNetResult:          join(enNet, `årets resultat`),
			FigEquity:             join(enEquity, `eget kapital`),
			FigTotalAssets:        join(enAssets, `summa tillgångar`, `balansomslutning`),
			FigCurrentAssets:      join(enCurAssets, `omsättningstillgångar`),
			FigCurrentLiabilities: join(enCurLiab, `kortfristiga skulder`),
		},
		map[string][]string{
			FigSolidityRatio:  join(enSolidity, `soliditet`),
			FigLiquidityRatio: join(enLiquidity, `kassalikviditet`),
			FigProfitMargin:   join(enMargin, `vinstmarginal`, `rörelsemarginal`),
		},
		enEmployees+`|antal anställda|anställda`,
		enIndustry+`|bransch|verksamhet`,
		enAddress+`|besöksadress|postadress|adress`,
		enWebsite+`|hemsida|webbplats`,
		enFiscalYear+`|räkenskapsår|bokslutsår`,
		enLastUpdated+`|uppdaterad`,
	),
}

// ExtractText is Tier B: the locale's label battery run over visible text.
// Money values get their own unit when written, else pageUnit.
func ExtractText(text string, locale Locale, source, pageUnit string, now time.Time) Fields {
	var out Fields
	ls, ok := labelSets[locale]
	if !ok {
		return out
	}

	year, estimated := fiscalYear(text, ls, now)
	cols := columnYears(text, ls)

	for _, r := range ls.money {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for _, v := range placeRow(m, cols, year, estimated) {
			d, ok := amount.ParseNumber(v.number)
			if !ok {
				continue
			}
			unit := v.unit
			if unit == "" {
				unit = m[1]
			}
			if _, known := amount.Multiplier(unit); !known {
				unit = pageUnit
			}
			out.SetFigure(v.year, v.estimated, r.field, amount.Scale(d, unit), TierRegex, source)
		}
	}
	for _, r := range ls.ratios {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for _, v := range placeRow(m, cols, year, estimated) {
			if d, ok := amount.ParseNumber(v.number); ok {
				out.SetFigure(v.year, v.estimated, r.field, d, TierRegex, source)
			}
		}
	}

	if m := ls.employees.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(strings.NewReplacer(" ", "", "\u00a0", "").Replace(m[1])); err == nil {
			out.SetPersonnel(n, TierRegex, source)
		}
	}
	if m := ls.industry.FindStringSubmatch(text); m != nil {
		out.SetText(keyIndustry, strings.TrimSpace(m[1]), TierRegex)
	}
	if m := ls.address.FindStringSubmatch(text); m != nil {
		out.SetText(keyAddress, strings.TrimSpace(m[1]), TierRegex)
	}
	if m := ls.website.FindStringSubmatch(text); m != nil {
		out.SetText(keyWebsite, strings.TrimRight(m[1], ".,;)"), TierRegex)
	}
	if c := amount.DetectCurrency(text); c != "" && len(out.Financials) > 0 {
		out.Currency = c
	}
	return out
}

// fiscalYear finds the reporting year. Without an explicit fiscal-year label
// it falls back to a "last updated" year, minus one when that is the current
// year, and finally to the current year minus one. Fallbacks are estimates.
func fiscalYear(text string, ls labelSet, now time.Time) (int, bool) {
	if ls.year == nil {
		return now.Year() - 1, true
	}
	if m := ls.year.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y, false
	}
	current := now.Year()
	if m := ls.updated.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		if y == current {
			return y - 1, true
		}
		if y < current {
			return y, true
		}
	}
	return current - 1, true
}
