package scrape

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/sells-group/enrichment-cli/internal/amount"
	"github.com/sells-group/enrichment-cli/internal/jsonx"
)

// figureAliases maps payload keys (lowercased) to figure names.
var figureAliases = map[string]string{
	"revenue": FigRevenue, "netsales": FigRevenue, "turnover": FigRevenue, "sales": FigRevenue,
	"liikevaihto": FigRevenue, "omsattning": FigRevenue, "nettoomsattning": FigRevenue,
	"operatingprofit": FigOperatingProfit, "ebit": FigOperatingProfit,
	"liiketulos": FigOperatingProfit, "rorelseresultat": FigOperatingProfit,
	"ebitda": FigEBITDA, "kayttokate": FigEBITDA,
	"profit": FigProfit, "profitbeforetax": FigProfit, "resultatefterfinansnetto": FigProfit,
	"tulosennenveroja": FigProfit,
	"netresult":        FigNetResult, "netprofit": FigNetResult, "netincome": FigNetResult,
	"tilikaudentulos": FigNetResult, "aretsresultat": FigNetResult,
	"equity": FigEquity, "omapaaoma": FigEquity, "egetkapital": FigEquity,
	"totalassets": FigTotalAssets, "taseenloppusumma": FigTotalAssets,
	"summatillgangar": FigTotalAssets, "balansomslutning": FigTotalAssets,
	"currentassets": FigCurrentAssets, "omsattningstillgangar": FigCurrentAssets,
	"vaihtuvatvastaavat": FigCurrentAssets,
	"currentliabilities": FigCurrentLiabilities, "kortfristigaskulder": FigCurrentLiabilities,
	"solidityratio": FigSolidityRatio, "equityratio": FigSolidityRatio,
	"soliditet": FigSolidityRatio, "omavaraisuusaste": FigSolidityRatio,
	"liquidityratio": FigLiquidityRatio, "quickratio": FigLiquidityRatio,
	"kassalikviditet": FigLiquidityRatio,
	"profitmargin":    FigProfitMargin, "vinstmarginal": FigProfitMargin,
}

var (
	yearKeys      = []string{"year", "fiscalYear", "financialYear", "period", "tilikausi", "ar", "år", "accountingYear"}
	unitKeys      = []string{"unit", "amountUnit", "valueUnit", "multiplier", "currencyUnit", "yksikko"}
	currencyKeys  = []string{"currency", "currencyCode", "valuutta", "valuta"}
	industryKeys  = []string{"industry", "industryName", "industryDescription", "toimiala", "bransch", "lineOfBusiness"}
	addressKeys   = []string{"address", "visitingAddress", "postalAddress", "osoite", "besoksadress", "adress"}
	websiteKeys   = []string{"website", "homepage", "webSite", "www", "kotisivu", "hemsida"}
	employeeKeys  = []string{"employees", "numberOfEmployees", "employeeCount", "personnel", "henkilosto", "anstallda", "antalAnstallda"}
	updatedKeys   = []string{"lastUpdated", "updatedAt", "dateModified", "paivitetty", "uppdaterad"}
	yearPrefixRe  = regexp.MustCompile(`^((?:19|20)\d{2})`)
	nextDataRe    = regexp.MustCompile(`(?is)<script[^>]+id=["']__NEXT_DATA__["'][^>]*>(.*?)</script>`)
	ldJSONRe      = regexp.MustCompile(`(?is)<script[^>]+type=["']application/ld\+json["'][^>]*>(.*?)</script>`)
	stateAssignRe = regexp.MustCompile(`window\.__(?:INITIAL_STATE|PRELOADED_STATE|APOLLO_STATE|NUXT)__\s*=\s*`)
)

// Payloads returns the embedded JSON documents of a page: the Next.js data
// blob, window state assignments and ld+json blocks, in that order.
func Payloads(html string) []string {
	var out []string
	for _, m := range nextDataRe.FindAllStringSubmatch(html, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	for _, loc := range stateAssignRe.FindAllStringIndex(html, -1) {
		start := loc[1]
		if end, ok := jsonx.Balanced(html, start); ok {
			out = append(out, html[start:end])
		}
	}
	for _, m := range ldJSONRe.FindAllStringSubmatch(html, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	valid := out[:0]
	for _, p := range out {
		if gjson.Valid(p) {
			valid = append(valid, p)
		} else if repaired := jsonx.Repair(p); gjson.Valid(repaired) {
			valid = append(valid, repaired)
		}
	}
	return valid
}

// structuredExtractor is Tier A.
type structuredExtractor struct {
	source string
	// defaultYear applies to records without a year of their own.
	defaultYear      int
	defaultEstimated bool
	// pageUnit applies to money figures that carry no unit of their own.
	pageUnit string
	out      Fields
}

// ExtractStructured pulls figures and identity fields from the page's
// embedded payloads. Declared units are applied exactly.
func ExtractStructured(html, source, pageUnit string, defaultYear int, defaultEstimated bool) Fields {
	x := &structuredExtractor{
		source:           source,
		defaultYear:      defaultYear,
		defaultEstimated: defaultEstimated,
		pageUnit:         pageUnit,
	}
	for _, p := range Payloads(html) {
		x.walk(gjson.Parse(p), "", 0)
	}
	return x.out
}

const maxDepth = 24

func (x *structuredExtractor) walk(node gjson.Result, inheritedUnit string, depth int) {
	if depth > maxDepth {
		return
	}
	switch {
	case node.IsArray():
		node.ForEach(func(_, v gjson.Result) bool {
			x.walk(v, inheritedUnit, depth+1)
			return true
		})
	case node.IsObject():
		unit := inheritedUnit
		if u := firstString(node, unitKeys); u != "" {
			unit = u
		}
		x.record(node, unit)
		x.identity(node)
		node.ForEach(func(k, v gjson.Result) bool {
			if _, isFigure := figureAliases[normKey(k.String())]; isFigure {
				return true
			}
			x.walk(v, unit, depth+1)
			return true
		})
	}
}

// record reads one object as a financial record when it carries figure keys.
func (x *structuredExtractor) record(node gjson.Result, unit string) {
	year, yearOK := x.yearOf(node)
	currency := firstString(node, currencyKeys)
	node.ForEach(func(k, v gjson.Result) bool {
		name, ok := figureAliases[normKey(k.String())]
		if !ok {
			return true
		}
		// {"revenue": {"2023": 500, "2022": 450}}
		if byYear, ok := yearKeyed(v); ok {
			for y, val := range byYear {
				x.setFigure(y, false, name, val, unit, currency)
			}
			return true
		}
		y, est := year, false
		if !yearOK {
			y, est = x.defaultYear, x.defaultEstimated
		}
		x.setFigure(y, est, name, v, unit, currency)
		return true
	})
}

func (x *structuredExtractor) setFigure(year int, estimated bool, name string, v gjson.Result, unit, currency string) {
	d, ok := figureValue(v, unit, x.pageUnit, ratioFigures[name])
	if !ok {
		return
	}
	if x.out.SetFigure(year, estimated, name, d, TierStructured, x.source) && currency != "" {
		if yf, _ := x.out.year(year); yf.Currency == "" {
			yf.Currency = strings.ToUpper(currency)
		}
	}
	if currency != "" && x.out.Currency == "" {
		x.out.Currency = strings.ToUpper(currency)
	}
}

// figureValue reads a number, a numeric string with its own unit, or a
// {"value": n, "unit": u} object.
func figureValue(v gjson.Result, unit, pageUnit string, ratio bool) (decimal.Decimal, bool) {
	if v.IsObject() {
		inner := v.Get("value")
		if !inner.Exists() {
			inner = v.Get("amount")
		}
		if u := firstString(v, unitKeys); u != "" {
			unit = u
		}
		if !inner.Exists() || inner.IsObject() {
			return decimal.Decimal{}, false
		}
		v = inner
	}
	var d decimal.Decimal
	switch v.Type {
	case gjson.Number:
		parsed, err := decimal.NewFromString(v.Raw)
		if err != nil {
			return decimal.Decimal{}, false
		}
		d = parsed
	case gjson.String:
		parsed, scaled, ok := amount.ParseScaled(v.Str)
		if !ok {
			return decimal.Decimal{}, false
		}
		if ratio || scaled {
			return parsed, true
		}
		d = parsed
	default:
		return decimal.Decimal{}, false
	}
	if ratio {
		return d, true
	}
	if unit == "" {
		unit = pageUnit
	}
	return amount.Scale(d, unit), true
}

func yearKeyed(v gjson.Result) (map[int]gjson.Result, bool) {
	if !v.IsObject() {
		return nil, false
	}
	out := map[int]gjson.Result{}
	all := true
	v.ForEach(func(k, val gjson.Result) bool {
		y, err := strconv.Atoi(k.String())
		if err != nil || y < 1900 || y > 2100 {
			all = false
			return false
		}
		out[y] = val
		return true
	})
	return out, all && len(out) > 0
}

func (x *structuredExtractor) yearOf(node gjson.Result) (int, bool) {
	for _, k := range yearKeys {
		v := node.Get(gjsonKey(k))
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.Number {
			if y := int(v.Int()); y >= 1900 && y <= 2100 {
				return y, true
			}
		}
		if m := yearPrefixRe.FindStringSubmatch(strings.TrimSpace(v.String())); m != nil {
			y, _ := strconv.Atoi(m[1])
			return y, true
		}
		// "01.01.2023-31.12.2023" style periods end with the fiscal year
		if ys := yearAnyRe.FindAllString(v.String(), -1); len(ys) > 0 {
			y, _ := strconv.Atoi(ys[len(ys)-1])
			return y, true
		}
	}
	return 0, false
}

var yearAnyRe = regexp.MustCompile(`(?:19|20)\d{2}`)

func (x *structuredExtractor) identity(node gjson.Result) {
	if s := firstString(node, industryKeys); s != "" {
		x.out.SetText(keyIndustry, s, TierStructured)
	}
	for _, k := range addressKeys {
		if a := addressOf(node.Get(gjsonKey(k))); a != "" {
			x.out.SetText(keyAddress, a, TierStructured)
			break
		}
	}
	if s := firstString(node, websiteKeys); looksLikeURL(s) {
		x.out.SetText(keyWebsite, s, TierStructured)
	}
	for _, k := range employeeKeys {
		v := node.Get(gjsonKey(k))
		if v.IsObject() {
			v = v.Get("value")
		}
		if n, ok := countOf(v); ok {
			x.out.SetPersonnel(n, TierStructured, x.source)
			break
		}
	}
	if s := firstString(node, updatedKeys); s > x.out.LastUpdated {
		x.out.LastUpdated = s
	}
}

func addressOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return strings.TrimSpace(v.Str)
	}
	if !v.IsObject() {
		return ""
	}
	var parts []string
	for _, k := range []string{"streetAddress", "street", "postalCode", "zipCode", "addressLocality", "city", "postOffice"} {
		if s := strings.TrimSpace(v.Get(k).String()); s != "" && v.Get(k).Type == gjson.String {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func countOf(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		if n := int(v.Int()); n >= 0 {
			return n, true
		}
	case gjson.String:
		// ranges like "10-19" keep the lower bound
		if m := leadingIntRe.FindString(v.Str); m != "" {
			n, err := strconv.Atoi(m)
			return n, err == nil
		}
	}
	return 0, false
}

var leadingIntRe = regexp.MustCompile(`\d+`)

func looksLikeURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "www.")
}

func firstString(node gjson.Result, keys []string) string {
	for _, k := range keys {
		if v := node.Get(gjsonKey(k)); v.Type == gjson.String {
			if s := strings.TrimSpace(v.Str); s != "" {
				return s
			}
		}
	}
	return ""
}

// gjsonKey escapes path metacharacters so k is looked up literally.
func gjsonKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(k)
}

// normKey lowercases and removes separators: "net_sales" and "netSales"
// both become "netsales".
func normKey(k string) string {
	k = strings.ToLower(k)
	k = strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
	return strings.NewReplacer("ä", "a", "ö", "o", "å", "a").Replace(k)
}
