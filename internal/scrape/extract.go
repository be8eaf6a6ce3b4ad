package scrape

import "time"

// Extract runs both tiers over a fetched page and merges them. Tier A
// (embedded payloads) wins per field; Tier B (label battery over visible
// text) only fills what Tier A left empty. Records that state no fiscal year
// get the page's year, or the estimate from fiscalYear.
func Extract(page *Page, locale Locale, src Source, now time.Time) Fields {
	year, estimated := fiscalYear(page.Text, labelSets[locale], now)

	out := ExtractStructured(page.HTML, src.Name, src.Unit, year, estimated)
	out.Merge(ExtractText(page.Text, locale, src.Name, src.Unit, now))
	return out
}
