package aiextract

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a company research assistant. Answer with a single JSON object and nothing else.
Only report facts you found in a source you can cite. Never estimate or invent a value.
If a field cannot be found, set it to null.`

const restructurePrompt = `Convert the research text into one JSON object that matches the schema.
Use only facts stated in the text. Do not add, infer or estimate anything.
Use null for every field the text does not state. Answer with the JSON object only.`

const unitRules = `Unit rules:
- Report every monetary value as a plain number in full units of the reporting currency.
- "thousand", "tuhatta", "tkr", "TEUR" or "(1000)" means multiply by 1,000: 224 thousand -> 224000.
- "million", "milj.", "MEUR", "mkr" means multiply by 1,000,000: 2.5 million -> 2500000.
- If you cannot apply the unit, put the unit word in the "unit" field instead of guessing.`

const identitySchema = `{
  "name":             {"value": string, "source": url, "confidence": "HIGH"|"MEDIUM"|"LOW"},
  "industry":         {"value": string, "source": url, "confidence": ...},
  "companyForm":      {"value": string, "source": url, "confidence": ...},
  "registrationDate": {"value": "YYYY-MM-DD", "source": url, "confidence": ...},
  "address":          {"value": string, "source": url, "confidence": ...},
  "website":          {"value": url, "source": url, "confidence": ...},
  "employees":        {"value": integer, "source": url, "confidence": ...},
  "description":      {"value": string, "source": url, "confidence": ...},
  "products":         {"value": [string], "source": url, "confidence": ...},
  "marketPosition":   {"value": string, "source": url, "confidence": ...},
  "confidence": "HIGH"|"MEDIUM"|"LOW"
}`

const financialSchema = `{
  "currency": "EUR"|"SEK"|...,
  "unit": null|"thousand"|"million",
  "yearlyData": [
    {
      "year": integer,
      "revenue":          {"value": number, "source": url, "confidence": "HIGH"|"MEDIUM"|"LOW"},
      "operatingProfit":  {"value": number, "source": url, "confidence": ...},
      "netProfit":        {"value": number, "source": url, "confidence": ...},
      "totalAssets":      {"value": number, "source": url, "confidence": ...},
      "equity":           {"value": number, "source": url, "confidence": ...},
      "totalLiabilities": {"value": number, "source": url, "confidence": ...},
      "source": url,
      "confidence": "HIGH"|"MEDIUM"|"LOW"
    }
  ],
  "confidence": "HIGH"|"MEDIUM"|"LOW"
}`

func subject(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nBusiness ID: %s\n", req.CompanyName, req.BusinessID)
	if req.DomainHint != "" {
		fmt.Fprintf(&b, "Website: %s\n", req.DomainHint)
	}
	return b.String()
}

func identityPrompt(req Request) string {
	return subject(req) + `
Find the company's identity details from the official trade register and the company's own website.
Every value must carry the URL it was found at and a confidence tag.

Return JSON with this shape:
` + identitySchema
}

func financialPrompt(req Request) string {
	return subject(req) + `
Find the company's key financial figures for the last five fiscal years from official financial statements
or registry services. Only include years you found figures for.

` + unitRules + `

Return JSON with this shape:
` + financialSchema
}

// analysisTopics describes what each analysis module asks about.
var analysisTopics = map[string]string{
	"industry_analysis":     "the industry the company operates in: size, structure, key drivers and regulation",
	"competitive_landscape": "the company's main competitors and how the company differs from them",
	"market_trends":         "current trends affecting the company's market",
	"growth_opportunities":  "realistic growth opportunities for the company",
	"risk_assessment":       "the main business, financial and market risks for the company",
	"valuation_factors":     "factors a buyer would weigh when valuing the company",
}

func analysisPrompt(topic string, req Request) string {
	return subject(req) + `
Research ` + topic + `.
Cite a source URL for every claim.

Return JSON with this shape:
{"summary": string, "points": [{"text": string, "source": url}], "confidence": "HIGH"|"MEDIUM"|"LOW"}`
}
