package model

// ModuleName identifies an enrichment module and its column in the enriched
// record.
type ModuleName string

const (
	ModuleBasicInfo            ModuleName = "basic_info"
	ModuleFinancialData        ModuleName = "financial_data"
	ModuleRegistryFinancials   ModuleName = "registry_financials"
	ModuleIndustryAnalysis     ModuleName = "industry_analysis"
	ModuleCompetitiveLandscape ModuleName = "competitive_landscape"
	ModuleMarketTrends         ModuleName = "market_trends"
	ModuleGrowthOpportunities  ModuleName = "growth_opportunities"
	ModuleRiskAssessment       ModuleName = "risk_assessment"
	ModuleValuationFactors     ModuleName = "valuation_factors"
)

// AllModules lists every module in execution order.
var AllModules = []ModuleName{
	ModuleBasicInfo,
	ModuleFinancialData,
	ModuleRegistryFinancials,
	ModuleIndustryAnalysis,
	ModuleCompetitiveLandscape,
	ModuleMarketTrends,
	ModuleGrowthOpportunities,
	ModuleRiskAssessment,
	ModuleValuationFactors,
}

// Valid reports whether m is a known module.
func (m ModuleName) Valid() bool {
	for _, k := range AllModules {
		if k == m {
			return true
		}
	}
	return false
}

// Mandatory reports whether a failure of m fails the whole job.
func (m ModuleName) Mandatory() bool {
	return m == ModuleBasicInfo || m == ModuleFinancialData
}
