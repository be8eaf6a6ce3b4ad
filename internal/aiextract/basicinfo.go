package aiextract

import (
	"context"

	"github.com/sells-group/enrichment-cli/internal/model"
)

// coreIdentityFields are counted for confidence classification.
var coreIdentityFields = []string{"name", "industry", "companyForm", "address", "employees", "website"}

type identityAnswer struct {
	Name             sourced `json:"name"`
	Industry         sourced `json:"industry"`
	CompanyForm      sourced `json:"companyForm"`
	RegistrationDate sourced `json:"registrationDate"`
	Address          sourced `json:"address"`
	Website          sourced `json:"website"`
	Employees        sourced `json:"employees"`
	Description      sourced `json:"description"`
	Products         sourced `json:"products"`
	MarketPosition   sourced `json:"marketPosition"`
	Confidence       string  `json:"confidence"`
}

func (a *identityAnswer) fields() map[string]sourced {
	return map[string]sourced{
		"name": a.Name, "industry": a.Industry, "companyForm": a.CompanyForm,
		"registrationDate": a.RegistrationDate, "address": a.Address, "website": a.Website,
		"employees": a.Employees, "description": a.Description, "products": a.Products,
		"marketPosition": a.MarketPosition,
	}
}

// identityOrder fixes the order of missingFields.
var identityOrder = []string{
	"name", "industry", "companyForm", "registrationDate", "address",
	"website", "employees", "description", "products", "marketPosition",
}

// ExtractBasicInfo asks the grounded model for identity fields. The returned
// slice lists every cited URL.
func (e *Engine) ExtractBasicInfo(ctx context.Context, req Request) (*model.BasicInfo, []string, error) {
	const what = "basic_info"

	text, cited, err := e.generate(ctx, what, identityPrompt(req), req)
	if err != nil {
		return nil, nil, err
	}

	var ans identityAnswer
	if err := e.parse(ctx, what, identitySchema, text, &ans); err != nil {
		return nil, nil, err
	}

	info := &model.BasicInfo{
		Name:             ans.Name.Text(),
		Industry:         ans.Industry.Text(),
		CompanyForm:      ans.CompanyForm.Text(),
		RegistrationDate: ans.RegistrationDate.Text(),
		Address:          ans.Address.Text(),
		Website:          ans.Website.Text(),
		Employees:        ans.Employees.Int(),
		Description:      ans.Description.Text(),
		Products:         ans.Products.Strings(),
		MarketPosition:   ans.MarketPosition.Text(),
		Sources:          map[string]string{},
	}

	fields := ans.fields()
	present := map[string]bool{
		"name": info.Name != "", "industry": info.Industry != "", "companyForm": info.CompanyForm != "",
		"registrationDate": info.RegistrationDate != "", "address": info.Address != "",
		"website": info.Website != "", "employees": info.Employees != nil,
		"description": info.Description != "", "products": len(info.Products) > 0,
		"marketPosition": info.MarketPosition != "",
	}

	missing := []string{}
	sources := []string{}
	for _, name := range identityOrder {
		if !present[name] {
			missing = append(missing, name)
			continue
		}
		if src := fields[name].Source; src != "" {
			info.Sources[name] = src
			sources = appendUnique(sources, src)
		}
	}
	missingCore := 0
	for _, name := range coreIdentityFields {
		if !present[name] {
			missingCore++
		}
	}

	conf := Classify(model.ParseConfidence(ans.Confidence), missingCore)
	info.DataQuality = model.DataQuality{
		AIGenerated:       true,
		NeedsVerification: conf != model.ConfidenceHigh,
		Confidence:        conf,
		MissingFields:     missing,
	}
	return info, appendUnique(sources, cited...), nil
}
