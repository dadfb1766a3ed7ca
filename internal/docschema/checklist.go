package docschema

import "github.com/polisai/polis-docintel/pkg/domain"

// Rule is one line of a compliance checklist.
type Rule struct {
	Name        string
	Description string
	Severity    domain.Severity
}

var businessRules = map[domain.DocumentType][]Rule{
	domain.DocumentInvoice: {
		{Name: "line_items_sum", Description: "Line item amounts add up to the subtotal (or total when no subtotal is given)", Severity: domain.SeverityError},
		{Name: "total_consistency", Description: "Total equals subtotal plus tax", Severity: domain.SeverityError},
		{Name: "hs_code_format", Description: "Every HS code has at least 6 digits", Severity: domain.SeverityWarning},
		{Name: "incoterms_valid", Description: "Incoterms is a valid Incoterms 2020 rule", Severity: domain.SeverityWarning},
		{Name: "country_of_origin", Description: "Country of origin is declared", Severity: domain.SeverityWarning},
		{Name: "seller_tax_id", Description: "Seller tax registration number is present", Severity: domain.SeverityInfo},
	},
	domain.DocumentBillOfEntry: {
		{Name: "duty_consistency", Description: "Total duty equals the sum of item duties", Severity: domain.SeverityError},
		{Name: "assessable_value_consistency", Description: "Assessable value equals the sum of item assessable values", Severity: domain.SeverityError},
		{Name: "hs_code_format", Description: "Every tariff code has 8 digits", Severity: domain.SeverityError},
		{Name: "iec_code_format", Description: "Importer exporter code is 10 characters", Severity: domain.SeverityWarning},
		{Name: "country_of_origin", Description: "Country of origin is declared", Severity: domain.SeverityWarning},
	},
	domain.DocumentGeneral: {
		{Name: "document_identified", Description: "The document kind can be identified", Severity: domain.SeverityWarning},
		{Name: "parties_identified", Description: "At least one party is named", Severity: domain.SeverityInfo},
		{Name: "dated", Description: "The document carries a date", Severity: domain.SeverityInfo},
	},
}

// Checklist returns the full rule checklist: one required-field rule per
// required field followed by the business rules of the document type.
func Checklist(t domain.DocumentType) []Rule {
	doc := For(t)
	rules := make([]Rule, 0, len(doc.Fields)+len(businessRules[doc.Type]))
	for _, name := range doc.RequiredFields() {
		rules = append(rules, Rule{
			Name:        "required_" + name,
			Description: "Field " + name + " is present and non-empty",
			Severity:    domain.SeverityCritical,
		})
	}
	return append(rules, businessRules[doc.Type]...)
}
