package domain

// EntityType names the kind of value recognised by entity extraction.
type EntityType string

// Entity types.
const (
	EntityEmail  EntityType = "email"
	EntityPhone  EntityType = "phone"
	EntityAmount EntityType = "amount"
	EntityDate   EntityType = "date"
)

// Entity is a single value recognised in provider text.
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence int        `json:"confidence"`
}

// ExtractionResult is the output of the OCR stage.
type ExtractionResult struct {
	Success          bool           `json:"success"`
	RawText          string         `json:"rawText,omitempty"`
	StructuredData   map[string]any `json:"structuredData,omitempty"`
	Entities         []Entity       `json:"entities"`
	Confidence       int            `json:"confidence"`
	ProviderID       string         `json:"providerId"`
	IsSynthesized    bool           `json:"isSynthesized"`
	FallbackReason   FallbackReason `json:"fallbackReason,omitempty"`
	SchemaViolations []string       `json:"schemaViolations,omitempty"`
	PageCount        int            `json:"pageCount,omitempty"`
}

// Severity grades a compliance check.
type Severity string

// Check severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalises provider supplied severities, defaulting to warning.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return Severity(s)
	case "low":
		return SeverityInfo
	case "medium":
		return SeverityWarning
	case "high":
		return SeverityError
	}
	return SeverityWarning
}

// Check is one line of a compliance checklist.
type Check struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// ComplianceResult is the output of the compliance stage.
type ComplianceResult struct {
	Success         bool           `json:"success"`
	IsValid         bool           `json:"isValid"`
	Score           int            `json:"score"`
	Checks          []Check        `json:"checks"`
	Errors          []string       `json:"errors"`
	Corrections     []string       `json:"corrections"`
	Summary         string         `json:"summary,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Preflight       []Check        `json:"preflight,omitempty"`
	ProviderID      string         `json:"providerId"`
	IsSynthesized   bool           `json:"isSynthesized"`
	FallbackReason  FallbackReason `json:"fallbackReason,omitempty"`
}

// CodeSuggestion is one candidate tariff code for a product description.
type CodeSuggestion struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Confidence  int    `json:"confidence"`
}

// ClassificationResult wraps classification suggestions with their provenance.
type ClassificationResult struct {
	Success        bool             `json:"success"`
	Suggestions    []CodeSuggestion `json:"suggestions"`
	ProviderID     string           `json:"providerId"`
	IsSynthesized  bool             `json:"isSynthesized"`
	FallbackReason FallbackReason   `json:"fallbackReason,omitempty"`
}

// ClampScore bounds v to the 0..100 range used by confidences and scores.
func ClampScore(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
