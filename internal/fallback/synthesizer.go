// Package fallback produces synthesized results with the same shape as real
// provider output. It never performs external calls. Synthesized results are
// always flagged and carry confidences below what a real provider reports.
package fallback

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/polisai/polis-docintel/internal/docschema"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Confidence and score ranges of synthesized results, inclusive.
const (
	MinExtractionConfidence     = 50
	MaxExtractionConfidence     = 60
	MinComplianceScore          = 55
	MaxComplianceScore          = 75
	MinClassificationConfidence = 30
	MaxClassificationConfidence = 60

	classificationSuggestions = 3
)

// Synthesizer generates placeholder results. It is safe for concurrent use.
type Synthesizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Synthesizer. A nil source seeds from the clock.
func New(src rand.Source) *Synthesizer {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Synthesizer{rng: rand.New(src)}
}

// NewSeeded creates a Synthesizer with a fixed seed.
func NewSeeded(seed int64) *Synthesizer {
	return New(rand.NewSource(seed))
}

func (s *Synthesizer) between(lo, hi int) int {
	return lo + s.rng.Intn(hi-lo+1)
}

func (s *Synthesizer) pick(options []string) string {
	return options[s.rng.Intn(len(options))]
}

// SynthesizeExtraction returns structured data following the hint's field
// catalogue plus a handful of entities.
func (s *Synthesizer) SynthesizeExtraction(hint domain.DocumentType) domain.ExtractionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := docschema.For(hint)
	data := make(map[string]any, len(doc.Fields))
	for _, f := range doc.Fields {
		data[f.Name] = s.value(f)
	}

	entities := s.entities(s.between(2, 4))

	var raw strings.Builder
	fmt.Fprintf(&raw, "Synthesized %s.", doc.Title)
	for _, e := range entities {
		fmt.Fprintf(&raw, " %s", e.Value)
	}

	return domain.ExtractionResult{
		Success:        true,
		RawText:        raw.String(),
		StructuredData: data,
		Entities:       entities,
		Confidence:     s.between(MinExtractionConfidence, MaxExtractionConfidence),
		ProviderID:     domain.FallbackProviderID,
		IsSynthesized:  true,
	}
}

var (
	currencies = []string{"USD", "EUR", "INR", "GBP", "AED", "SGD"}
	countries  = []string{"IN", "CN", "US", "DE", "VN", "AE"}
	incoterms  = []string{"FOB", "CIF", "EXW", "DAP", "DDP"}
	goods      = []string{"Cotton t-shirts", "Steel fasteners", "LED lamps", "Ceramic tiles", "Roasted coffee beans"}
	companies  = []string{"Acme Exports Ltd", "Globex Trading Co", "Initech Imports", "Sterling Freight LLP"}
	ports      = []string{"INNSA1", "INMAA1", "INBOM4", "INDEL4"}
)

func (s *Synthesizer) value(f docschema.Field) any {
	switch f.Type {
	case docschema.TypeNumber:
		return float64(s.between(100, 50000)) + float64(s.rng.Intn(100))/100
	case docschema.TypeObject:
		obj := make(map[string]any, len(f.Fields))
		for _, sub := range f.Fields {
			obj[sub.Name] = s.value(sub)
		}
		return obj
	case docschema.TypeArray:
		n := s.between(1, 3)
		items := make([]any, 0, n)
		for range n {
			if len(f.Fields) == 0 {
				items = append(items, s.pick(companies))
				continue
			}
			items = append(items, s.value(docschema.Field{Type: docschema.TypeObject, Fields: f.Fields}))
		}
		return items
	}

	switch f.Format {
	case "date":
		return s.date()
	case "currency":
		return s.pick(currencies)
	case "country":
		return s.pick(countries)
	case "hscode":
		return fmt.Sprintf("%04d.%02d.%02d", s.between(101, 9706), s.rng.Intn(100), s.rng.Intn(100))
	}

	lower := strings.ToLower(f.Name)
	switch {
	case lower == "name" || strings.Contains(lower, "importer"):
		return s.pick(companies)
	case strings.Contains(lower, "description"):
		return s.pick(goods)
	case lower == "incoterms":
		return s.pick(incoterms)
	case lower == "portcode":
		return s.pick(ports)
	case lower == "summary":
		return "Synthesized summary: document content could not be analysed by a provider."
	case strings.HasSuffix(lower, "number") || strings.HasSuffix(lower, "code") || strings.HasSuffix(lower, "id"):
		return fmt.Sprintf("SYN-%06d", s.rng.Intn(1000000))
	}
	return "synthesized " + f.Name
}

func (s *Synthesizer) date() string {
	return fmt.Sprintf("2024-%02d-%02d", s.between(1, 12), s.between(1, 28))
}

func (s *Synthesizer) entities(n int) []domain.Entity {
	// Each kind at most once so the requested count survives de-duplication.
	kinds := []domain.EntityType{domain.EntityEmail, domain.EntityDate, domain.EntityAmount, domain.EntityPhone}
	s.rng.Shuffle(len(kinds), func(i, j int) { kinds[i], kinds[j] = kinds[j], kinds[i] })

	out := make([]domain.Entity, 0, n)
	for _, k := range kinds[:n] {
		e := domain.Entity{Type: k, Confidence: s.between(MinExtractionConfidence, MaxExtractionConfidence)}
		switch k {
		case domain.EntityEmail:
			e.Value = fmt.Sprintf("trade%d@example.com", s.rng.Intn(1000))
		case domain.EntityDate:
			e.Value = s.date()
		case domain.EntityAmount:
			e.Value = fmt.Sprintf("%s %d.%02d", s.pick(currencies), s.between(100, 99999), s.rng.Intn(100))
		case domain.EntityPhone:
			e.Value = fmt.Sprintf("+91 %05d %05d", s.rng.Intn(100000), s.rng.Intn(100000))
		}
		out = append(out, e)
	}
	return out
}

// SynthesizeCompliance returns one check per checklist rule of the hint, so
// the check count is fixed per hint while outcomes vary.
func (s *Synthesizer) SynthesizeCompliance(hint domain.DocumentType) domain.ComplianceResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := docschema.Checklist(hint)
	res := domain.ComplianceResult{
		Success:       true,
		Score:         s.between(MinComplianceScore, MaxComplianceScore),
		Checks:        make([]domain.Check, 0, len(rules)),
		Errors:        []string{},
		Corrections:   []string{},
		ProviderID:    domain.FallbackProviderID,
		IsSynthesized: true,
	}

	blocking := false
	for _, r := range rules {
		passed := s.rng.Intn(4) != 0
		c := domain.Check{Name: r.Name, Passed: passed, Severity: r.Severity}
		if passed {
			c.Message = r.Description + ": appears satisfied"
		} else {
			c.Message = r.Description + ": could not be confirmed"
			if r.Severity == domain.SeverityError || r.Severity == domain.SeverityCritical {
				blocking = true
				res.Errors = append(res.Errors, r.Description)
			}
			res.Corrections = append(res.Corrections, "Verify: "+strings.ToLower(r.Description))
		}
		res.Checks = append(res.Checks, c)
	}

	if len(res.Checks) == 0 {
		res.Checks = append(res.Checks, domain.Check{
			Name:     "manual_review",
			Passed:   false,
			Severity: domain.SeverityWarning,
			Message:  "No automated checks available",
		})
	}

	res.IsValid = !blocking
	res.Summary = fmt.Sprintf("Synthesized %s review: %d checks, no provider analysis performed.", docschema.For(hint).Title, len(res.Checks))
	res.Recommendations = []string{"Re-run compliance analysis once a provider is available."}
	return res
}

type heading struct {
	code, description string
	keywords          []string
}

var headings = []heading{
	{"6109.10", "T-shirts, singlets and other vests, knitted, of cotton", []string{"shirt", "cotton", "apparel", "garment"}},
	{"7318.15", "Threaded screws and bolts of iron or steel", []string{"screw", "bolt", "fastener", "steel"}},
	{"8539.52", "LED lamps", []string{"led", "lamp", "bulb", "light"}},
	{"6907.21", "Ceramic flags and paving, hearth or wall tiles", []string{"tile", "ceramic"}},
	{"0901.21", "Coffee, roasted, not decaffeinated", []string{"coffee"}},
	{"8471.30", "Portable automatic data processing machines", []string{"laptop", "computer", "notebook"}},
	{"3004.90", "Medicaments in measured doses", []string{"medicine", "tablet", "pharma", "drug"}},
	{"8708.99", "Parts and accessories of motor vehicles", []string{"auto", "vehicle", "car", "spare"}},
	{"0401.10", "Milk and cream, fat content not exceeding 1%", []string{"milk", "dairy", "cream"}},
}

// SynthesizeClassification returns three distinct HS code suggestions.
// Headings whose keywords occur in the description are preferred.
func (s *Synthesizer) SynthesizeClassification(description string) domain.ClassificationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(description)
	order := s.rng.Perm(len(headings))
	var matched, rest []heading
	for _, i := range order {
		h := headings[i]
		if containsAny(lower, h.keywords) {
			matched = append(matched, h)
		} else {
			rest = append(rest, h)
		}
	}
	candidates := append(matched, rest...)

	res := domain.ClassificationResult{
		Success:       true,
		Suggestions:   make([]domain.CodeSuggestion, 0, classificationSuggestions),
		ProviderID:    domain.FallbackProviderID,
		IsSynthesized: true,
	}
	for _, h := range candidates[:classificationSuggestions] {
		res.Suggestions = append(res.Suggestions, domain.CodeSuggestion{
			Code:        h.code,
			Description: h.description,
			Confidence:  s.between(MinClassificationConfidence, MaxClassificationConfidence),
		})
	}
	return res
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
