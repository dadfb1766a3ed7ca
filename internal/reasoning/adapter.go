// Package reasoning runs the compliance and classification stages. Both follow
// the same path: build a prompt, send it to the best available reasoning
// provider, parse the answer, and synthesize when no provider answers.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/polisai/polis-docintel/internal/dispatch"
	"github.com/polisai/polis-docintel/internal/fallback"
	"github.com/polisai/polis-docintel/internal/parser"
	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Names used when a provider answer could not be parsed.
const (
	ResponseFormatCheck  = "response_format"
	UnstructuredResponse = "unstructured provider response"
)

const complianceMaxTokens = 2048

// Preflighter evaluates deterministic checks over structured data before
// the provider is asked.
type Preflighter interface {
	Preflight(ctx context.Context, docType domain.DocumentType, data map[string]any) ([]domain.Check, error)
}

// Adapter performs compliance analysis and code classification.
type Adapter struct {
	dispatcher *dispatch.Dispatcher
	prefs      *dispatch.PreferenceStore
	synth      *fallback.Synthesizer
	rules      RulesProvider
	preflight  Preflighter
	logger     *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRules sets the checklist source. The embedded checklists are used by default.
func WithRules(r RulesProvider) Option { return func(a *Adapter) { a.rules = r } }

// WithPreflight enables deterministic preflight checks.
func WithPreflight(p Preflighter) Option { return func(a *Adapter) { a.preflight = p } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

// New creates an Adapter.
func New(d *dispatch.Dispatcher, prefs *dispatch.PreferenceStore, synth *fallback.Synthesizer, opts ...Option) *Adapter {
	a := &Adapter{dispatcher: d, prefs: prefs, synth: synth}
	for _, opt := range opts {
		opt(a)
	}
	if a.rules == nil {
		a.rules = EmbeddedRulesProvider{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// AnalyzeCompliance evaluates input, either extracted structured data or raw
// text, against the checklist of hint. It never fails.
func (a *Adapter) AnalyzeCompliance(ctx context.Context, input any, hint domain.DocumentType) domain.ComplianceResult {
	if !hint.Valid() {
		hint = domain.DocumentGeneral
	}

	preflight := a.runPreflight(ctx, input, hint)
	rules, err := a.rules.GetRules(ctx, hint)
	if err != nil {
		a.logger.Warn("Rules unavailable, using built-in checklist", "document_type", hint, "error", err)
		rules, _ = EmbeddedRulesProvider{}.GetRules(ctx, hint)
	}

	req := provider.Request{
		System:    complianceSystemPrompt,
		Prompt:    BuildCompliancePrompt(hint, rules, preflight, renderInput(input)),
		JSON:      true,
		MaxTokens: complianceMaxTokens,
	}
	out := a.dispatcher.Call(ctx, domain.TaskCompliance, a.prefs.Load().Compliance, req)

	var res domain.ComplianceResult
	if out.OK() {
		res = a.interpretCompliance(out.ProviderID, out.Response.Text)
	} else {
		res = a.synth.SynthesizeCompliance(hint)
		res.FallbackReason = out.Reason
		a.logger.Info("Compliance synthesized",
			"document_type", hint,
			"fallback_reason", out.Reason,
			"attempts", out.Attempts,
		)
	}
	res.Preflight = preflight
	return res
}

func (a *Adapter) runPreflight(ctx context.Context, input any, hint domain.DocumentType) []domain.Check {
	data, ok := input.(map[string]any)
	if !ok || a.preflight == nil {
		return nil
	}
	checks, err := a.preflight.Preflight(ctx, hint, data)
	if err != nil {
		a.logger.Warn("Preflight evaluation failed", "document_type", hint, "error", err)
		return nil
	}
	return checks
}

func (a *Adapter) interpretCompliance(providerID, text string) domain.ComplianceResult {
	data, err := parser.ParseStructured(text, parser.ShapeObject)
	if err != nil {
		a.logger.Info("Compliance response unstructured", "provider_id", providerID, "error", err)
		return salvageCompliance(providerID, text)
	}

	res := domain.ComplianceResult{
		Success:         true,
		Checks:          parseChecks(data["checks"]),
		Errors:          stringList(data["errors"]),
		Corrections:     stringList(data["corrections"]),
		Summary:         stringValue(data["summary"]),
		Recommendations: stringList(data["recommendations"]),
		ProviderID:      providerID,
	}

	blocking := false
	passed := 0
	for _, c := range res.Checks {
		if c.Passed {
			passed++
		} else if c.Severity == domain.SeverityError || c.Severity == domain.SeverityCritical {
			blocking = true
		}
	}

	if v, ok := data["isValid"].(bool); ok {
		res.IsValid = v
	} else {
		res.IsValid = !blocking && len(res.Errors) == 0
	}

	if s, ok := parser.Percent(data["score"]); ok {
		res.Score = s
	} else if len(res.Checks) > 0 {
		res.Score = passed * 100 / len(res.Checks)
	}

	if len(res.Checks) == 0 {
		res.Checks = []domain.Check{{
			Name:     "provider_assessment",
			Passed:   res.IsValid,
			Severity: domain.SeverityInfo,
			Message:  res.Summary,
		}}
	}
	return res
}

var scorePattern = regexp.MustCompile(`(?i)\bscore"?\s*[:=]\s*(\d{1,3})`)

// salvageCompliance keeps whatever score the text states and reports the
// response itself as a failed check, so the result always carries one.
func salvageCompliance(providerID, text string) domain.ComplianceResult {
	score := 0
	if m := scorePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			score = domain.ClampScore(n)
		}
	}
	return domain.ComplianceResult{
		Success: true,
		IsValid: false,
		Score:   score,
		Checks: []domain.Check{{
			Name:     ResponseFormatCheck,
			Passed:   false,
			Severity: domain.SeverityWarning,
			Message:  "The provider answer did not contain the expected JSON object",
		}},
		Errors:      []string{UnstructuredResponse},
		Corrections: []string{},
		Summary:     summarize(text),
		ProviderID:  providerID,
	}
}

func parseChecks(v any) []domain.Check {
	items, _ := v.([]any)
	checks := make([]domain.Check, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringValue(m["name"])
		if name == "" {
			name = "check_" + strconv.Itoa(i+1)
		}
		passed, _ := m["passed"].(bool)
		checks = append(checks, domain.Check{
			Name:     name,
			Passed:   passed,
			Severity: domain.ParseSeverity(strings.ToLower(stringValue(m["severity"]))),
			Message:  stringValue(m["message"]),
		})
	}
	return checks
}

// stringList accepts a list of strings, or of objects carrying a message or
// description, and always returns a non-nil slice.
func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		switch t := item.(type) {
		case string:
			s = t
		case map[string]any:
			s = stringValue(t["message"])
			if s == "" {
				s = stringValue(t["description"])
			}
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	const limit = 280
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func renderInput(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case nil:
		return "(no content)"
	}
	b, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(b)
}

const complianceSystemPrompt = "You are a customs and trade compliance reviewer. You answer only with JSON."

// BuildCompliancePrompt renders the compliance prompt. Every document type
// asks for the same top-level shape.
func BuildCompliancePrompt(hint domain.DocumentType, rules string, preflight []domain.Check, input string) string {
	var sb strings.Builder
	sb.WriteString("TASK:\n")
	fmt.Fprintf(&sb, "Review the %s data below for regulatory compliance and internal consistency.\n", hint)
	sb.WriteString("\nRULES:\n")
	sb.WriteString(strings.TrimRight(rules, "\n"))
	if len(preflight) > 0 {
		sb.WriteString("\n\nKNOWN FACTS (automated checks, treat as correct):\n")
		for _, c := range preflight {
			status := "passed"
			if !c.Passed {
				status = "failed"
			}
			if c.Message != "" {
				fmt.Fprintf(&sb, "- %s: %s (%s)\n", c.Name, status, c.Message)
			} else {
				fmt.Fprintf(&sb, "- %s: %s\n", c.Name, status)
			}
		}
	}
	sb.WriteString("\n\nINPUT TO EVALUATE:\n")
	sb.WriteString(input)
	sb.WriteString("\n\nINSTRUCTIONS:\n")
	sb.WriteString("Evaluate the input against every rule. Return one JSON object with ")
	sb.WriteString(`"isValid" (boolean), "score" (0-100), `)
	sb.WriteString(`"checks" (array of {"name","passed","severity","message"}, one per rule, severity one of info/warning/error/critical), `)
	sb.WriteString(`"errors" (array of strings), "corrections" (array of strings), `)
	sb.WriteString(`"summary" (string) and "recommendations" (array of strings).`)
	return sb.String()
}
