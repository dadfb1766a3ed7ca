package reasoning

import (
	"context"
	"regexp"
	"strings"

	"github.com/polisai/polis-docintel/internal/parser"
	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Confidences for provider suggestions that state none, and for codes
// recovered from unstructured text.
const (
	DefaultSuggestionConfidence = 80
	SalvagedCodeConfidence      = 50
)

const (
	maxSuggestions          = 5
	classificationMaxTokens = 1024
)

var hsCodePattern = regexp.MustCompile(`\b\d{4}(?:\.\d{2}){0,2}\b`)

// Classify suggests tariff codes for a product description. An empty
// description yields an unsuccessful result without contacting a provider.
func (a *Adapter) Classify(ctx context.Context, description string) domain.ClassificationResult {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.ClassificationResult{Suggestions: []domain.CodeSuggestion{}}
	}

	req := provider.Request{
		System:    classificationSystemPrompt,
		Prompt:    BuildClassificationPrompt(description),
		JSON:      true,
		MaxTokens: classificationMaxTokens,
	}
	out := a.dispatcher.Call(ctx, domain.TaskClassification, a.prefs.Load().Classification, req)
	if !out.OK() {
		a.logger.Info("Classification synthesized", "fallback_reason", out.Reason, "attempts", out.Attempts)
		return a.synthesizeClassification(description, out.Reason)
	}

	suggestions := parseSuggestions(out.Response.Text)
	if len(suggestions) == 0 {
		suggestions = salvageCodes(out.Response.Text)
	}
	if len(suggestions) == 0 {
		a.logger.Warn("Classification response carried no codes", "provider_id", out.ProviderID)
		return a.synthesizeClassification(description, domain.FallbackProviderErrors)
	}
	return domain.ClassificationResult{
		Success:     true,
		Suggestions: suggestions,
		ProviderID:  out.ProviderID,
	}
}

func (a *Adapter) synthesizeClassification(description string, reason domain.FallbackReason) domain.ClassificationResult {
	res := a.synth.SynthesizeClassification(description)
	res.FallbackReason = reason
	return res
}

func parseSuggestions(text string) []domain.CodeSuggestion {
	data, err := parser.ParseStructured(text, parser.ShapeList)
	if err != nil {
		return nil
	}
	items, ok := data["suggestions"].([]any)
	if !ok {
		items, _ = data[parser.ListKey].([]any)
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]domain.CodeSuggestion, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		code := strings.TrimSpace(stringValue(m["code"]))
		if code == "" {
			code = strings.TrimSpace(stringValue(m["hsCode"]))
		}
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		confidence, ok := parser.Percent(m["confidence"])
		if !ok {
			confidence = DefaultSuggestionConfidence
		}
		out = append(out, domain.CodeSuggestion{
			Code:        code,
			Description: stringValue(m["description"]),
			Confidence:  confidence,
		})
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func salvageCodes(text string) []domain.CodeSuggestion {
	var out []domain.CodeSuggestion
	seen := make(map[string]struct{})
	for _, code := range hsCodePattern.FindAllString(text, -1) {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, domain.CodeSuggestion{Code: code, Confidence: SalvagedCodeConfidence})
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

const classificationSystemPrompt = "You are a customs tariff classification specialist using the Harmonized System. You answer only with JSON."

// BuildClassificationPrompt renders the classification prompt.
func BuildClassificationPrompt(description string) string {
	var sb strings.Builder
	sb.WriteString("TASK:\n")
	sb.WriteString("Suggest up to three Harmonized System codes for the product below, most likely first.\n")
	sb.WriteString("\nINPUT TO EVALUATE:\n")
	sb.WriteString(description)
	sb.WriteString("\n\nINSTRUCTIONS:\n")
	sb.WriteString(`Return one JSON object {"suggestions":[{"code":"NNNN.NN","description":"heading text","confidence":0-100}]}.`)
	return sb.String()
}
