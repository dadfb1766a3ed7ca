// Package extraction turns a document into structured data and entities using
// the best available OCR-capable provider, degrading to synthesized output.
package extraction

import (
	"context"
	"log/slog"
	"strings"

	"github.com/polisai/polis-docintel/internal/dispatch"
	"github.com/polisai/polis-docintel/internal/docschema"
	"github.com/polisai/polis-docintel/internal/fallback"
	"github.com/polisai/polis-docintel/internal/parser"
	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Confidence reported when the provider does not state one, and when only
// entities could be recovered from an unstructured response.
const (
	DefaultConfidence    = 85
	EntityOnlyConfidence = 60
)

const maxOutputTokens = 4096

// Adapter performs extraction.
type Adapter struct {
	dispatcher *dispatch.Dispatcher
	prefs      *dispatch.PreferenceStore
	synth      *fallback.Synthesizer
	validator  *parser.SchemaValidator
	logger     *slog.Logger
}

// New creates an Adapter. validator may be nil to skip schema checks.
func New(d *dispatch.Dispatcher, prefs *dispatch.PreferenceStore, synth *fallback.Synthesizer, validator *parser.SchemaValidator, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{dispatcher: d, prefs: prefs, synth: synth, validator: validator, logger: logger}
}

// Extract never fails: when no provider answers the result is synthesized.
func (a *Adapter) Extract(ctx context.Context, doc domain.Document, hint domain.DocumentType) domain.ExtractionResult {
	if !hint.Valid() {
		hint = domain.DocumentGeneral
	}

	req := provider.Request{
		System:    systemPrompt,
		Prompt:    BuildPrompt(hint),
		Document:  &doc,
		JSON:      true,
		MaxTokens: maxOutputTokens,
	}
	out := a.dispatcher.Call(ctx, domain.TaskOCR, a.prefs.Load().OCR, req)

	if !out.OK() {
		res := a.synth.SynthesizeExtraction(hint)
		res.FallbackReason = out.Reason
		res.PageCount = doc.PageCount
		a.logger.Info("Extraction synthesized",
			"document_type", hint,
			"fallback_reason", out.Reason,
			"attempts", out.Attempts,
		)
		return res
	}

	res := a.interpret(out.ProviderID, out.Response.Text, hint)
	res.PageCount = doc.PageCount
	return res
}

func (a *Adapter) interpret(providerID, text string, hint domain.DocumentType) domain.ExtractionResult {
	data, err := parser.ParseStructured(text, parser.ShapeObject)
	if err != nil {
		a.logger.Info("Extraction response unstructured, keeping entities only",
			"provider_id", providerID,
			"document_type", hint,
			"error", err,
		)
		return domain.ExtractionResult{
			Success:    true,
			RawText:    text,
			Entities:   nonNil(parser.ExtractEntities(text)),
			Confidence: EntityOnlyConfidence,
			ProviderID: providerID,
		}
	}

	confidence := DefaultConfidence
	if v, ok := data["confidence"]; ok {
		if c, ok := ScaleConfidence(v); ok {
			confidence = c
		}
		delete(data, "confidence")
	}

	raw := text
	if s, ok := data["rawText"].(string); ok && strings.TrimSpace(s) != "" {
		raw = s
		delete(data, "rawText")
	}

	res := domain.ExtractionResult{
		Success:        true,
		RawText:        raw,
		StructuredData: data,
		Entities:       nonNil(parser.ExtractEntities(raw)),
		Confidence:     confidence,
		ProviderID:     providerID,
	}
	if a.validator != nil {
		res.SchemaViolations = a.validator.Validate(hint, data)
		if len(res.SchemaViolations) > 0 {
			a.logger.Debug("Extraction schema violations",
				"provider_id", providerID,
				"document_type", hint,
				"violations", len(res.SchemaViolations),
			)
		}
	}
	return res
}

// ScaleConfidence converts a provider-reported confidence into 0-100.
func ScaleConfidence(v any) (int, bool) {
	return parser.Percent(v)
}

func nonNil(e []domain.Entity) []domain.Entity {
	if e == nil {
		return []domain.Entity{}
	}
	return e
}

const systemPrompt = "You are a trade document extraction engine. You read invoices, bills of entry and other trade paperwork and return only JSON."

// BuildPrompt renders the extraction prompt for a document type.
func BuildPrompt(hint domain.DocumentType) string {
	doc := docschema.For(hint)

	var sb strings.Builder
	sb.WriteString("TASK:\n")
	sb.WriteString("Extract the fields of the attached ")
	sb.WriteString(doc.Title)
	sb.WriteString(".\n\nFIELDS:\n")
	sb.WriteString(doc.PromptShape())
	sb.WriteString("- rawText (string): full text transcription of the document\n")
	sb.WriteString("\nRULES:\n")
	sb.WriteString("- Use null for fields that are not printed on the document.\n")
	sb.WriteString("- Dates as YYYY-MM-DD. Amounts as plain numbers without symbols or separators.\n")
	sb.WriteString("- Do not invent values.\n")
	sb.WriteString("\nINSTRUCTIONS:\n")
	sb.WriteString("Return a single JSON object with exactly the fields above.")
	return sb.String()
}
