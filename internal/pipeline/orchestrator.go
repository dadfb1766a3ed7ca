// Package pipeline drives one document through extraction, compliance and
// optional classification, producing a single PipelineRun.
//
// Only input validation can fail a run. Provider trouble of any kind is
// absorbed by the adapters, which degrade to synthesized results.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-docintel/internal/schedule"
	"github.com/polisai/polis-docintel/internal/source"
	"github.com/polisai/polis-docintel/pkg/domain"
	"github.com/polisai/polis-docintel/pkg/storage"
	"github.com/polisai/polis-docintel/pkg/telemetry"
)

// Extractor runs the OCR stage.
type Extractor interface {
	Extract(ctx context.Context, doc domain.Document, hint domain.DocumentType) domain.ExtractionResult
}

// Reasoner runs the compliance and classification stages.
type Reasoner interface {
	AnalyzeCompliance(ctx context.Context, input any, hint domain.DocumentType) domain.ComplianceResult
	Classify(ctx context.Context, description string) domain.ClassificationResult
}

// DocumentLoader resolves a document reference into bytes.
type DocumentLoader interface {
	Load(ctx context.Context, ref string) (source.Loaded, error)
}

// StageRecorder receives finished stages and runs, typically the Prometheus collector.
type StageRecorder interface {
	RecordStage(s domain.StageSummary)
	RecordRun(r domain.PipelineRun)
}

// Request describes one document submission. Either DocumentRef or Bytes
// must be set; Bytes wins when both are.
type Request struct {
	DocumentRef        string           `json:"documentRef,omitempty"`
	Bytes              []byte           `json:"-"`
	MediaType          domain.MediaType `json:"mediaType,omitempty"`
	DocumentType       string           `json:"documentType,omitempty"`
	Classify           bool             `json:"classify,omitempty"`
	ProductDescription string           `json:"productDescription,omitempty"`
}

// Config holds dependencies for creating an Orchestrator.
type Config struct {
	Extractor Extractor
	Reasoner  Reasoner
	// Loader resolves DocumentRef. Requests carrying only a reference fail
	// validation when it is nil.
	Loader   DocumentLoader
	Store    storage.RunStore
	Recorder StageRecorder
	Clock    schedule.Clock
	Logger   *slog.Logger

	MaxDocumentBytes int64
	Concurrency      int
}

// Orchestrator runs documents through the pipeline.
type Orchestrator struct {
	extractor   Extractor
	reasoner    Reasoner
	loader      DocumentLoader
	store       storage.RunStore
	recorder    StageRecorder
	clock       schedule.Clock
	logger      *slog.Logger
	maxBytes    int64
	concurrency int
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		extractor:   cfg.Extractor,
		reasoner:    cfg.Reasoner,
		loader:      cfg.Loader,
		store:       cfg.Store,
		recorder:    cfg.Recorder,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		maxBytes:    cfg.MaxDocumentBytes,
		concurrency: cfg.Concurrency,
	}
	if o.clock == nil {
		o.clock = schedule.SystemClock{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxBytes <= 0 {
		o.maxBytes = source.DefaultMaxBytes
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	return o
}

// Process runs one document. The returned error is always a
// *domain.ValidationError; nothing is attempted when validation fails.
func (o *Orchestrator) Process(ctx context.Context, req Request) (domain.PipelineRun, error) {
	start := o.clock.Now()

	doc, docType, err := o.prepare(ctx, req)
	if err != nil {
		o.logger.Warn("Document rejected", "document_ref", req.DocumentRef, "error", err)
		return domain.PipelineRun{}, err
	}

	run := domain.PipelineRun{
		ID:           uuid.NewString(),
		DocumentType: docType,
		MediaType:    doc.MediaType,
		Success:      true,
		CreatedAt:    start.UTC(),
	}

	run.Extraction = runStage(ctx, o, &run, domain.StageExtraction, func(ctx context.Context) (domain.ExtractionResult, domain.StageSummary) {
		res := o.extractor.Extract(ctx, doc, docType)
		return res, domain.StageSummary{
			Success:           res.Success,
			ProviderID:        res.ProviderID,
			IsSynthesized:     res.IsSynthesized,
			ConfidenceOrScore: res.Confidence,
			FallbackReason:    res.FallbackReason,
		}
	})

	run.Compliance = runStage(ctx, o, &run, domain.StageCompliance, func(ctx context.Context) (domain.ComplianceResult, domain.StageSummary) {
		res := o.reasoner.AnalyzeCompliance(ctx, complianceInput(run.Extraction), docType)
		return res, domain.StageSummary{
			Success:           res.Success,
			ProviderID:        res.ProviderID,
			IsSynthesized:     res.IsSynthesized,
			ConfidenceOrScore: res.Score,
			FallbackReason:    res.FallbackReason,
		}
	})

	if req.Classify {
		desc := strings.TrimSpace(req.ProductDescription)
		if desc == "" {
			desc = firstLineItem(run.Extraction.StructuredData)
		}
		cls := runStage(ctx, o, &run, domain.StageClassification, func(ctx context.Context) (domain.ClassificationResult, domain.StageSummary) {
			res := o.reasoner.Classify(ctx, desc)
			top := 0
			if len(res.Suggestions) > 0 {
				top = res.Suggestions[0].Confidence
			}
			return res, domain.StageSummary{
				Success:           res.Success,
				ProviderID:        res.ProviderID,
				IsSynthesized:     res.IsSynthesized,
				ConfidenceOrScore: top,
				FallbackReason:    res.FallbackReason,
			}
		})
		run.Classification = &cls
	}

	run.ElapsedMs = o.clock.Now().Sub(start).Milliseconds()

	if o.recorder != nil {
		o.recorder.RecordRun(run)
	}
	o.persist(ctx, run)

	o.logger.Info("Pipeline run completed",
		"run_id", run.ID,
		"document_type", run.DocumentType,
		"synthesized", run.Synthesized(),
		"elapsed_ms", run.ElapsedMs,
	)
	return run, nil
}

// Classify runs classification on its own, outside a document run.
func (o *Orchestrator) Classify(ctx context.Context, description string) (domain.ClassificationResult, error) {
	if strings.TrimSpace(description) == "" {
		return domain.ClassificationResult{}, domain.NewValidationError("product_description", "must not be empty")
	}
	ctx, span := telemetry.StartStage(ctx, domain.StageClassification, "")
	res := o.reasoner.Classify(ctx, description)
	telemetry.EndStage(span, telemetry.StageMetrics{
		ProviderID:     res.ProviderID,
		Synthesized:    res.IsSynthesized,
		FallbackReason: string(res.FallbackReason),
	})
	return res, nil
}

// runStage wraps one stage in a span, times it, records metrics and appends
// its summary to the run.
func runStage[T any](ctx context.Context, o *Orchestrator, run *domain.PipelineRun, stage string, fn func(context.Context) (T, domain.StageSummary)) T {
	start := o.clock.Now()
	stageCtx, span := telemetry.StartStage(ctx, stage, string(run.DocumentType))

	res, summary := fn(stageCtx)

	elapsed := o.clock.Now().Sub(start)
	summary.Stage = stage
	summary.DurationMs = elapsed.Milliseconds()

	m := telemetry.StageMetrics{
		Stage:             stage,
		DocumentType:      string(run.DocumentType),
		ProviderID:        summary.ProviderID,
		Synthesized:       summary.IsSynthesized,
		FallbackReason:    string(summary.FallbackReason),
		ConfidenceOrScore: summary.ConfidenceOrScore,
		Duration:          elapsed,
	}
	telemetry.EndStage(span, m)
	telemetry.RecordStageMetrics(ctx, m)
	if o.recorder != nil {
		o.recorder.RecordStage(summary)
	}

	run.Stages = append(run.Stages, summary)
	return res
}

func (o *Orchestrator) persist(ctx context.Context, run domain.PipelineRun) {
	if o.store == nil {
		return
	}
	// The caller's cancellation should not lose a finished run.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.Save(saveCtx, run); err != nil {
		o.logger.Error("Failed to persist run", "run_id", run.ID, "error", err)
	}
}

// prepare resolves and validates the request.
func (o *Orchestrator) prepare(ctx context.Context, req Request) (domain.Document, domain.DocumentType, error) {
	docType, err := domain.ParseDocumentType(req.DocumentType)
	if err != nil {
		return domain.Document{}, "", err
	}

	b := req.Bytes
	mt := req.MediaType
	if len(b) == 0 && strings.TrimSpace(req.DocumentRef) != "" {
		if o.loader == nil {
			return domain.Document{}, "", domain.NewValidationError("document_ref", "references are not supported without a loader")
		}
		loaded, err := o.loader.Load(ctx, req.DocumentRef)
		if err != nil {
			return domain.Document{}, "", o.loadError(req.DocumentRef, err)
		}
		b = loaded.Bytes
		if mt == "" {
			mt = domain.MediaType(loaded.MediaType)
		}
	}

	if len(b) == 0 {
		return domain.Document{}, "", domain.NewValidationError("document", "content is empty")
	}
	if int64(len(b)) > o.maxBytes {
		return domain.Document{}, "", domain.NewValidationError("document", "%d bytes exceeds the %d byte limit", len(b), o.maxBytes)
	}

	if mt == "" {
		sniffed, ok := source.Detect(b)
		if !ok {
			return domain.Document{}, "", domain.NewValidationError("media_type", "not declared and not recognised from content")
		}
		mt = sniffed
	}
	mt = domain.MediaType(strings.ToLower(strings.TrimSpace(string(mt))))
	if !mt.Valid() {
		return domain.Document{}, "", domain.NewValidationError("media_type", "unsupported media type %q", mt)
	}
	if err := source.CheckMagic(b, mt); err != nil {
		return domain.Document{}, "", err
	}

	pages, err := source.Inspect(b, mt)
	if err != nil {
		// A PDF whose page tree cannot be read is still sent to the provider.
		o.logger.Debug("PDF inspection failed", "error", err)
	}

	return domain.Document{Bytes: b, MediaType: mt, PageCount: pages}, docType, nil
}

// loadError reduces a loader failure to a fixed reason. Paths and backend
// messages are logged, never returned to the caller.
func (o *Orchestrator) loadError(ref string, err error) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	o.logger.Info("Document reference not loaded", "document_ref", ref, "error", err)

	reason := "document could not be loaded"
	switch {
	case errors.Is(err, source.ErrLocalDisallowed):
		reason = "local document references are not allowed"
	case errors.Is(err, source.ErrNotFound):
		reason = "document not found"
	case errors.Is(err, source.ErrTooLarge):
		reason = "document too large"
	case errors.Is(err, source.ErrUnsupportedRef):
		reason = "unsupported document reference"
	}
	return domain.NewValidationError("document_ref", "%s", reason)
}

// complianceInput prefers structured data and falls back to the raw text.
func complianceInput(res domain.ExtractionResult) any {
	if len(res.StructuredData) > 0 {
		return res.StructuredData
	}
	return res.RawText
}

// firstLineItem returns the description of the first goods line in
// extracted invoice or bill-of-entry data.
func firstLineItem(data map[string]any) string {
	for _, key := range []string{"lineItems", "items"} {
		items, ok := data[key].([]any)
		if !ok {
			continue
		}
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if d, ok := m["description"].(string); ok && strings.TrimSpace(d) != "" {
				return strings.TrimSpace(d)
			}
		}
	}
	return ""
}
