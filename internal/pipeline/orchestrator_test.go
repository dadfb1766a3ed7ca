package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-docintel/internal/dispatch"
	"github.com/polisai/polis-docintel/internal/extraction"
	"github.com/polisai/polis-docintel/internal/fallback"
	"github.com/polisai/polis-docintel/internal/parser"
	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/internal/provider/providertest"
	"github.com/polisai/polis-docintel/internal/reasoning"
	"github.com/polisai/polis-docintel/internal/registry"
	"github.com/polisai/polis-docintel/internal/schedule"
	"github.com/polisai/polis-docintel/internal/source"
	"github.com/polisai/polis-docintel/pkg/domain"
	"github.com/polisai/polis-docintel/pkg/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

const invoiceJSON = `{
	"invoiceNumber": "INV-9", "invoiceDate": "2024-03-02",
	"seller": {"name": "Acme"}, "buyer": {"name": "Globex"}, "currency": "EUR",
	"lineItems": [{"description": "LED lamps for household use", "amount": 40}],
	"totalAmount": 40, "confidence": 0.9
}`

const complianceJSON = `{"isValid": true, "score": 88,
	"checks": [{"name": "currency_code", "passed": true, "severity": "warning"}],
	"errors": [], "corrections": [], "summary": "ok"}`

const classificationJSON = `{"suggestions": [{"code": "8539.52", "description": "LED lamps", "confidence": 77}]}`

// scripted answers every task kind with a canned reply.
func scripted(id string) *providertest.Fake {
	return &providertest.Fake{ProviderID: id, Fn: func(_ context.Context, req provider.Request) (provider.Response, error) {
		switch req.Task {
		case domain.TaskOCR:
			return provider.Response{Text: invoiceJSON}, nil
		case domain.TaskCompliance:
			return provider.Response{Text: complianceJSON}, nil
		default:
			return provider.Response{Text: classificationJSON}, nil
		}
	}}
}

type recorder struct {
	mu     sync.Mutex
	stages []domain.StageSummary
	runs   int
}

func (r *recorder) RecordStage(s domain.StageSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

func (r *recorder) RecordRun(domain.PipelineRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

type failingStore struct{ storage.RunStore }

func (failingStore) Save(context.Context, domain.PipelineRun) error { return errors.New("disk full") }

type harness struct {
	orch  *Orchestrator
	store *storage.MemoryRunStore
	rec   *recorder
}

func newHarness(t *testing.T, cfg Config, providers ...provider.Provider) harness {
	t.Helper()
	reg := registry.New()
	set := provider.NewSet()
	var ids []string
	for _, p := range providers {
		reg.Register(p.ID(), true)
		set.Put(p)
		ids = append(ids, p.ID())
	}
	prefs := dispatch.NewPreferenceStore(dispatch.Preferences{OCR: ids, Compliance: ids, Classification: ids})
	d := dispatch.New(reg, set)
	synth := fallback.NewSeeded(3)
	validator, err := parser.NewSchemaValidator()
	require.NoError(t, err)

	h := harness{store: storage.NewMemoryRunStore(), rec: &recorder{}}
	cfg.Extractor = extraction.New(d, prefs, synth, validator, nil)
	cfg.Reasoner = reasoning.New(d, prefs, synth)
	if cfg.Store == nil {
		cfg.Store = h.store
	}
	cfg.Recorder = h.rec
	if cfg.Loader == nil {
		cfg.Loader = source.NewLoader()
	}
	h.orch = New(cfg)
	return h
}

func TestProcessWithProvider(t *testing.T) {
	h := newHarness(t, Config{}, scripted("openai"))

	run, err := h.orch.Process(context.Background(), Request{
		Bytes:        pngBytes,
		MediaType:    domain.MediaPNG,
		DocumentType: "invoice",
		Classify:     true,
	})
	require.NoError(t, err)

	assert.True(t, run.Success)
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.Synthesized())
	assert.Equal(t, "INV-9", run.Extraction.StructuredData["invoiceNumber"])
	assert.Equal(t, 90, run.Extraction.Confidence)
	assert.Equal(t, 88, run.Compliance.Score)
	require.NotNil(t, run.Classification)
	assert.Equal(t, "8539.52", run.Classification.Suggestions[0].Code)

	require.Len(t, run.Stages, 3)
	assert.Equal(t, []string{domain.StageExtraction, domain.StageCompliance, domain.StageClassification},
		[]string{run.Stages[0].Stage, run.Stages[1].Stage, run.Stages[2].Stage})
	assert.Equal(t, 77, run.Stages[2].ConfidenceOrScore)
	assert.Equal(t, "openai", run.Stages[1].ProviderID)

	stored, err := h.store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, stored.ID)
	assert.Len(t, h.rec.stages, 3)
	assert.Equal(t, 1, h.rec.runs)
}

func TestProcessWithoutProviders(t *testing.T) {
	h := newHarness(t, Config{})

	for _, docType := range []string{"invoice", "billOfEntry", "general"} {
		run, err := h.orch.Process(context.Background(), Request{Bytes: pngBytes, MediaType: domain.MediaPNG, DocumentType: docType})
		require.NoError(t, err, docType)

		assert.True(t, run.Success)
		assert.True(t, run.Synthesized())
		assert.Nil(t, run.Classification)
		require.Len(t, run.Stages, 2)
		for _, s := range run.Stages {
			assert.True(t, s.IsSynthesized)
			assert.Equal(t, domain.FallbackProviderID, s.ProviderID)
			assert.Equal(t, domain.FallbackNoProviderConfigured, s.FallbackReason)
		}
		assert.NotEmpty(t, run.Compliance.Checks)
	}
}

func TestProcessUsesFirstLineItemForClassification(t *testing.T) {
	var seen string
	fake := scripted("anthropic")
	inner := fake.Fn
	fake.Fn = func(ctx context.Context, req provider.Request) (provider.Response, error) {
		if req.Task == domain.TaskClassification {
			seen = req.Prompt
		}
		return inner(ctx, req)
	}
	h := newHarness(t, Config{}, fake)

	_, err := h.orch.Process(context.Background(), Request{Bytes: pngBytes, MediaType: domain.MediaPNG, DocumentType: "invoice", Classify: true})
	require.NoError(t, err)
	assert.Contains(t, seen, "LED lamps for household use")
}

func TestProcessValidation(t *testing.T) {
	h := newHarness(t, Config{MaxDocumentBytes: 64}, scripted("openai"))

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"unknown document type", Request{Bytes: pngBytes, MediaType: domain.MediaPNG, DocumentType: "manifest"}, "document_type"},
		{"empty content", Request{MediaType: domain.MediaPNG}, "document"},
		{"too large", Request{Bytes: make([]byte, 65), MediaType: domain.MediaText}, "document"},
		{"unsupported media type", Request{Bytes: pngBytes, MediaType: "image/gif"}, "media_type"},
		{"magic mismatch", Request{Bytes: []byte("%PDF-1.7\n"), MediaType: domain.MediaPNG}, "media_type"},
		{"unrecognised content", Request{Bytes: []byte{0x00, 0x01, 0x02}}, "media_type"},
		{"missing file", Request{DocumentRef: filepath.Join(t.TempDir(), "absent.pdf")}, "document_ref"},
		{"unsupported scheme", Request{DocumentRef: "ftp://host/doc.pdf"}, "document_ref"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Process(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	list, err := h.store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected documents are not persisted")
}

func TestProcessFromReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(path, pngBytes, 0o600))
	h := newHarness(t, Config{})

	run, err := h.orch.Process(context.Background(), Request{DocumentRef: path})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaPNG, run.MediaType, "media type sniffed from content")
	assert.Equal(t, domain.DocumentGeneral, run.DocumentType)
}

func TestProcessLoadFailuresUseFixedReasons(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("api key"), 0o600))
	h := newHarness(t, Config{Loader: source.NewLoader(source.WithLocalRoot(root))})

	tests := []struct {
		ref    string
		reason string
	}{
		{secret, "local document references are not allowed"},
		{filepath.Join(root, "absent.pdf"), "document not found"},
		{"ftp://host/doc.pdf", "unsupported document reference"},
	}
	for _, tt := range tests {
		_, err := h.orch.Process(context.Background(), Request{DocumentRef: tt.ref})
		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve, tt.ref)
		assert.Equal(t, "document_ref", ve.Field)
		assert.Equal(t, tt.reason, ve.Reason)
		assert.NotContains(t, ve.Error(), root)
	}
}

func TestProcessStoreFailureDoesNotFailRun(t *testing.T) {
	h := newHarness(t, Config{Store: failingStore{}})

	run, err := h.orch.Process(context.Background(), Request{Bytes: pngBytes, MediaType: domain.MediaPNG})
	require.NoError(t, err)
	assert.True(t, run.Success)
}

func TestProcessElapsedUsesClock(t *testing.T) {
	clock := schedule.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	h := newHarness(t, Config{Clock: clock})

	run, err := h.orch.Process(context.Background(), Request{Bytes: []byte("Invoice 12"), MediaType: domain.MediaText})
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), run.CreatedAt)
	assert.Equal(t, int64(0), run.ElapsedMs)
}

func TestClassify(t *testing.T) {
	h := newHarness(t, Config{}, scripted("openai"))

	_, err := h.orch.Classify(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	res, err := h.orch.Classify(context.Background(), "LED lamps")
	require.NoError(t, err)
	assert.Equal(t, "openai", res.ProviderID)
	assert.Equal(t, "8539.52", res.Suggestions[0].Code)
}

func TestProcessBatch(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 3}, scripted("openai"))

	reqs := []Request{
		{Bytes: pngBytes, MediaType: domain.MediaPNG, DocumentType: "invoice"},
		{Bytes: pngBytes, MediaType: domain.MediaPNG, DocumentType: "unknown"},
		{Bytes: []byte("Bill of entry 4411"), MediaType: domain.MediaText, DocumentType: "billOfEntry"},
		{Bytes: pngBytes, MediaType: domain.MediaPNG},
	}
	items := h.orch.ProcessBatch(context.Background(), reqs)
	require.Len(t, items, len(reqs))

	ids := map[string]bool{}
	for i, it := range items {
		assert.Equal(t, i, it.Index)
		if i == 1 {
			assert.ErrorIs(t, it.Err, domain.ErrValidation)
			continue
		}
		require.NoError(t, it.Err)
		assert.False(t, ids[it.Run.ID], "run ids are unique")
		ids[it.Run.ID] = true
	}

	list, err := h.store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestProcessBatchCancelled(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := h.orch.ProcessBatch(ctx, []Request{{Bytes: pngBytes, MediaType: domain.MediaPNG}})
	require.Len(t, items, 1)
	assert.ErrorIs(t, items[0].Err, context.Canceled)
}

func TestFirstLineItem(t *testing.T) {
	assert.Equal(t, "Steel bolts", firstLineItem(map[string]any{
		"items": []any{map[string]any{"description": " "}, map[string]any{"description": "Steel bolts"}},
	}))
	assert.Empty(t, firstLineItem(nil))
	assert.Empty(t, firstLineItem(map[string]any{"lineItems": "not a list"}))
}
