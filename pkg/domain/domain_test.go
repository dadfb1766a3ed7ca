package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderErrorMatchesSentinel(t *testing.T) {
	err := NewProviderError("openai", KindQuotaExceeded, 429, "insufficient_quota", nil)

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.NotErrorIs(t, err, ErrCredentialInvalid)
	assert.Equal(t, "openai: QuotaExceeded (status 429): insufficient_quota", err.Error())

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.ErrorIs(t, wrapped, ErrQuotaExceeded)
	assert.Equal(t, KindQuotaExceeded, KindOf(wrapped))
}

func TestProviderErrorUnwrap(t *testing.T) {
	err := NewProviderError("anthropic", KindProviderFailure, 0, "", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, "anthropic: ProviderFailure: unexpected EOF", err.Error())
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("media_type", "unsupported media type %q", "image/gif")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, `invalid input: media_type: unsupported media type "image/gif"`, err.Error())
	assert.Equal(t, KindValidationError, KindOf(err))

	assert.Equal(t, "invalid input: empty", (&ValidationError{Reason: "empty"}).Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrCredentialMissing, KindCredentialMissing},
		{fmt.Errorf("x: %w", ErrParse), KindParseError},
		{context.DeadlineExceeded, KindProviderTimeout},
		{errors.New("connection reset"), KindProviderFailure},
		{NewProviderError("gemini", KindCredentialInvalid, 0, "denied", nil), KindCredentialInvalid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestParseDocumentType(t *testing.T) {
	for in, want := range map[string]DocumentType{
		"invoice":            DocumentInvoice,
		"Commercial Invoice": DocumentInvoice,
		"bill_of_entry":      DocumentBillOfEntry,
		"BOE":                DocumentBillOfEntry,
		"":                   DocumentGeneral,
	} {
		got, err := ParseDocumentType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDocumentType("manifest")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMediaType(t *testing.T) {
	assert.True(t, MediaWebP.Valid())
	assert.True(t, MediaJPEG.IsImage())
	assert.False(t, MediaPDF.IsImage())
	assert.False(t, MediaType("image/gif").Valid())
}

func TestRunSynthesized(t *testing.T) {
	run := PipelineRun{Stages: []StageSummary{{Stage: StageExtraction}, {Stage: StageCompliance}}}
	assert.False(t, run.Synthesized())
	run.Stages[1].IsSynthesized = true
	assert.True(t, run.Synthesized())
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-4))
	assert.Equal(t, 100, ClampScore(140))
	assert.Equal(t, 63, ClampScore(63))
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("critical"))
	assert.Equal(t, SeverityError, ParseSeverity("high"))
	assert.Equal(t, SeverityWarning, ParseSeverity("whatever"))
}
