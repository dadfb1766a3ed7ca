package fallback

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-docintel/internal/docschema"
	"github.com/polisai/polis-docintel/internal/parser"
	"github.com/polisai/polis-docintel/pkg/domain"
)

func TestSynthesizeExtractionShape(t *testing.T) {
	validator, err := parser.NewSchemaValidator()
	require.NoError(t, err)

	s := NewSeeded(1)
	for _, dt := range domain.DocumentTypes {
		t.Run(string(dt), func(t *testing.T) {
			res := s.SynthesizeExtraction(dt)
			assert.True(t, res.Success)
			assert.True(t, res.IsSynthesized)
			assert.Equal(t, domain.FallbackProviderID, res.ProviderID)
			assert.GreaterOrEqual(t, res.Confidence, MinExtractionConfidence)
			assert.LessOrEqual(t, res.Confidence, MaxExtractionConfidence)
			assert.GreaterOrEqual(t, len(res.Entities), 2)
			assert.LessOrEqual(t, len(res.Entities), 4)

			for _, name := range docschema.For(dt).RequiredFields() {
				assert.Contains(t, res.StructuredData, name)
			}
			assert.Empty(t, validator.Validate(dt, res.StructuredData))
		})
	}
}

// Property: for a given hint every synthesized compliance result has the
// same number of checks, at least one, with the score in range.
func TestSynthesizeComplianceCardinalityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hint := rapid.SampledFrom(domain.DocumentTypes).Draw(t, "hint")
		s := New(rand.NewSource(rapid.Int64().Draw(t, "seed")))

		first := s.SynthesizeCompliance(hint)
		n := rapid.IntRange(1, 5).Draw(t, "repeats")
		for range n {
			next := s.SynthesizeCompliance(hint)
			if len(next.Checks) != len(first.Checks) {
				t.Fatalf("check count changed: %d then %d", len(first.Checks), len(next.Checks))
			}
			if next.Score < MinComplianceScore || next.Score > MaxComplianceScore {
				t.Fatalf("score %d out of range", next.Score)
			}
		}
		if len(first.Checks) < 1 {
			t.Fatalf("no checks")
		}
		if len(first.Checks) != len(docschema.Checklist(hint)) {
			t.Fatalf("checks %d do not follow checklist %d", len(first.Checks), len(docschema.Checklist(hint)))
		}
	})
}

func TestSynthesizeComplianceValidity(t *testing.T) {
	s := NewSeeded(7)
	for range 50 {
		res := s.SynthesizeCompliance(domain.DocumentInvoice)
		assert.True(t, res.IsSynthesized)
		assert.Equal(t, domain.FallbackProviderID, res.ProviderID)
		assert.Equal(t, len(res.Errors) == 0, res.IsValid)
		assert.NotEmpty(t, res.Summary)
	}
}

func TestSynthesizeClassification(t *testing.T) {
	s := NewSeeded(3)
	res := s.SynthesizeClassification("Knitted cotton t-shirts, men's")
	require.Len(t, res.Suggestions, 3)
	assert.Equal(t, "6109.10", res.Suggestions[0].Code)

	seen := map[string]bool{}
	for _, sug := range res.Suggestions {
		assert.False(t, seen[sug.Code], "suggestions are distinct")
		seen[sug.Code] = true
		assert.GreaterOrEqual(t, sug.Confidence, MinClassificationConfidence)
		assert.LessOrEqual(t, sug.Confidence, MaxClassificationConfidence)
	}
	assert.True(t, res.IsSynthesized)
}

func TestSeededIsDeterministic(t *testing.T) {
	a := NewSeeded(42).SynthesizeCompliance(domain.DocumentBillOfEntry)
	b := NewSeeded(42).SynthesizeCompliance(domain.DocumentBillOfEntry)
	assert.Equal(t, a, b)
}

func TestConcurrentUse(t *testing.T) {
	s := NewSeeded(9)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				s.SynthesizeExtraction(domain.DocumentGeneral)
				s.SynthesizeClassification("coffee")
			}
		}()
	}
	wg.Wait()
}
