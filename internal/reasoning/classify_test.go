package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-docintel/internal/dispatch"
	"github.com/polisai/polis-docintel/internal/fallback"
	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/internal/provider/providertest"
	"github.com/polisai/polis-docintel/pkg/domain"
)

func classifier(t *testing.T, fn func(context.Context, provider.Request) (provider.Response, error)) (*Adapter, *providertest.Fake) {
	t.Helper()
	p := &providertest.Fake{ProviderID: "p", Fn: fn}
	a, _ := newAdapter(t, dispatch.Preferences{Classification: []string{"p"}}, []provider.Provider{p})
	return a, p
}

func TestClassifyParsesSuggestions(t *testing.T) {
	a, _ := classifier(t, providertest.Text(`{"suggestions":[
		{"code":"8539.52","description":"LED lamps","confidence":0.9},
		{"code":"8539.52","description":"duplicate","confidence":0.5},
		{"code":"9405.42","description":"Luminaires"},
		{"description":"no code"}]}`))

	res := a.Classify(context.Background(), "LED bulb 9W E27")
	assert.True(t, res.Success)
	assert.False(t, res.IsSynthesized)
	assert.Equal(t, "p", res.ProviderID)
	require.Len(t, res.Suggestions, 2)
	assert.Equal(t, domain.CodeSuggestion{Code: "8539.52", Description: "LED lamps", Confidence: 90}, res.Suggestions[0])
	assert.Equal(t, DefaultSuggestionConfidence, res.Suggestions[1].Confidence)
}

func TestClassifyAcceptsTopLevelArray(t *testing.T) {
	a, _ := classifier(t, providertest.Text(`[{"hsCode":"0901.21","confidence":"70%"}]`))

	res := a.Classify(context.Background(), "roasted coffee beans")
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "0901.21", res.Suggestions[0].Code)
	assert.Equal(t, 70, res.Suggestions[0].Confidence)
}

func TestClassifySalvagesCodesFromText(t *testing.T) {
	a, _ := classifier(t, providertest.Text("Most likely 7318.15 (bolts), otherwise 7318.16 or 7318.15."))

	res := a.Classify(context.Background(), "steel hex bolts")
	assert.Equal(t, "p", res.ProviderID)
	require.Len(t, res.Suggestions, 2)
	assert.Equal(t, "7318.15", res.Suggestions[0].Code)
	assert.Equal(t, SalvagedCodeConfidence, res.Suggestions[0].Confidence)
}

func TestClassifyNoCodesSynthesizes(t *testing.T) {
	a, _ := classifier(t, providertest.Text("I cannot help with that."))

	res := a.Classify(context.Background(), "cotton shirt")
	assert.True(t, res.IsSynthesized)
	assert.Equal(t, domain.FallbackProviderErrors, res.FallbackReason)
	assert.Len(t, res.Suggestions, 3)
}

func TestClassifyWithoutProvider(t *testing.T) {
	a, _ := newAdapter(t, dispatch.Preferences{}, nil)

	res := a.Classify(context.Background(), "ceramic wall tiles")
	assert.True(t, res.Success)
	assert.True(t, res.IsSynthesized)
	assert.Equal(t, domain.FallbackNoProviderConfigured, res.FallbackReason)
	require.Len(t, res.Suggestions, 3)
	for _, s := range res.Suggestions {
		assert.LessOrEqual(t, s.Confidence, fallback.MaxClassificationConfidence)
	}
	assert.Equal(t, "6907.21", res.Suggestions[0].Code, "keyword match ranks first")
}

func TestClassifyEmptyDescription(t *testing.T) {
	a, p := classifier(t, providertest.Text(`{"suggestions":[]}`))

	res := a.Classify(context.Background(), "   ")
	assert.False(t, res.Success)
	assert.Empty(t, res.Suggestions)
	assert.Equal(t, 0, p.Calls())
}
