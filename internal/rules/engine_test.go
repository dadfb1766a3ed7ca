package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-docintel/pkg/domain"
)

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), opts)
	require.NoError(t, err)
	return e
}

func byName(checks []domain.Check) map[string]domain.Check {
	out := make(map[string]domain.Check, len(checks))
	for _, c := range checks {
		out[c.Name] = c
	}
	return out
}

func TestPreflightInvoice(t *testing.T) {
	e := newEngine(t, Options{})

	data := map[string]any{
		"invoiceNumber": "INV-9",
		"invoiceDate":   "2024-02-30",
		"seller":        map[string]any{"name": "Acme"},
		"buyer":         map[string]any{},
		"currency":      "usd",
		"lineItems": []any{
			map[string]any{"description": "Widgets", "hsCode": "8539.52", "amount": 60.0},
			map[string]any{"description": "Bolts", "hsCode": "7318", "amount": 40.0},
		},
		"subtotal":    100.0,
		"taxAmount":   18.0,
		"totalAmount": 118.0,
		"incoterms":   "fob",
	}
	checks, err := e.Preflight(context.Background(), domain.DocumentInvoice, data)
	require.NoError(t, err)
	got := byName(checks)

	assert.True(t, got["required_invoiceNumber"].Passed)
	assert.Equal(t, domain.SeverityCritical, got["required_invoiceNumber"].Severity)
	assert.False(t, got["required_buyer"].Passed, "empty object is not present")
	assert.True(t, got["required_totalAmount"].Passed)
	assert.True(t, got["date_format"].Passed)
	assert.False(t, got["currency_code"].Passed)
	assert.True(t, got["line_items_sum"].Passed)
	assert.True(t, got["total_consistency"].Passed)
	assert.False(t, got["hs_code_format"].Passed, "7318 has only 4 digits")
	assert.True(t, got["incoterms_valid"].Passed)

	for i := 1; i < len(checks); i++ {
		assert.LessOrEqual(t, checks[i-1].Name, checks[i].Name)
	}
}

func TestPreflightInvoiceArithmeticFailures(t *testing.T) {
	e := newEngine(t, Options{})
	checks, err := e.Preflight(context.Background(), domain.DocumentInvoice, map[string]any{
		"lineItems":   []any{map[string]any{"amount": 10}},
		"subtotal":    25,
		"totalAmount": 30,
		"incoterms":   "FREE",
	})
	require.NoError(t, err)
	got := byName(checks)

	assert.False(t, got["line_items_sum"].Passed)
	assert.Equal(t, domain.SeverityError, got["line_items_sum"].Severity)
	assert.False(t, got["total_consistency"].Passed)
	assert.False(t, got["incoterms_valid"].Passed)
	assert.False(t, got["required_invoiceNumber"].Passed)
	_, hasDate := got["date_format"]
	assert.False(t, hasDate, "absent fields produce no format check")
}

func TestPreflightBillOfEntry(t *testing.T) {
	e := newEngine(t, Options{})
	checks, err := e.Preflight(context.Background(), domain.DocumentBillOfEntry, map[string]any{
		"beNumber":     "1234567",
		"beDate":       "2024-03-01",
		"portCode":     "INNSA1",
		"importerName": "Globex",
		"iecCode":      "AB12345678",
		"items": []any{
			map[string]any{"hsCode": "85395200", "dutyAmount": 10.5, "assessableValue": 100},
			map[string]any{"hsCode": "73181500", "dutyAmount": 4.5, "assessableValue": 50},
		},
		"assessableValue": 150,
		"totalDuty":       15,
	})
	require.NoError(t, err)
	got := byName(checks)

	for _, name := range []string{"required_beNumber", "required_items", "required_totalDuty", "duty_consistency", "assessable_value_consistency", "hs_code_format", "iec_code_format", "date_format"} {
		c, ok := got[name]
		require.True(t, ok, name)
		assert.True(t, c.Passed, name)
	}
}

func TestPreflightGeneralEmpty(t *testing.T) {
	e := newEngine(t, Options{})
	checks, err := e.Preflight(context.Background(), domain.DocumentGeneral, nil)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, "required_summary", checks[0].Name)
	assert.False(t, checks[0].Passed)
}

func TestPreflightCache(t *testing.T) {
	e := newEngine(t, Options{CacheMaxEntries: 1})
	ctx := context.Background()
	data := map[string]any{"summary": "x"}

	first, err := e.Preflight(ctx, domain.DocumentGeneral, data)
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := e.Preflight(ctx, domain.DocumentGeneral, data)
	require.NoError(t, err)
	assert.Equal(t, "required_summary", second[0].Name, "cached results are copied")
	assert.Equal(t, 1, e.cache.Len())

	_, err = e.Preflight(ctx, domain.DocumentGeneral, map[string]any{"summary": "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.cache.Len())

	e.FlushCache()
	assert.Equal(t, 0, e.cache.Len())
}

func TestExtraModules(t *testing.T) {
	dir := t.TempDir()
	extra := `package docintel.preflight

checks contains c if {
	input.document_type == "invoice"
	c := {"name": "custom_rule", "passed": true, "severity": "info", "message": "ok"}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(extra), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	modules, err := LoadModules(dir)
	require.NoError(t, err)
	require.Len(t, modules, 1)

	e := newEngine(t, Options{Modules: modules})
	checks, err := e.Preflight(context.Background(), domain.DocumentInvoice, map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, byName(checks), "custom_rule")
}

func TestInvalidModule(t *testing.T) {
	_, err := NewEngine(context.Background(), Options{Modules: map[string]string{"bad.rego": "package x\nthis is not rego"}})
	assert.Error(t, err)
}
