// Package rules runs deterministic, provider-independent preflight checks
// over extracted document data using an embedded OPA instance. Preflight
// results are reported next to provider checks, never merged into them.
package rules

import (
	"container/list"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/polisai/polis-docintel/internal/docschema"
	"github.com/polisai/polis-docintel/pkg/domain"
)

//go:embed preflight.rego
var preflightModule string

const (
	defaultEntrypoint    = "docintel/preflight/checks"
	defaultCacheCapacity = 512
)

// Options control engine construction.
type Options struct {
	// Entrypoint is the decision path that yields the check set.
	Entrypoint string
	// Modules are extra Rego modules loaded next to the built-in one. A module
	// named "preflight.rego" replaces the built-in module.
	Modules map[string]string
	// CacheMaxEntries bounds the result cache (LRU). Zero selects the default
	// size; negative disables caching.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates preflight checks.
type Engine struct {
	entrypoint string
	prepared   rego.PreparedEvalQuery
	cache      *resultCache
	logger     *slog.Logger
}

// NewEngine parses and prepares the preflight modules.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	modules := map[string]string{"preflight.rego": preflightModule}
	for name, src := range opts.Modules {
		modules[name] = src
	}
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := make([]func(*rego.Rego), 0, len(names)+1)
	regoOpts = append(regoOpts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}
	var cache *resultCache
	if maxEntries > 0 {
		cache = newResultCache(maxEntries)
	}

	return &Engine{entrypoint: entry, prepared: prepared, cache: cache, logger: logger}, nil
}

// LoadModules reads every *.rego file in dir. A missing directory yields no
// modules.
func LoadModules(dir string) (map[string]string, error) {
	if dir == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("glob rego modules: %w", err)
	}
	modules := make(map[string]string, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read rego module %s: %w", p, err)
		}
		modules[filepath.Base(p)] = string(b)
	}
	return modules, nil
}

// Preflight evaluates the checks for data under the given document type.
// Checks are sorted by name.
func (e *Engine) Preflight(ctx context.Context, docType domain.DocumentType, data map[string]any) ([]domain.Check, error) {
	fields := docschema.For(docType).RequiredFields()
	required := make([]any, len(fields))
	for i, f := range fields {
		required[i] = f
	}
	if data == nil {
		data = map[string]any{}
	}

	key, cacheable := e.cacheKey(docType, data)
	if cacheable {
		if cached, ok := e.cache.Get(key); ok {
			return append([]domain.Check(nil), cached...), nil
		}
	}

	input := map[string]any{
		"document_type": string(docType),
		"required":      required,
		"data":          data,
	}
	results, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("opa preflight: %w", err)
	}

	var checks []domain.Check
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		checks, err = toChecks(results[0].Expressions[0].Value)
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	e.logger.Debug("preflight evaluated", "document_type", docType, "checks", len(checks))
	if cacheable {
		e.cache.Add(key, checks)
	}
	return append([]domain.Check(nil), checks...), nil
}

func toChecks(value any) ([]domain.Check, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("opa preflight: unexpected result type %T", value)
	}
	checks := make([]domain.Check, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("opa preflight: unexpected check type %T", item)
		}
		name, _ := m["name"].(string)
		passed, _ := m["passed"].(bool)
		severity, _ := m["severity"].(string)
		message, _ := m["message"].(string)
		checks = append(checks, domain.Check{
			Name:     name,
			Passed:   passed,
			Severity: domain.ParseSeverity(severity),
			Message:  message,
		})
	}
	return checks, nil
}

func (e *Engine) cacheKey(docType domain.DocumentType, data map[string]any) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", false
	}
	h := sha256.New()
	h.Write([]byte(docType))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), true
}

// FlushCache clears cached results.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

type resultCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key    string
	checks []domain.Check
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *resultCache) Get(key string) ([]domain.Check, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).checks, true
}

func (c *resultCache) Add(key string, checks []domain.Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, checks: checks}
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(cacheItem{key: key, checks: checks})
	if c.order.Len() <= c.max {
		return
	}
	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *resultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
