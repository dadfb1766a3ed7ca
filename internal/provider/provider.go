// Package provider defines the contract every external text-generation
// provider implements and the boundary classification that maps provider
// specific error shapes into the domain error taxonomy.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// Request is one generation call.
type Request struct {
	Task   domain.TaskKind
	System string
	Prompt string
	// Document is attached to the prompt when set.
	Document *domain.Document
	// JSON asks the provider for a JSON-only response when it supports it.
	JSON        bool
	MaxTokens   int
	Temperature float32
}

// Response is the provider's answer.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is an external text-generation service.
type Provider interface {
	ID() string
	// Generate performs one call. Errors are *domain.ProviderError.
	Generate(ctx context.Context, req Request) (Response, error)
	// Probe performs the cheapest authenticated call the service offers.
	Probe(ctx context.Context) error
	// SupportsMedia reports whether a document of the given type can be attached.
	SupportsMedia(mt domain.MediaType) bool
}

// Set is the collection of initialized providers, keyed by id. It implements
// the registry's Prober.
type Set struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewSet creates a Set from providers.
func NewSet(providers ...Provider) *Set {
	s := &Set{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		s.providers[p.ID()] = p
	}
	return s
}

// Put adds or replaces a provider.
func (s *Set) Put(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID()] = p
}

// Get returns the provider with id.
func (s *Set) Get(id string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}

// IDs returns the ids of all providers, sorted.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Probe probes the provider with id.
func (s *Set) Probe(ctx context.Context, id string) error {
	p, ok := s.Get(id)
	if !ok {
		return domain.NewProviderError(id, domain.KindCredentialMissing, 0, "provider not initialized", nil)
	}
	return p.Probe(ctx)
}

// Close releases providers that hold connections.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, p := range s.providers {
		c, ok := p.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provider %s: %w", id, err)
		}
	}
	return firstErr
}
