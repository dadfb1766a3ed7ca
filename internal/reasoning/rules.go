package reasoning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/polisai/polis-docintel/internal/docschema"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// ErrRulesNotFound is returned when no checklist exists for a document type.
var ErrRulesNotFound = errors.New("rules not found")

// RulesProvider supplies the checklist text placed in compliance prompts.
type RulesProvider interface {
	GetRules(ctx context.Context, docType domain.DocumentType) (string, error)
}

// EmbeddedRulesProvider renders the built-in checklists.
type EmbeddedRulesProvider struct{}

// GetRules renders one line per rule as "- name [severity]: description".
func (EmbeddedRulesProvider) GetRules(_ context.Context, docType domain.DocumentType) (string, error) {
	if !docType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrRulesNotFound, docType)
	}
	var sb strings.Builder
	for _, r := range docschema.Checklist(docType) {
		fmt.Fprintf(&sb, "- %s [%s]: %s\n", r.Name, r.Severity, r.Description)
	}
	return sb.String(), nil
}

// LocalRulesProvider reads checklist overrides from disk:
//
//	rootDir/
//	  rules/
//	    {docType}.txt
//
// Document types without an override use the embedded checklist.
type LocalRulesProvider struct {
	rootDir  string
	fallback RulesProvider
}

// NewLocalRulesProvider creates a provider reading from rootDir.
func NewLocalRulesProvider(rootDir string) *LocalRulesProvider {
	if rootDir == "" {
		rootDir = "prompts"
	}
	return &LocalRulesProvider{rootDir: rootDir, fallback: EmbeddedRulesProvider{}}
}

func (p *LocalRulesProvider) GetRules(ctx context.Context, docType domain.DocumentType) (string, error) {
	name := cleanFilename(string(docType))
	if name == "" {
		return "", fmt.Errorf("%w: empty document type", ErrRulesNotFound)
	}

	path := filepath.Join(p.rootDir, "rules", name+".txt")
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p.fallback.GetRules(ctx, docType)
		}
		return "", fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	return string(content), nil
}

func cleanFilename(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "..", ""), "/", "")
}
