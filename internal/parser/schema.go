package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/polisai/polis-docintel/internal/docschema"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// SchemaValidator checks structured data against the per-document-type JSON
// Schema. Violations are advisory: callers record them, they never reject a
// parsed payload.
type SchemaValidator struct {
	schemas map[domain.DocumentType]*jsonschema.Schema
}

// NewSchemaValidator compiles the schema of every document type.
func NewSchemaValidator() (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: make(map[domain.DocumentType]*jsonschema.Schema, len(domain.DocumentTypes))}
	for _, dt := range domain.DocumentTypes {
		schema, err := compileSchema(string(dt)+".json", docschema.For(dt).JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", dt, err)
		}
		v.schemas[dt] = schema
	}
	return v, nil
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}

// Validate returns the schema violations of data, sorted, or nil.
func (v *SchemaValidator) Validate(dt domain.DocumentType, data map[string]any) []string {
	schema, ok := v.schemas[dt]
	if !ok {
		schema = v.schemas[domain.DocumentGeneral]
	}

	var doc any = map[string]any{}
	if data != nil {
		doc = data
	}
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}

	var out []string
	collectLeaves(ve, &out)
	sort.Strings(out)
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.Message))
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}
