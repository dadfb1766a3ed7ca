// Package parser turns free-form provider text into typed data.
//
// ParseStructured looks for the JSON payload a provider embedded in its
// answer. ExtractEntities is an independent regex pass used to salvage
// emails, phone numbers, amounts and dates when no structured payload exists.
package parser

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// Shape is the expected top-level shape of the embedded JSON.
type Shape int

const (
	// ShapeObject expects a JSON object.
	ShapeObject Shape = iota
	// ShapeList also accepts a top-level JSON array, returned under "items".
	ShapeList
)

// ListKey is the key under which a top-level array is returned for ShapeList.
const ListKey = "items"

// ParseError reports that no decodable JSON payload was found.
type ParseError struct {
	Reason string
	// Candidates is the number of balanced spans that failed to decode.
	Candidates int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse structured response: %s", e.Reason)
}

// Is reports whether target is domain.ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == domain.ErrParse
}

// maxCandidates bounds the number of spans tried per response.
const maxCandidates = 256

// ParseStructured returns the first balanced JSON object in raw that decodes
// successfully. For ShapeList the first balanced array is accepted as well
// when it occurs before any decodable object.
func ParseStructured(raw string, hint Shape) (map[string]any, error) {
	spans := balancedSpans(raw, hint == ShapeList)
	if len(spans) > maxCandidates {
		spans = spans[:maxCandidates]
	}

	for _, sp := range spans {
		text := []byte(raw[sp.start : sp.end+1])
		if raw[sp.start] == '{' {
			var obj map[string]any
			if err := json.Unmarshal(text, &obj); err == nil {
				return obj, nil
			}
		} else {
			var arr []any
			if err := json.Unmarshal(text, &arr); err == nil {
				return map[string]any{ListKey: arr}, nil
			}
		}
	}

	if len(spans) > 0 {
		return nil, &ParseError{Reason: "no balanced span decodes as JSON", Candidates: len(spans)}
	}
	return nil, &ParseError{Reason: "no JSON payload found"}
}

type bracketSpan struct{ start, end int }

// balancedSpans pairs brackets in a single pass and returns every closed span
// ordered by its opening index. Braces and square brackets are counted
// independently. Quotes start a JSON string only inside an open span, so
// prose quotes never hide a payload. An unmatched opener leaves the spans
// nested inside it intact.
func balancedSpans(s string, arrays bool) []bracketSpan {
	var (
		braces, brackets []int
		spans            []bracketSpan
		inString         bool
		escaped          bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = len(braces)+len(brackets) > 0
		case '{':
			braces = append(braces, i)
		case '}':
			if n := len(braces); n > 0 {
				spans = append(spans, bracketSpan{braces[n-1], i})
				braces = braces[:n-1]
			}
		case '[':
			if arrays {
				brackets = append(brackets, i)
			}
		case ']':
			if n := len(brackets); arrays && n > 0 {
				spans = append(spans, bracketSpan{brackets[n-1], i})
				brackets = brackets[:n-1]
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}
