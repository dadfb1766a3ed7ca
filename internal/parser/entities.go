package parser

import (
	"regexp"
	"strings"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// Fixed per-pattern confidences.
const (
	EmailConfidence  = 90
	DateConfidence   = 85
	AmountConfidence = 80
	PhoneConfidence  = 70
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	datePattern = regexp.MustCompile(`(?i)\b(?:` +
		`\d{4}-\d{2}-\d{2}(?:T\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+\-]\d{2}:?\d{2})?)?` +
		`|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{4}` +
		`|\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}` +
		`|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}` +
		`)\b`)

	amountPattern = regexp.MustCompile(`(?:[$€£¥₹]\s?|\b(?:USD|EUR|GBP|INR|JPY|CNY|AED|SGD|AUD|CAD|CHF|HKD)\s?)` +
		`(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?`)

	phonePattern = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{6,}\d`)

	// ISO calendar dates are never phone numbers, even when the date pass
	// could not claim them.
	isoDateShape = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

type span struct{ start, end int }

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// ExtractEntities scans raw for emails, dates, monetary amounts and phone
// numbers. Entities are returned in pattern order, de-duplicated by type and
// normalized value. Phone matches overlapping a date or amount are dropped.
func ExtractEntities(raw string) []domain.Entity {
	var (
		out   []domain.Entity
		taken []span
		seen  = make(map[string]struct{})
	)

	add := func(t domain.EntityType, value string, confidence int) {
		key := string(t) + "\x00" + normalize(t, value)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, domain.Entity{Type: t, Value: value, Confidence: confidence})
	}

	for _, loc := range emailPattern.FindAllStringIndex(raw, -1) {
		taken = append(taken, span{loc[0], loc[1]})
		add(domain.EntityEmail, raw[loc[0]:loc[1]], EmailConfidence)
	}

	for _, loc := range datePattern.FindAllStringIndex(raw, -1) {
		s := span{loc[0], loc[1]}
		if overlapsAny(s, taken) {
			continue
		}
		taken = append(taken, s)
		add(domain.EntityDate, raw[loc[0]:loc[1]], DateConfidence)
	}

	for _, loc := range amountPattern.FindAllStringIndex(raw, -1) {
		s := span{loc[0], loc[1]}
		if overlapsAny(s, taken) {
			continue
		}
		taken = append(taken, s)
		add(domain.EntityAmount, strings.TrimSpace(raw[loc[0]:loc[1]]), AmountConfidence)
	}

	for _, loc := range phonePattern.FindAllStringIndex(raw, -1) {
		s := span{loc[0], loc[1]}
		if overlapsAny(s, taken) {
			continue
		}
		value := strings.TrimSpace(raw[loc[0]:loc[1]])
		if digits := countDigits(value); digits < 7 || digits > 15 {
			continue
		}
		if isoDateShape.MatchString(value) {
			continue
		}
		taken = append(taken, s)
		add(domain.EntityPhone, value, PhoneConfidence)
	}

	return out
}

func overlapsAny(s span, taken []span) bool {
	for _, t := range taken {
		if s.overlaps(t) {
			return true
		}
	}
	return false
}

func normalize(t domain.EntityType, v string) string {
	switch t {
	case domain.EntityEmail:
		return strings.ToLower(v)
	case domain.EntityPhone:
		var sb strings.Builder
		for _, r := range v {
			if r >= '0' && r <= '9' {
				sb.WriteRune(r)
			}
		}
		return sb.String()
	case domain.EntityAmount:
		return strings.ReplaceAll(strings.ReplaceAll(v, " ", ""), ",", "")
	}
	return strings.ToLower(v)
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
