package parser

import (
	"strconv"
	"strings"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// Percent reads a provider-reported confidence or score as 0-100. Numbers in
// (0,1] are taken as fractions. Numeric strings such as "87" or "87%" are
// accepted because providers emit them despite instructions.
func Percent(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 {
		return 0, false
	}
	if f > 0 && f <= 1 {
		f *= 100
	}
	return domain.ClampScore(int(f + 0.5)), true
}
