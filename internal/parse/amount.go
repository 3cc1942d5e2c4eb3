package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// dotGrouped matches figures using '.' as a thousands separator (1.234.567).
var dotGrouped = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)

// currencyMarkers are trimmed from either end of a captured figure. Rules
// usually exclude the marker already; this covers sloppier captures.
var currencyMarkers = []string{"won", "krw", "₩", "$", "usd"}

// ParseAmount converts a captured amount figure into smallest-currency-unit
// minor units. It tolerates thousands separators (comma, or dot-grouped) and
// leading/trailing currency markers. Non-numeric, fractional or zero figures
// are rejected; sign is a direction concern and not accepted here.
func ParseAmount(figure string) (int64, error) {
	s := strings.TrimSpace(strings.ToLower(figure))
	for _, m := range currencyMarkers {
		s = strings.TrimPrefix(s, m)
		s = strings.TrimSuffix(s, m)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	if dotGrouped.MatchString(s) {
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.ReplaceAll(s, ",", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("non-numeric amount %q: %w", figure, err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("fractional amount %q in a whole-unit currency", figure)
	}
	if d.Sign() <= 0 {
		return 0, fmt.Errorf("amount %q is not positive", figure)
	}
	return d.IntPart(), nil
}
