// =============================================================================
// Ledger Reconciliation - Key Normalizer
// =============================================================================
//
// Rows from different spreadsheets are joined on a MatchKey: the selected
// identifier cells, normalized and joined with "|".
//
// NORMALIZATION:
//   - nil / empty cells         -> ""
//   - numbers                   -> plain decimal text, no exponent
//   - strings                   -> trimmed, whitespace-collapsed, lowercased
//
// =============================================================================

package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// Separator joins the components of a composite key.
const Separator = "|"

// Normalize converts any cell value into a comparable string.
func Normalize(value types.Cell) string {
	var s string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// BuildKey normalizes the cells at columns, drops empty components and
// joins the rest with Separator. It returns "" when nothing survives; such
// rows take no part in matching.
func BuildKey(row types.Row, columns []int) string {
	return BuildKeyWith(row, columns, nil)
}

// BuildKeyWith is BuildKey with a Transformer applied to every raw
// identifier cell before normalization. A nil transformer is a no-op.
func BuildKeyWith(row types.Row, columns []int, t *Transformer) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		cell := row.Cell(col)
		if t != nil {
			cell = t.Apply(cell)
		}
		if n := Normalize(cell); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, Separator)
}

// =============================================================================
// JUNK ROW FILTER
// =============================================================================

// DefaultKeywords are footer/summary labels that mark a row as non-data.
var DefaultKeywords = []string{
	"total",
	"subtotal",
	"trip",
	"vehicle type",
	"tonnes",
	"tons",
	"kgs",
}

// DefaultMinKeyLength is the shortest key accepted without a 10-digit run.
const DefaultMinKeyLength = 8

var (
	tenDigitRun = regexp.MustCompile(`\d{10}`)
	dateToken   = regexp.MustCompile(`^\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}$`)
)

// JunkFilter rejects stray subtotal, label and date rows that hand-edited
// exports mix into the data range.
type JunkFilter struct {
	// Keywords are matched as substrings of the normalized key.
	Keywords []string

	// MinKeyLength rejects shorter keys unless they contain a 10-digit run.
	// Zero disables the length rule.
	MinKeyLength int
}

// DefaultJunkFilter returns the filter with built-in keywords and length.
func DefaultJunkFilter() JunkFilter {
	return JunkFilter{
		Keywords:     append([]string(nil), DefaultKeywords...),
		MinKeyLength: DefaultMinKeyLength,
	}
}

// IsJunk reports whether a row with the given key must be skipped.
// The reason is returned for diagnostics.
func (f JunkFilter) IsJunk(key string) (bool, string) {
	if key == "" {
		return true, "empty key"
	}
	for _, kw := range f.Keywords {
		kw = Normalize(kw)
		if kw != "" && strings.Contains(key, kw) {
			return true, fmt.Sprintf("contains keyword %q", kw)
		}
	}
	if len(key) < 15 && dateToken.MatchString(key) {
		return true, "looks like a date"
	}
	if f.MinKeyLength > 0 && len(key) < f.MinKeyLength && !HasTenDigitRun(key) {
		return true, fmt.Sprintf("shorter than %d characters", f.MinKeyLength)
	}
	return false, ""
}

// HasTenDigitRun reports whether s contains ten consecutive digits.
func HasTenDigitRun(s string) bool {
	return tenDigitRun.MatchString(s)
}

// IsTenDigitNumeral reports whether the trimmed text of value is exactly a
// 10-digit numeral, the expected ticket number format.
func IsTenDigitNumeral(value types.Cell) bool {
	s := strings.TrimSpace(Normalize(value))
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
