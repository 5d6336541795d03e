// =============================================================================
// Ledger Reconciliation - Key Transformations
// =============================================================================
//
// Counterparties rarely write ticket numbers exactly like the ledger does:
// some prefix them ("TKT-0001234567"), some drop leading zeros, some add
// spaces. Key transformations rewrite a file's identifier cells before they
// are normalized so the join still succeeds.
//
// TRANSFORMATION TYPES:
//   - trim_prefix          : Remove Value from the start of the text
//   - trim_suffix          : Remove Value from the end of the text
//   - strip_non_digits     : Keep digits only
//   - remove_leading_zeros : Drop leading zeros
//   - pad_zeros_to_length  : Left-pad with zeros to Value characters
//   - replace              : Replace Find with Value
//   - regex_replace        : Replace regular expression Find with Value
//   - uppercase / lowercase / trim
//
// Actions run in order. Empty cells stay empty.
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

// Action is a single configured transformation step.
type Action struct {
	// Type selects the transformation (see the list above).
	Type string `yaml:"type" toml:"type" json:"type"`

	// Value is the parameter of the transformation.
	Value string `yaml:"value" toml:"value" json:"value"`

	// Find is the substring or pattern for replace / regex_replace.
	Find string `yaml:"find,omitempty" toml:"find" json:"find,omitempty"`
}

// Transformer applies a compiled chain of Actions to identifier cells.
type Transformer struct {
	steps []func(string) string
}

// NewTransformer validates and compiles actions. An empty list yields a
// nil Transformer, which BuildKeyWith treats as a no-op.
func NewTransformer(actions []Action) (*Transformer, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	t := &Transformer{}
	for i, action := range actions {
		step, err := compileAction(action)
		if err != nil {
			return nil, fmt.Errorf("key transform %d (%s): %w", i+1, action.Type, err)
		}
		t.steps = append(t.steps, step)
	}
	return t, nil
}

// Apply returns the transformed cell. Non-empty results are strings.
func (t *Transformer) Apply(cell types.Cell) types.Cell {
	if t == nil {
		return cell
	}
	s := cellText(cell)
	if s == "" {
		return cell
	}
	for _, step := range t.steps {
		s = step(s)
	}
	return s
}

// compileAction turns an Action into a string function.
func compileAction(action Action) (func(string) string, error) {
	switch action.Type {
	case "trim":
		return strings.TrimSpace, nil

	case "uppercase":
		return strings.ToUpper, nil

	case "lowercase":
		return strings.ToLower, nil

	case "trim_prefix":
		// Example: "TKT-0001234567" with value "TKT-" becomes "0001234567"
		prefix := action.Value
		return func(s string) string {
			return strings.TrimPrefix(strings.TrimSpace(s), prefix)
		}, nil

	case "trim_suffix":
		suffix := action.Value
		return func(s string) string {
			return strings.TrimSuffix(strings.TrimSpace(s), suffix)
		}, nil

	case "strip_non_digits":
		return func(s string) string {
			var b strings.Builder
			for _, r := range s {
				if r >= '0' && r <= '9' {
					b.WriteRune(r)
				}
			}
			return b.String()
		}, nil

	case "remove_leading_zeros":
		return func(s string) string {
			trimmed := strings.TrimLeft(strings.TrimSpace(s), "0")
			if trimmed == "" && s != "" {
				return "0"
			}
			return trimmed
		}, nil

	case "pad_zeros_to_length":
		// Example: "1234567" with value "10" becomes "0001234567"
		length, err := strconv.Atoi(action.Value)
		if err != nil || length <= 0 {
			return nil, fmt.Errorf("invalid length %q", action.Value)
		}
		return func(s string) string {
			return padLeft(strings.TrimSpace(s), length, '0')
		}, nil

	case "replace":
		if action.Find == "" {
			return nil, fmt.Errorf("replace requires find")
		}
		find, repl := action.Find, action.Value
		return func(s string) string {
			return strings.ReplaceAll(s, find, repl)
		}, nil

	case "regex_replace":
		re, err := regexp.Compile(action.Find)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		repl := action.Value
		return func(s string) string {
			return re.ReplaceAllString(s, repl)
		}, nil

	default:
		return nil, fmt.Errorf("unknown transformation type")
	}
}

// cellText renders a cell without lowercasing or collapsing whitespace.
func cellText(cell types.Cell) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// padLeft pads s on the left with padChar up to length characters.
func padLeft(s string, length int, padChar rune) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(string(padChar), length-len(s)) + s
}
