package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/ledger-reconciliation/internal/columns"
)

// ColumnRef names a spreadsheet column in a job file. It accepts:
//   - a 1-based column number ("3" or 3)
//   - header text ("Ticket No"), matched case-insensitively
//   - a column letter ("C", "AA")
//   - "" to auto-detect the column from the headers
//
// Header text is tried before column letters, so a header called "ID"
// wins over column ID.
type ColumnRef string

// UnmarshalYAML accepts both scalars and numbers.
func (c *ColumnRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: column must be a letter, number or header text", value.Line)
	}
	*c = ColumnRef(strings.TrimSpace(value.Value))
	return nil
}

// UnmarshalTOML accepts both strings and integers.
func (c *ColumnRef) UnmarshalTOML(v interface{}) error {
	switch t := v.(type) {
	case string:
		*c = ColumnRef(strings.TrimSpace(t))
	case int64:
		*c = ColumnRef(strconv.FormatInt(t, 10))
	default:
		return fmt.Errorf("column must be a letter, number or header text, got %T", v)
	}
	return nil
}

// IsAuto reports whether the column is to be detected from headers.
func (c ColumnRef) IsAuto() bool {
	return c == ""
}

// Resolve returns the 0-based column index c refers to. Auto columns are
// detected from headers with the role's rule table. Anything that cannot
// be resolved is a *ConfigError.
func (c ColumnRef) Resolve(field string, headers []string, role columns.Role) (int, error) {
	ref := strings.TrimSpace(string(c))

	if ref == "" {
		if idx, ok := columns.IdentifyRole(headers, role); ok {
			return idx, nil
		}
		return -1, &ConfigError{
			Field:   field,
			Problem: fmt.Sprintf("no %s column found in headers %q; set it explicitly", role, headers),
		}
	}

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 {
			return -1, &ConfigError{Field: field, Problem: fmt.Sprintf("column number %d must be at least 1", n)}
		}
		return n - 1, nil
	}

	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), ref) {
			return i, nil
		}
	}

	if isColumnName(ref) {
		n, err := excelize.ColumnNameToNumber(ref)
		if err == nil {
			return n - 1, nil
		}
	}

	return -1, &ConfigError{Field: field, Problem: fmt.Sprintf("column %q is not a header, number or column letter", ref)}
}

// ResolveAll resolves a list of identifier columns. An empty list
// auto-detects a single identifier column.
func ResolveAll(field string, refs []ColumnRef, headers []string) ([]int, error) {
	if len(refs) == 0 {
		idx, err := ColumnRef("").Resolve(field, headers, columns.RoleIdentifier)
		if err != nil {
			return nil, err
		}
		return []int{idx}, nil
	}

	out := make([]int, 0, len(refs))
	seen := make(map[int]bool, len(refs))
	for i, ref := range refs {
		idx, err := ref.Resolve(fmt.Sprintf("%s[%d]", field, i), headers, columns.RoleIdentifier)
		if err != nil {
			return nil, err
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

// ColumnLetter returns the spreadsheet letter of a 0-based column.
func ColumnLetter(col int) string {
	name, err := excelize.ColumnNumberToName(col + 1)
	if err != nil {
		return strconv.Itoa(col + 1)
	}
	return name
}

func isColumnName(s string) bool {
	if len(s) == 0 || len(s) > 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}
