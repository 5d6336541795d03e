// =============================================================================
// Ledger Reconciliation - Column Identifier
// =============================================================================
//
// This module maps free-text spreadsheet headers to semantic roles such as
// "identifier column" or "result column". Real exports name the same column
// "Ticket No", "TICKET #", "Docket Number", ... so matching is driven by
// prioritized rule tables instead of exact names.
//
// SELECTION RULE:
//   Every header is tested against every rule of the role's table. The header
//   with the highest matching priority wins; ties keep the first header.
//   When nothing matches, Identify reports false and the caller must require
//   an explicit column selection.
//
// CUSTOMIZATION:
//   Tables are plain data. Add a Rule to a table (or pass a custom Table) to
//   recognise a new header spelling; no branching code needs to change.
//
// =============================================================================

package columns

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// =============================================================================
// ROLES
// =============================================================================

// Role is the semantic meaning of a column.
type Role string

const (
	RoleIdentifier  Role = "identifier"
	RoleResult      Role = "result"
	RoleDescription Role = "description"
	RoleQuantity    Role = "quantity"
)

// =============================================================================
// RULES
// =============================================================================

// Rule is one (predicate, priority) entry of a pattern table.
type Rule struct {
	// Name describes the rule in debug output.
	Name string

	// Match reports whether a normalized (lowercased, trimmed) header
	// satisfies the rule.
	Match func(header string) bool

	// Priority ranks the rule. Higher wins.
	Priority int
}

// Table is an ordered list of rules for one role.
type Table []Rule

// Exact matches headers equal to s, ignoring case and surrounding space.
func Exact(s string, priority int) Rule {
	want := normalizeHeader(s)
	return Rule{
		Name:     "exact:" + want,
		Match:    func(h string) bool { return h == want },
		Priority: priority,
	}
}

// Contains matches headers containing s.
func Contains(s string, priority int) Rule {
	want := normalizeHeader(s)
	return Rule{
		Name:     "contains:" + want,
		Match:    func(h string) bool { return strings.Contains(h, want) },
		Priority: priority,
	}
}

// Regex matches headers against a regular expression. The pattern is
// compiled once; an invalid pattern panics at table construction.
func Regex(pattern string, priority int) Rule {
	re := regexp.MustCompile(pattern)
	return Rule{
		Name:     "regex:" + pattern,
		Match:    re.MatchString,
		Priority: priority,
	}
}

// Similar matches headers within maxDistance edits of s. It catches typos
// such as "Tikcet No" that the substring rules miss.
func Similar(s string, maxDistance, priority int) Rule {
	want := normalizeHeader(s)
	return Rule{
		Name: "similar:" + want,
		Match: func(h string) bool {
			return levenshtein.ComputeDistance(h, want) <= maxDistance
		},
		Priority: priority,
	}
}

// =============================================================================
// BUILT-IN TABLES
// =============================================================================

// DefaultTables holds the built-in pattern tables per role.
var DefaultTables = map[Role]Table{
	RoleIdentifier: {
		Exact("ticket no", 100),
		Exact("ticket number", 100),
		Exact("ticket no.", 100),
		Regex(`^ticket\s*(#|no\.?|num(ber)?)$`, 95),
		Similar("ticket no", 2, 80),
		Contains("docket", 70),
		Contains("ticket", 60),
		Regex(`\b(dn|grn|wb)\s*(no\.?|#)`, 50),
		Contains("reference", 30),
		Exact("id", 20),
	},
	RoleResult: {
		Exact("match", 100),
		Exact("matched", 100),
		Exact("match result", 100),
		Contains("matched to", 90),
		Contains("match", 70),
		Contains("reconcil", 60),
		Contains("status", 40),
		Contains("remark", 30),
	},
	RoleDescription: {
		Exact("description", 100),
		Exact("material", 100),
		Contains("material", 80),
		Contains("product", 70),
		Contains("description", 60),
		Contains("item", 30),
	},
	RoleQuantity: {
		Exact("net weight", 100),
		Exact("net", 90),
		Exact("quantity", 90),
		Regex(`^(net\s*)?(tons?|tonnes?)$`, 85),
		Contains("net wt", 80),
		Contains("weight", 60),
		Contains("qty", 60),
		Contains("quantity", 50),
	},
}

// =============================================================================
// IDENTIFICATION
// =============================================================================

// Identify returns the index of the header that best matches table.
// It returns (-1, false) when no header matches any rule.
func Identify(headers []string, table Table) (int, bool) {
	best := -1
	bestPriority := 0

	for i, header := range headers {
		h := normalizeHeader(header)
		if h == "" {
			continue
		}
		for _, rule := range table {
			if rule.Priority <= bestPriority && best != -1 {
				continue
			}
			if rule.Match(h) {
				best = i
				bestPriority = rule.Priority
			}
		}
	}

	return best, best != -1
}

// IdentifyRole is Identify using the built-in table for role.
func IdentifyRole(headers []string, role Role) (int, bool) {
	return Identify(headers, DefaultTables[role])
}

// normalizeHeader lowercases, trims and collapses internal whitespace.
func normalizeHeader(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
