package keys

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   types.Cell
		want string
	}{
		{nil, ""},
		{"", ""},
		{"   ", ""},
		{"  Ticket\t  No  ", "ticket no"},
		{"ABC123", "abc123"},
		{float64(1234567890), "1234567890"},
		{12.5, "12.5"},
		{42, "42"},
		{int64(7), "7"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Normalize(tc.in), "%v", tc.in)
	}
}

func TestBuildKey(t *testing.T) {
	row := types.Row{Cells: []types.Cell{" 0012 ", nil, "Acme  Ltd", ""}}

	require.Equal(t, "0012|acme ltd", BuildKey(row, []int{0, 1, 2, 3}))
	require.Equal(t, "acme ltd", BuildKey(row, []int{2}))
	require.Equal(t, "", BuildKey(row, []int{1, 3, 9}))
}

func TestJunkFilter(t *testing.T) {
	f := DefaultJunkFilter()

	cases := []struct {
		key  string
		junk bool
	}{
		{"", true},
		{"grand total", true},
		{"total trips: 14", true},
		{"vehicle type", true},
		{"12/05/2024", true},
		{"2024-05-12", true},
		{"abc", true},
		{"1234567", true},
		{"1234567890", false},
		{"tkt 1234567890", false},
		{"ab-00012345", false},
		{"12345678", false},
	}
	for _, tc := range cases {
		junk, _ := f.IsJunk(tc.key)
		require.Equal(t, tc.junk, junk, tc.key)
	}
}

func TestJunkFilterLengthRuleDisabled(t *testing.T) {
	f := JunkFilter{}
	junk, _ := f.IsJunk("1")
	require.False(t, junk)
}

func TestIsTenDigitNumeral(t *testing.T) {
	require.True(t, IsTenDigitNumeral(" 1234567890 "))
	require.True(t, IsTenDigitNumeral(float64(1234567890)))
	require.False(t, IsTenDigitNumeral("123456789"))
	require.False(t, IsTenDigitNumeral("12345678901"))
	require.False(t, IsTenDigitNumeral("12345a7890"))
	require.False(t, IsTenDigitNumeral(nil))
}

func TestTransformer(t *testing.T) {
	tr, err := NewTransformer([]Action{
		{Type: "trim_prefix", Value: "TKT-"},
		{Type: "strip_non_digits"},
		{Type: "pad_zeros_to_length", Value: "10"},
	})
	require.NoError(t, err)

	require.Equal(t, "0001234567", tr.Apply("TKT-12 34567"))
	require.Nil(t, tr.Apply(nil))

	row := types.Row{Cells: []types.Cell{"TKT-1234567"}}
	require.Equal(t, "0001234567", BuildKeyWith(row, []int{0}, tr))
}

func TestTransformerRegexAndReplace(t *testing.T) {
	tr, err := NewTransformer([]Action{
		{Type: "regex_replace", Find: `^[A-Z]+/`, Value: ""},
		{Type: "replace", Find: "-", Value: ""},
		{Type: "remove_leading_zeros"},
	})
	require.NoError(t, err)
	require.Equal(t, "12345", tr.Apply("WB/00-012-345"))
}

func TestNewTransformerRejectsInvalidActions(t *testing.T) {
	_, err := NewTransformer([]Action{{Type: "explode"}})
	require.Error(t, err)

	_, err = NewTransformer([]Action{{Type: "pad_zeros_to_length", Value: "x"}})
	require.Error(t, err)

	_, err = NewTransformer([]Action{{Type: "regex_replace", Find: "("}})
	require.Error(t, err)

	tr, err := NewTransformer(nil)
	require.NoError(t, err)
	require.Nil(t, tr)
	require.Equal(t, "x", tr.Apply("x"))
}
