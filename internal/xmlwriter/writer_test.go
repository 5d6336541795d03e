package xmlwriter

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

func sampleDocs() []types.BillingDocument {
	item := func(id, desc string, q float64, price string) types.LineItem {
		li := types.LineItem{ID: id, Description: desc, Quantity: q, UnitPrice: decimal.RequireFromString(price), Grade: types.Grade10}
		li.Recalculate()
		return li
	}
	return []types.BillingDocument{
		{
			ID: "d1", Number: "DRAFT-1", CounterpartyID: "acme", CounterpartyName: "Acme & Sons",
			Items:    []types.LineItem{item("l1", "10mm", 100, "10"), item("l2", "Excess 10mm (>40%)", 100, "25")},
			Subtotal: decimal.RequireFromString("3500"), Total: decimal.RequireFromString("3500"),
			Status: types.DocumentStatusDraft, ChargeableExcess: 100, CreatedAt: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			ID: "d2", Number: "DRAFT-2", CounterpartyID: "beta",
			Items:  []types.LineItem{item("l3", "20mm", 12.5, "12")},
			Status: types.DocumentStatusDraft,
		},
	}
}

// parsed mirrors the exported layout for round-trip checks.
type parsed struct {
	XMLName   xml.Name `xml:"billingDocuments"`
	Documents []struct {
		N         int    `xml:"n,attr"`
		Status    string `xml:"status,attr"`
		Name      string `xml:"counterpartyName"`
		Total     string `xml:"total"`
		LineItems []struct {
			N           int    `xml:"n,attr"`
			Description string `xml:"description"`
			Amount      string `xml:"amount"`
		} `xml:"lineItem"`
	} `xml:"document"`
}

func TestGenerateIsWellFormed(t *testing.T) {
	out, err := Generate(sampleDocs())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(out), "<?xml"))

	var p parsed
	require.NoError(t, xml.Unmarshal(out, &p))
	require.Len(t, p.Documents, 2)

	first := p.Documents[0]
	require.Equal(t, 1, first.N)
	require.Equal(t, "draft", first.Status)
	require.Equal(t, "Acme & Sons", first.Name)
	require.Equal(t, "3500.00", first.Total)
	require.Equal(t, "Excess 10mm (>40%)", first.LineItems[1].Description)
	require.Equal(t, "2500.00", first.LineItems[1].Amount)

	// Global line numbering continues into the second document.
	require.Equal(t, 3, p.Documents[1].LineItems[0].N)
	require.Equal(t, "150.00", p.Documents[1].LineItems[0].Amount)
}

func TestGeneratePerDocumentNumbering(t *testing.T) {
	opts := DefaultGenerateOptions()
	opts.LineItemNumberingGlobal = false
	opts.IncludeXMLDeclaration = false
	opts.RootAttributes["run"] = "weekly"

	out, err := GenerateWithOptions(sampleDocs(), opts)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(out), `<billingDocuments run="weekly">`))

	var p parsed
	require.NoError(t, xml.Unmarshal(out, &p))
	require.Equal(t, 1, p.Documents[1].LineItems[0].N)
}
