// =============================================================================
// Ledger Reconciliation - XML Writer Module
// =============================================================================
//
// This module exports draft billing documents as XML for import into the
// accounting system.
//
// XML STRUCTURE:
//   The generated XML follows this nesting pattern:
//
//   <billingDocuments run="weekly">             <!-- Root element -->
//     <document n="1" status="draft">           <!-- One per counterparty -->
//       <id>6f1c...</id>
//       <number>DRAFT-20260314-6F1C2A9B</number>
//       <counterpartyId>acme</counterpartyId>
//       <counterpartyName>Acme Ltd</counterpartyName>
//       <tripCount10>12</tripCount10>
//       <tripCount20>7</tripCount20>
//       <chargeableExcess>100</chargeableExcess>
//       <lineItem n="1">                        <!-- Global numbering -->
//         <description>10mm Aggregate</description>
//         <grade>10mm</grade>
//         <quantity>100</quantity>
//         <unitPrice>10.00</unitPrice>
//         <amount>1000.00</amount>
//       </lineItem>
//       <subtotal>3500.00</subtotal>
//       <tax>0.00</tax>
//       <total>3500.00</total>
//     </document>
//   </billingDocuments>
//
// Money is always written with two decimals; quantities are written without
// trailing zeros.
//
// =============================================================================

package xmlwriter

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// =============================================================================
// XML GENERATION OPTIONS
// =============================================================================

// GenerateOptions contains options for XML generation.
type GenerateOptions struct {
	// Indent is the string used for indentation.
	// Default: "  " (two spaces)
	Indent string

	// IncludeXMLDeclaration determines whether to include the XML declaration.
	// Default: true
	IncludeXMLDeclaration bool

	// RootElement names the root element.
	// Default: "billingDocuments"
	RootElement string

	// RootAttributes are additional attributes for the root element.
	// Example: {"xmlns": "http://example.com/billing"}
	RootAttributes map[string]string

	// LineItemNumberingGlobal determines if line item numbering is global.
	// If true: line items are numbered 1, 2, 3, 4... across all documents.
	// If false: line items restart at 1 for each document.
	// Default: true
	LineItemNumberingGlobal bool

	// IndexAttribute is the attribute name for document and line item index.
	// Default: "n"
	IndexAttribute string
}

// DefaultGenerateOptions returns the default generation options.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Indent:                  "  ",
		IncludeXMLDeclaration:   true,
		RootElement:             "billingDocuments",
		RootAttributes:          make(map[string]string),
		LineItemNumberingGlobal: true,
		IndexAttribute:          "n",
	}
}

// =============================================================================
// XML GENERATION FUNCTIONS
// =============================================================================

// Generate creates an XML document holding docs.
func Generate(docs []types.BillingDocument) ([]byte, error) {
	return GenerateWithOptions(docs, DefaultGenerateOptions())
}

// GenerateWithOptions creates an XML document with custom options.
func GenerateWithOptions(docs []types.BillingDocument, options GenerateOptions) ([]byte, error) {
	var buffer bytes.Buffer

	if options.IncludeXMLDeclaration {
		buffer.WriteString(xml.Header)
	}

	root := buildRoot(docs, options)
	buffer.Write(marshalWithIndent(root, options.Indent))

	return buffer.Bytes(), nil
}

// =============================================================================
// XML DOCUMENT BUILDING
// =============================================================================

// XMLElement represents an XML element with attributes, a text value or
// children.
type XMLElement struct {
	XMLName    xml.Name
	Attributes []xml.Attr
	Value      string
	Children   []XMLElement
}

func buildRoot(docs []types.BillingDocument, options GenerateOptions) XMLElement {
	name := options.RootElement
	if name == "" {
		name = "billingDocuments"
	}
	root := XMLElement{XMLName: xml.Name{Local: name}}

	// Sorted so that output is stable.
	attrNames := make([]string, 0, len(options.RootAttributes))
	for k := range options.RootAttributes {
		attrNames = append(attrNames, k)
	}
	sort.Strings(attrNames)
	for _, k := range attrNames {
		root.Attributes = append(root.Attributes, xml.Attr{Name: xml.Name{Local: k}, Value: options.RootAttributes[k]})
	}

	lineIndex := 0
	for i, doc := range docs {
		if !options.LineItemNumberingGlobal {
			lineIndex = 0
		}
		root.Children = append(root.Children, buildDocumentElement(doc, i+1, options, &lineIndex))
	}
	return root
}

func buildDocumentElement(doc types.BillingDocument, n int, options GenerateOptions, lineIndex *int) XMLElement {
	el := XMLElement{
		XMLName: xml.Name{Local: "document"},
		Attributes: []xml.Attr{
			{Name: xml.Name{Local: indexAttr(options)}, Value: strconv.Itoa(n)},
			{Name: xml.Name{Local: "status"}, Value: doc.Status},
		},
	}

	el.Children = append(el.Children,
		createSimpleElement("id", doc.ID),
		createSimpleElement("number", doc.Number),
		createSimpleElement("counterpartyId", doc.CounterpartyID),
		createSimpleElement("counterpartyName", doc.CounterpartyName),
		createSimpleElement("groupLabel", doc.GroupLabel),
		createSimpleElement("createdAt", doc.CreatedAt.UTC().Format(time.RFC3339)),
		createSimpleElement("tripCount10", strconv.Itoa(doc.TripCount10)),
		createSimpleElement("tripCount20", strconv.Itoa(doc.TripCount20)),
		createSimpleElement("chargeableExcess", formatQuantity(doc.ChargeableExcess)),
	)

	for _, item := range doc.Items {
		*lineIndex++
		el.Children = append(el.Children, buildLineItemElement(item, *lineIndex, options))
	}

	el.Children = append(el.Children,
		createSimpleElement("subtotal", formatMoney(doc.Subtotal)),
		createSimpleElement("tax", formatMoney(doc.Tax)),
		createSimpleElement("total", formatMoney(doc.Total)),
	)
	return el
}

func buildLineItemElement(item types.LineItem, n int, options GenerateOptions) XMLElement {
	return XMLElement{
		XMLName: xml.Name{Local: "lineItem"},
		Attributes: []xml.Attr{
			{Name: xml.Name{Local: indexAttr(options)}, Value: strconv.Itoa(n)},
		},
		Children: []XMLElement{
			createSimpleElement("id", item.ID),
			createSimpleElement("description", item.Description),
			createSimpleElement("grade", string(item.Grade)),
			createSimpleElement("quantity", formatQuantity(item.Quantity)),
			createSimpleElement("unitPrice", formatMoney(item.UnitPrice)),
			createSimpleElement("amount", formatMoney(item.Amount)),
		},
	}
}

func indexAttr(options GenerateOptions) string {
	if options.IndexAttribute == "" {
		return "n"
	}
	return options.IndexAttribute
}

// createSimpleElement creates an element with a text value.
func createSimpleElement(name, value string) XMLElement {
	return XMLElement{
		XMLName: xml.Name{Local: name},
		Value:   value,
	}
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// marshalWithIndent writes the element tree with indentation.
func marshalWithIndent(root XMLElement, indent string) []byte {
	var buffer bytes.Buffer
	writeElement(&buffer, root, indent, 0)
	return buffer.Bytes()
}

// writeElement writes an XML element to the buffer with indentation.
func writeElement(buffer *bytes.Buffer, element XMLElement, indent string, level int) {
	for i := 0; i < level; i++ {
		buffer.WriteString(indent)
	}

	buffer.WriteString("<")
	buffer.WriteString(element.XMLName.Local)

	for _, attr := range element.Attributes {
		buffer.WriteString(fmt.Sprintf(" %s=\"%s\"", attr.Name.Local, escapeXML(attr.Value)))
	}

	if len(element.Children) == 0 && element.Value == "" {
		buffer.WriteString("/>\n")
		return
	}

	buffer.WriteString(">")

	if element.Value != "" {
		buffer.WriteString(escapeXML(element.Value))
	} else {
		buffer.WriteString("\n")
		for _, child := range element.Children {
			writeElement(buffer, child, indent, level+1)
		}
		for i := 0; i < level; i++ {
			buffer.WriteString(indent)
		}
	}

	buffer.WriteString("</")
	buffer.WriteString(element.XMLName.Local)
	buffer.WriteString(">\n")
}

// escapeXML escapes special characters for XML.
func escapeXML(s string) string {
	var buffer bytes.Buffer
	if err := xml.EscapeText(&buffer, []byte(s)); err != nil {
		return s
	}
	return buffer.String()
}
