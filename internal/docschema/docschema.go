// Package docschema describes the structured-data shape expected for each
// document type. The same field catalogue drives the extraction prompt, the
// JSON Schema used to validate provider output, and the fallback synthesizer.
package docschema

import (
	"fmt"
	"strings"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// FieldType is the JSON type of a field.
type FieldType string

// Field types.
const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// Field describes one property of the structured data.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
	// Format hints the value shape for strings: "date", "currency", "country", "hscode".
	Format string
	// Fields are the properties of an object, or of each array element.
	Fields []Field
}

// Document is the field catalogue of a document type.
type Document struct {
	Type   domain.DocumentType
	Title  string
	Fields []Field
}

func party(desc string) Field {
	return Field{Name: "", Type: TypeObject, Description: desc, Fields: []Field{
		{Name: "name", Type: TypeString, Description: "Legal name"},
		{Name: "address", Type: TypeString, Description: "Postal address"},
		{Name: "taxId", Type: TypeString, Description: "Tax / VAT / GST registration number"},
	}}
}

func named(f Field, name string, required bool) Field {
	f.Name = name
	f.Required = required
	return f
}

var catalogue = map[domain.DocumentType]Document{
	domain.DocumentInvoice: {
		Type:  domain.DocumentInvoice,
		Title: "commercial invoice",
		Fields: []Field{
			{Name: "invoiceNumber", Type: TypeString, Required: true, Description: "Invoice number as printed"},
			{Name: "invoiceDate", Type: TypeString, Required: true, Format: "date", Description: "Issue date, YYYY-MM-DD"},
			named(party("Seller / exporter"), "seller", true),
			named(party("Buyer / importer"), "buyer", true),
			{Name: "currency", Type: TypeString, Required: true, Format: "currency", Description: "ISO 4217 currency code"},
			{Name: "lineItems", Type: TypeArray, Required: true, Description: "Invoiced goods", Fields: []Field{
				{Name: "description", Type: TypeString, Description: "Goods description"},
				{Name: "hsCode", Type: TypeString, Format: "hscode", Description: "Harmonized System code if printed"},
				{Name: "quantity", Type: TypeNumber, Description: "Quantity"},
				{Name: "unitPrice", Type: TypeNumber, Description: "Unit price"},
				{Name: "amount", Type: TypeNumber, Description: "Line total"},
			}},
			{Name: "subtotal", Type: TypeNumber, Description: "Sum of line items before tax"},
			{Name: "taxAmount", Type: TypeNumber, Description: "Total tax"},
			{Name: "totalAmount", Type: TypeNumber, Required: true, Description: "Invoice total"},
			{Name: "incoterms", Type: TypeString, Description: "Incoterms rule, e.g. FOB, CIF"},
			{Name: "countryOfOrigin", Type: TypeString, Format: "country", Description: "ISO 3166 alpha-2 country of origin"},
		},
	},
	domain.DocumentBillOfEntry: {
		Type:  domain.DocumentBillOfEntry,
		Title: "bill of entry",
		Fields: []Field{
			{Name: "beNumber", Type: TypeString, Required: true, Description: "Bill of entry number"},
			{Name: "beDate", Type: TypeString, Required: true, Format: "date", Description: "Filing date, YYYY-MM-DD"},
			{Name: "portCode", Type: TypeString, Required: true, Description: "Port of import code"},
			{Name: "importerName", Type: TypeString, Required: true, Description: "Importer of record"},
			{Name: "iecCode", Type: TypeString, Description: "Importer exporter code"},
			{Name: "customsHouse", Type: TypeString, Description: "Customs house"},
			{Name: "items", Type: TypeArray, Required: true, Description: "Declared goods", Fields: []Field{
				{Name: "description", Type: TypeString, Description: "Goods description"},
				{Name: "hsCode", Type: TypeString, Format: "hscode", Description: "Declared tariff code"},
				{Name: "quantity", Type: TypeNumber, Description: "Quantity"},
				{Name: "assessableValue", Type: TypeNumber, Description: "Assessable value"},
				{Name: "dutyAmount", Type: TypeNumber, Description: "Duty assessed"},
			}},
			{Name: "assessableValue", Type: TypeNumber, Description: "Total assessable value"},
			{Name: "totalDuty", Type: TypeNumber, Required: true, Description: "Total duty payable"},
			{Name: "currency", Type: TypeString, Format: "currency", Description: "ISO 4217 currency code"},
			{Name: "countryOfOrigin", Type: TypeString, Format: "country", Description: "ISO 3166 alpha-2 country of origin"},
		},
	},
	domain.DocumentGeneral: {
		Type:  domain.DocumentGeneral,
		Title: "trade document",
		Fields: []Field{
			{Name: "documentTitle", Type: TypeString, Description: "Title or kind of document"},
			{Name: "documentDate", Type: TypeString, Format: "date", Description: "Primary date, YYYY-MM-DD"},
			{Name: "parties", Type: TypeArray, Description: "Names of the parties involved"},
			{Name: "referenceNumbers", Type: TypeArray, Description: "Any reference numbers found"},
			{Name: "summary", Type: TypeString, Required: true, Description: "One paragraph summary of the content"},
		},
	},
}

// For returns the catalogue for a document type, defaulting to general.
func For(t domain.DocumentType) Document {
	if d, ok := catalogue[t]; ok {
		return d
	}
	return catalogue[domain.DocumentGeneral]
}

// RequiredFields lists the top-level required field names.
func (d Document) RequiredFields() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// JSONSchema returns a JSON Schema (draft 2020-12 subset) for the document.
// Optional fields accept null; unknown properties are allowed.
func (d Document) JSONSchema() map[string]any {
	props, required := properties(d.Fields)
	props["confidence"] = map[string]any{"type": []any{"number", "null"}, "minimum": 0, "maximum": 100}
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      d.Title,
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func properties(fields []Field) (map[string]any, []any) {
	props := make(map[string]any, len(fields))
	required := []any{}
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return props, required
}

func fieldSchema(f Field) map[string]any {
	var s map[string]any
	switch f.Type {
	case TypeObject:
		props, _ := properties(f.Fields)
		s = map[string]any{"type": "object", "properties": props}
	case TypeArray:
		items := map[string]any{"type": "string"}
		if len(f.Fields) > 0 {
			props, _ := properties(f.Fields)
			items = map[string]any{"type": "object", "properties": props}
		}
		s = map[string]any{"type": "array", "items": items}
	case TypeNumber:
		s = map[string]any{"type": "number"}
	default:
		s = map[string]any{"type": "string"}
		if f.Format == "date" {
			s["pattern"] = `^\d{4}-\d{2}-\d{2}$`
		}
		if f.Format == "currency" {
			s["pattern"] = `^[A-Z]{3}$`
		}
	}
	if !f.Required {
		s["type"] = []any{s["type"], "null"}
	}
	return s
}

// PromptShape renders the fields as an indented outline for prompts.
func (d Document) PromptShape() string {
	var sb strings.Builder
	writeFields(&sb, d.Fields, "")
	sb.WriteString(`- confidence (number 0-100): your confidence in the extraction` + "\n")
	return sb.String()
}

func writeFields(sb *strings.Builder, fields []Field, indent string) {
	for _, f := range fields {
		req := ""
		if f.Required {
			req = ", required"
		}
		fmt.Fprintf(sb, "%s- %s (%s%s): %s\n", indent, f.Name, f.Type, req, f.Description)
		if len(f.Fields) > 0 {
			writeFields(sb, f.Fields, indent+"  ")
		}
	}
}
