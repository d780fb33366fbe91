// Package analysis is the metrics engine: it cleans raw advertising rows into
// records, derives per-row metrics and aggregates them.
package analysis

import (
	"regexp"
	"strings"
)

// Canonical field names recognized in an upload.
const (
	FieldKeyword     = "keyword"
	FieldImpressions = "impressions"
	FieldClicks      = "clicks"
	FieldCost        = "cost"
	FieldSales       = "sales"
	FieldConversions = "conversions"
)

var reWhitespace = regexp.MustCompile(`\s+`)

// aliases maps normalized header names to canonical fields.
var aliases = map[string]string{
	"keyword":                FieldKeyword,
	"keywords":               FieldKeyword,
	"keyword_text":           FieldKeyword,
	"search_term":            FieldKeyword,
	"customer_search_term":   FieldKeyword,
	"search_query":           FieldKeyword,
	"targeting":              FieldKeyword,
	"term":                   FieldKeyword,
	"impressions":            FieldImpressions,
	"impression":             FieldImpressions,
	"impr":                   FieldImpressions,
	"impr.":                  FieldImpressions,
	"imps":                   FieldImpressions,
	"clicks":                 FieldClicks,
	"click":                  FieldClicks,
	"cost":                   FieldCost,
	"cost_(usd)":             FieldCost,
	"spend":                  FieldCost,
	"spend_(usd)":            FieldCost,
	"spend_usd":              FieldCost,
	"ad_spend":               FieldCost,
	"total_spend":            FieldCost,
	"amount_spent":           FieldCost,
	"sales":                  FieldSales,
	"sales_(usd)":            FieldSales,
	"revenue":                FieldSales,
	"total_sales":            FieldSales,
	"attributed_sales":       FieldSales,
	"7_day_total_sales":      FieldSales,
	"14_day_total_sales":     FieldSales,
	"conversions":            FieldConversions,
	"conv.":                  FieldConversions,
	"orders":                 FieldConversions,
	"purchases":              FieldConversions,
	"units_ordered":          FieldConversions,
	"7_day_total_orders":     FieldConversions,
	"7_day_total_orders_(#)": FieldConversions,
}

// NormalizeHeader lower-cases, trims and collapses whitespace to underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return reWhitespace.ReplaceAllString(h, "_")
}

// CanonicalField resolves a raw header to a canonical field name.
func CanonicalField(h string) (string, bool) {
	f, ok := aliases[NormalizeHeader(h)]
	return f, ok
}

// Schema maps column positions of one upload to canonical fields.
type Schema struct {
	columns map[string]int
	ignored []string
}

// NewSchema builds a schema from a header row. Unrecognized columns are
// reported in Ignored; when two columns resolve to the same field the first wins.
func NewSchema(header []string) *Schema {
	s := &Schema{columns: make(map[string]int, len(header))}
	for i, h := range header {
		f, ok := CanonicalField(h)
		if !ok {
			if n := NormalizeHeader(h); n != "" {
				s.ignored = append(s.ignored, n)
			}
			continue
		}
		if _, dup := s.columns[f]; dup {
			s.ignored = append(s.ignored, NormalizeHeader(h))
			continue
		}
		s.columns[f] = i
	}
	return s
}

// Ignored returns the normalized names of dropped columns.
func (s *Schema) Ignored() []string { return s.ignored }

// cell returns the trimmed value of field in row, or "" when absent.
func (s *Schema) cell(row []string, field string) string {
	i, ok := s.columns[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
