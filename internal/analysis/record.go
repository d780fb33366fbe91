package analysis

import (
	"math"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/adlens/pkg/models"
)

// OutlierThreshold bounds impressions and clicks for a single row.
const OutlierThreshold = 1_000_000

// Discard reasons.
const (
	ReasonInvalidNumber   = "invalid_number"
	ReasonMissingRequired = "missing_required"
	ReasonNegativeValue   = "negative_value"
	ReasonClicksExceed    = "clicks_exceed_impressions"
	ReasonOutlier         = "outlier"
)

// Trend thresholds.
const (
	HighCostThreshold = 100.0
	LowCTRThreshold   = 1.0
	HighACOSThreshold = 50.0
)

var numericFields = []string{FieldImpressions, FieldClicks, FieldCost, FieldSales, FieldConversions}

var numberReplacer = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", "%", "", " ", "")

// ParseNumber coerces a numeric-looking cell. Empty cells are absent rather than
// zero. Accounting negatives like "(5.00)" parse as negative.
func ParseNumber(s string) (v float64, present bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = numberReplacer.Replace(s)
	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, true, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, strconv.ErrSyntax
	}
	if neg {
		v = -v
	}
	return v, true, nil
}

// Clean validates one data row against the schema. It returns the record, or the
// reason the row was discarded.
func (s *Schema) Clean(row []string, rowIndex int) (models.Record, string, bool) {
	rec := models.Record{RowIndex: rowIndex, Keyword: s.cell(row, FieldKeyword)}

	values := make(map[string]float64, len(numericFields))
	for _, f := range numericFields {
		v, present, err := ParseNumber(s.cell(row, f))
		if err != nil {
			return rec, ReasonInvalidNumber, false
		}
		if present {
			values[f] = v
		}
	}

	// Optional fields default to zero; required ones must be present.
	for _, f := range []string{FieldSales, FieldConversions} {
		if _, ok := values[f]; !ok {
			values[f] = 0
		}
	}
	if rec.Keyword == "" {
		return rec, ReasonMissingRequired, false
	}
	for _, f := range []string{FieldImpressions, FieldClicks, FieldCost} {
		if _, ok := values[f]; !ok {
			return rec, ReasonMissingRequired, false
		}
	}

	for _, f := range numericFields {
		if values[f] < 0 {
			return rec, ReasonNegativeValue, false
		}
	}

	rec.Impressions = values[FieldImpressions]
	rec.Clicks = values[FieldClicks]
	rec.Cost = values[FieldCost]
	rec.Sales = values[FieldSales]
	rec.Conversions = values[FieldConversions]

	if rec.Clicks > rec.Impressions {
		return rec, ReasonClicksExceed, false
	}
	if rec.Impressions >= OutlierThreshold || rec.Clicks >= OutlierThreshold {
		return rec, ReasonOutlier, false
	}

	Derive(&rec)
	return rec, "", true
}

// Derive fills the derived metrics whose denominators are non-zero and clears the rest.
func Derive(r *models.Record) {
	r.CTR = ratio(r.Clicks, r.Impressions, 100)
	r.CPC = ratio(r.Cost, r.Clicks, 1)
	r.CPM = ratio(r.Cost, r.Impressions, 1000)
	r.ROAS = ratio(r.Sales, r.Cost, 1)
	r.ACOS = ratio(r.Cost, r.Sales, 100)
	r.ConversionRate = ratio(r.Conversions, r.Clicks, 100)
}

func ratio(num, den, scale float64) *float64 {
	if den == 0 {
		return nil
	}
	v := num / den * scale
	return &v
}
