package models

// Record is one validated input row. Raw fields are always set after cleaning;
// derived metrics are nil when their denominator is zero.
type Record struct {
	JobID       string  `db:"job_id"      json:"-"`
	RowIndex    int     `db:"row_index"   json:"row_index"`
	Keyword     string  `db:"keyword"     json:"keyword"`
	Impressions float64 `db:"impressions" json:"impressions"`
	Clicks      float64 `db:"clicks"      json:"clicks"`
	Cost        float64 `db:"cost"        json:"cost"`
	Sales       float64 `db:"sales"       json:"sales"`
	Conversions float64 `db:"conversions" json:"conversions"`

	CTR            *float64 `db:"calculated_ctr"             json:"calculated_ctr,omitempty"`
	CPC            *float64 `db:"calculated_cpc"             json:"calculated_cpc,omitempty"`
	CPM            *float64 `db:"calculated_cpm"             json:"calculated_cpm,omitempty"`
	ROAS           *float64 `db:"calculated_roas"            json:"calculated_roas,omitempty"`
	ACOS           *float64 `db:"calculated_acos"            json:"calculated_acos,omitempty"`
	ConversionRate *float64 `db:"calculated_conversion_rate" json:"calculated_conversion_rate,omitempty"`
}

// Metric names the derived metrics.
type Metric string

const (
	MetricCTR            Metric = "ctr"
	MetricCPC            Metric = "cpc"
	MetricCPM            Metric = "cpm"
	MetricROAS           Metric = "roas"
	MetricACOS           Metric = "acos"
	MetricConversionRate Metric = "conversion_rate"
)

// Metrics lists every derived metric in a stable order.
var Metrics = []Metric{MetricCTR, MetricCPC, MetricCPM, MetricROAS, MetricACOS, MetricConversionRate}

// Value returns the derived metric and whether it is defined for this record.
func (r *Record) Value(m Metric) (float64, bool) {
	var p *float64
	switch m {
	case MetricCTR:
		p = r.CTR
	case MetricCPC:
		p = r.CPC
	case MetricCPM:
		p = r.CPM
	case MetricROAS:
		p = r.ROAS
	case MetricACOS:
		p = r.ACOS
	case MetricConversionRate:
		p = r.ConversionRate
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}
