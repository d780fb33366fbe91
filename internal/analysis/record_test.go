package analysis

import (
	"testing"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Keyword", "keyword"},
		{"  Spend   (USD) ", "spend_(usd)"},
		{"7 Day Total Sales", "7_day_total_sales"},
		{"\ufeffImpressions", "impressions"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeHeader(tt.input), tt.input)
	}

	f, ok := CanonicalField("Spend (USD)")
	assert.True(t, ok)
	assert.Equal(t, FieldCost, f)

	_, ok = CanonicalField("Campaign Name")
	assert.False(t, ok)
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		present bool
		wantErr bool
	}{
		{"plain", "42", 42, true, false},
		{"currency and thousands", "$1,234.50", 1234.5, true, false},
		{"percent", "3.5%", 3.5, true, false},
		{"accounting negative", "(5.00)", -5, true, false},
		{"empty is absent", "  ", 0, false, false},
		{"dash is absent", "-", 0, false, false},
		{"garbage", "n/a", 0, true, true},
		{"infinity rejected", "Inf", 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, present, err := ParseNumber(tt.input)
			assert.Equal(t, tt.present, present)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestClean_Discards(t *testing.T) {
	schema := NewSchema([]string{"keyword", "impressions", "clicks", "cost", "sales", "conversions"})
	tests := []struct {
		name   string
		row    []string
		reason string
	}{
		{"missing keyword", []string{"", "10", "1", "1", "", ""}, ReasonMissingRequired},
		{"missing impressions", []string{"a", "", "1", "1", "", ""}, ReasonMissingRequired},
		{"missing cost", []string{"a", "10", "1", "", "", ""}, ReasonMissingRequired},
		{"short row", []string{"a", "10"}, ReasonMissingRequired},
		{"bad number", []string{"a", "ten", "1", "1", "", ""}, ReasonInvalidNumber},
		{"negative cost", []string{"a", "10", "1", "-1", "", ""}, ReasonNegativeValue},
		{"negative sales", []string{"a", "10", "1", "1", "(3)", ""}, ReasonNegativeValue},
		{"clicks over impressions", []string{"a", "5", "10", "1", "", ""}, ReasonClicksExceed},
		{"impression outlier", []string{"a", "1000000", "1", "1", "", ""}, ReasonOutlier},
		{"click outlier", []string{"a", "2000000", "1000000", "1", "", ""}, ReasonOutlier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason, ok := schema.Clean(tt.row, 1)
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClean_DefaultsOptionalFields(t *testing.T) {
	schema := NewSchema([]string{"keyword", "impressions", "clicks", "cost"})
	rec, _, ok := schema.Clean([]string{"a", "200", "4", "8"}, 7)
	require.True(t, ok)
	assert.Equal(t, 7, rec.RowIndex)
	assert.Equal(t, 0.0, rec.Sales)
	assert.Equal(t, 0.0, rec.Conversions)
	require.NotNil(t, rec.CTR)
	assert.InDelta(t, 2.0, *rec.CTR, 1e-9)
	require.NotNil(t, rec.CPC)
	assert.InDelta(t, 2.0, *rec.CPC, 1e-9)
	require.NotNil(t, rec.CPM)
	assert.InDelta(t, 40.0, *rec.CPM, 1e-9)
	require.NotNil(t, rec.ROAS)
	assert.Equal(t, 0.0, *rec.ROAS)
	assert.Nil(t, rec.ACOS)
	require.NotNil(t, rec.ConversionRate)
	assert.Equal(t, 0.0, *rec.ConversionRate)
}

func TestDerive_ZeroDenominators(t *testing.T) {
	r := models.Record{Keyword: "z"}
	Derive(&r)
	for _, m := range models.Metrics {
		_, ok := r.Value(m)
		assert.False(t, ok, string(m))
	}
}
