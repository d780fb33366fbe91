package analysis

import (
	"testing"

	"github.com/kiranshivaraju/adlens/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(idx int, kw string, impr, clicks, cost, sales, conv float64) models.Record {
	r := models.Record{RowIndex: idx, Keyword: kw, Impressions: impr, Clicks: clicks, Cost: cost, Sales: sales, Conversions: conv}
	Derive(&r)
	return r
}

func TestAggregator_TrendCounters(t *testing.T) {
	res := Summarize("j", []models.Record{
		rec(1, "expensive", 1000, 5, 150, 100, 1), // cost>100, ctr 0.5, acos 150
		rec(2, "fine", 100, 10, 10, 100, 2),
		rec(3, "no-sales", 100, 10, 10, 0, 0),
	}, SummaryTopN)

	assert.Equal(t, 1, res.Trends.HighCostKeywords)
	assert.Equal(t, 1, res.Trends.LowCTRKeywords)
	assert.Equal(t, 1, res.Trends.HighACOSKeywords)
	assert.Equal(t, 1, res.Trends.ZeroConversionKeywords)
}

func TestAggregator_RankingIsStableAndBounded(t *testing.T) {
	var recs []models.Record
	for i := 1; i <= 12; i++ {
		// every row has ctr 10 except row 6 (ctr 50)
		clicks := 10.0
		if i == 6 {
			clicks = 50
		}
		recs = append(recs, rec(i, "k", 100, clicks, 1, 1, 1))
	}
	res := Summarize("j", recs, SummaryTopN)

	top := res.TopPerformers[models.MetricCTR]
	require.Len(t, top, SummaryTopN)
	assert.Equal(t, 6, top[0].RowIndex)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{top[1].RowIndex, top[2].RowIndex, top[3].RowIndex, top[4].RowIndex})

	bottom := res.BottomPerformers[models.MetricCTR]
	require.Len(t, bottom, SummaryTopN)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, []int{bottom[0].RowIndex, bottom[1].RowIndex, bottom[2].RowIndex, bottom[3].RowIndex, bottom[4].RowIndex})
}

func TestAggregator_OutOfOrderTies(t *testing.T) {
	r := &ranking{capacity: 3, descending: true}
	r.insert(models.Performer{RowIndex: 5, Value: 1})
	r.insert(models.Performer{RowIndex: 2, Value: 1})
	r.insert(models.Performer{RowIndex: 9, Value: 3})
	r.insert(models.Performer{RowIndex: 1, Value: 0})

	got := r.list()
	require.Len(t, got, 3)
	assert.Equal(t, []int{9, 2, 5}, []int{got[0].RowIndex, got[1].RowIndex, got[2].RowIndex})
}

func TestAggregator_Stats(t *testing.T) {
	res := Summarize("j", []models.Record{
		rec(1, "a", 100, 2, 1, 0, 0),
		rec(2, "b", 100, 4, 1, 0, 0),
		rec(3, "c", 100, 6, 1, 0, 0),
	}, SummaryTopN)

	st := res.Stats[models.MetricCTR]
	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 4.0, st.Mean, 1e-9)
	assert.InDelta(t, 2.0, st.Min, 1e-9)
	assert.InDelta(t, 6.0, st.Max, 1e-9)
	assert.InDelta(t, 1.632993, st.StdDev, 1e-5)
	_, hasROAS := res.Averages[models.MetricROAS]
	assert.True(t, hasROAS)
	_, hasACOS := res.Averages[models.MetricACOS]
	assert.False(t, hasACOS, "no row defines acos")
}

func TestAnalysisResult_Trim(t *testing.T) {
	var recs []models.Record
	for i := 1; i <= 8; i++ {
		recs = append(recs, rec(i, "k", 100, float64(i), 1, 1, 1))
	}
	full := Summarize("j", recs, PersistedTopN)
	require.Len(t, full.TopPerformers[models.MetricCTR], 8)

	short := full.Trim(SummaryTopN)
	assert.Len(t, short.TopPerformers[models.MetricCTR], SummaryTopN)
	assert.Len(t, full.TopPerformers[models.MetricCTR], 8, "trim must not mutate the original")
}
