package analysis

import (
	"math"

	"github.com/kiranshivaraju/adlens/pkg/models"
)

// Ranking sizes.
const (
	SummaryTopN   = 5
	PersistedTopN = 10
)

// Aggregator accumulates an AnalysisResult one record at a time. Memory is bounded
// by the ranking capacity, not by the number of records.
type Aggregator struct {
	capacity  int
	rows      int
	discarded int
	reasons   map[string]int
	totals    models.Totals
	trends    models.Trends
	stats     map[models.Metric]*welford
	top       map[models.Metric]*ranking
	bottom    map[models.Metric]*ranking
	ignored   []string
}

// NewAggregator returns an aggregator keeping capacity entries per ranked list.
func NewAggregator(capacity int) *Aggregator {
	if capacity <= 0 {
		capacity = PersistedTopN
	}
	a := &Aggregator{
		capacity: capacity,
		reasons:  make(map[string]int),
		stats:    make(map[models.Metric]*welford, len(models.Metrics)),
		top:      make(map[models.Metric]*ranking, len(models.Metrics)),
		bottom:   make(map[models.Metric]*ranking, len(models.Metrics)),
	}
	for _, m := range models.Metrics {
		a.stats[m] = &welford{}
		a.top[m] = &ranking{capacity: capacity, descending: true}
		a.bottom[m] = &ranking{capacity: capacity}
	}
	return a
}

// Add folds an accepted record into the aggregate.
func (a *Aggregator) Add(r models.Record) {
	a.rows++
	a.totals.Impressions += r.Impressions
	a.totals.Clicks += r.Clicks
	a.totals.Cost += r.Cost
	a.totals.Sales += r.Sales
	a.totals.Conversions += r.Conversions

	for _, m := range models.Metrics {
		v, ok := r.Value(m)
		if !ok {
			continue
		}
		a.stats[m].add(v)
		p := models.Performer{RowIndex: r.RowIndex, Keyword: r.Keyword, Value: v}
		a.top[m].insert(p)
		a.bottom[m].insert(p)
	}

	if r.Cost > HighCostThreshold {
		a.trends.HighCostKeywords++
	}
	if r.CTR != nil && *r.CTR < LowCTRThreshold {
		a.trends.LowCTRKeywords++
	}
	if r.ACOS != nil && *r.ACOS > HighACOSThreshold {
		a.trends.HighACOSKeywords++
	}
	if r.Conversions == 0 {
		a.trends.ZeroConversionKeywords++
	}
}

// Discard counts a rejected row.
func (a *Aggregator) Discard(reason string) {
	a.discarded++
	a.reasons[reason]++
}

// Ignore records columns dropped by the schema.
func (a *Aggregator) Ignore(columns []string) {
	a.ignored = append(a.ignored, columns...)
}

// Rows returns the number of accepted records so far.
func (a *Aggregator) Rows() int { return a.rows }

// Result snapshots the aggregate. Averages only cover records where the metric
// is defined. CreatedAt is left for the caller to stamp, so equal input gives
// an equal result.
func (a *Aggregator) Result(jobID string) *models.AnalysisResult {
	res := &models.AnalysisResult{
		JobID:            jobID,
		RowCount:         a.rows,
		DiscardedCount:   a.discarded,
		Totals:           a.totals,
		Trends:           a.trends,
		Averages:         make(map[models.Metric]float64),
		Stats:            make(map[models.Metric]models.MetricStats),
		TopPerformers:    make(map[models.Metric][]models.Performer),
		BottomPerformers: make(map[models.Metric][]models.Performer),
	}
	if len(a.reasons) > 0 {
		res.DiscardReasons = make(map[string]int, len(a.reasons))
		for k, v := range a.reasons {
			res.DiscardReasons[k] = v
		}
	}
	if len(a.ignored) > 0 {
		res.IgnoredColumns = append([]string(nil), a.ignored...)
	}
	for _, m := range models.Metrics {
		w := a.stats[m]
		if w.n == 0 {
			continue
		}
		res.Averages[m] = w.mean
		res.Stats[m] = w.snapshot()
		res.TopPerformers[m] = a.top[m].list()
		res.BottomPerformers[m] = a.bottom[m].list()
	}
	return res
}

// Summarize aggregates an in-memory slice of records.
func Summarize(jobID string, records []models.Record, capacity int) *models.AnalysisResult {
	agg := NewAggregator(capacity)
	for _, r := range records {
		agg.Add(r)
	}
	return agg.Result(jobID)
}

// welford tracks running mean and variance.
type welford struct {
	n        int
	mean, m2 float64
	min, max float64
}

func (w *welford) add(v float64) {
	w.n++
	if w.n == 1 {
		w.min, w.max = v, v
	} else {
		w.min = math.Min(w.min, v)
		w.max = math.Max(w.max, v)
	}
	d := v - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (v - w.mean)
}

func (w *welford) snapshot() models.MetricStats {
	var sd float64
	if w.n > 1 {
		sd = math.Sqrt(w.m2 / float64(w.n))
	}
	return models.MetricStats{Count: w.n, Mean: w.mean, StdDev: sd, Min: w.min, Max: w.max}
}

// ranking keeps the best capacity performers. Ties go to the earlier row.
type ranking struct {
	capacity   int
	descending bool
	items      []models.Performer
}

func (r *ranking) better(a, b models.Performer) bool {
	if a.Value != b.Value {
		if r.descending {
			return a.Value > b.Value
		}
		return a.Value < b.Value
	}
	return a.RowIndex < b.RowIndex
}

func (r *ranking) insert(p models.Performer) {
	pos := len(r.items)
	for i, it := range r.items {
		if r.better(p, it) {
			pos = i
			break
		}
	}
	if pos >= r.capacity {
		return
	}
	r.items = append(r.items, models.Performer{})
	copy(r.items[pos+1:], r.items[pos:])
	r.items[pos] = p
	if len(r.items) > r.capacity {
		r.items = r.items[:r.capacity]
	}
}

func (r *ranking) list() []models.Performer {
	return append([]models.Performer(nil), r.items...)
}
