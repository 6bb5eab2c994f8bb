package profiler

import (
	"math"
	"sort"

	"github.com/ValentinKolb/fab/rpc/common"
)

// Stats summarizes one timing series. All values are milliseconds rounded to
// two decimal places.
type Stats struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	Max float64 `json:"max"`
}

// Percentile returns the nearest rank percentile of values: the element at
// index floor(p*len) of the ascending series, clamped to the last element.
// values is not modified. ok is false for an empty series.
func Percentile(values []float64, p float64) (v float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	idx := int(math.Floor(p * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx], true
}

// Summarize computes the stats of a series, nil if the series is empty
func Summarize(values []float64) *Stats {
	if len(values) == 0 {
		return nil
	}

	sum, peak := 0.0, values[0]
	for _, v := range values {
		sum += v
		if v > peak {
			peak = v
		}
	}
	p50, _ := Percentile(values, 0.5)
	p95, _ := Percentile(values, 0.95)

	return &Stats{
		Avg: common.RoundMs(sum / float64(len(values))),
		P50: common.RoundMs(p50),
		P95: common.RoundMs(p95),
		Max: common.RoundMs(peak),
	}
}
