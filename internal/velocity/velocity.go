// Package velocity derives growth statistics from an agency's snapshot history.
package velocity

import (
	"math"
	"sort"

	"github.com/regwatch/regvelocity/internal/regdata"
)

// Trend directions reported alongside the velocity figure.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendUnchanged  = "unchanged"
)

const (
	daysPerYear = 365.25
	hoursPerDay = 24
	// minYears guards the division against near-zero durations.
	minYears = 0.01
)

// Stats is the display-ready result of a velocity computation.
type Stats struct {
	// Velocity is the metric change per year, rounded to the nearest integer.
	Velocity int64 `json:"velocity"`
	// Trend is "increasing", "decreasing" or "unchanged".
	Trend string `json:"trend"`
	// Current is the most recent metric value, 0 when the series is empty.
	Current int64 `json:"current"`
	// Series is the aggregate history sorted most-recent first.
	Series []regdata.SeriesPoint `json:"series"`
}

// Compute derives velocity stats from an aggregate series. The input need not
// be sorted; the result's series is ordered descending by date. Fewer than two
// distinct dates yield a zero velocity and a neutral trend, not an error.
func Compute(points []regdata.SeriesPoint) Stats {
	series := make([]regdata.SeriesPoint, len(points))
	copy(series, points)
	sort.Slice(series, func(i, j int) bool { return series[i].Date.After(series[j].Date) })

	stats := Stats{Trend: TrendUnchanged, Series: series}
	if len(series) == 0 {
		return stats
	}

	newest := series[0]
	oldest := series[len(series)-1]
	stats.Current = newest.Metric
	if newest.Date.Equal(oldest.Date) {
		return stats
	}

	delta := newest.Metric - oldest.Metric
	switch {
	case delta > 0:
		stats.Trend = TrendIncreasing
	case delta < 0:
		stats.Trend = TrendDecreasing
	}

	years := newest.Date.Sub(oldest.Date).Hours() / (hoursPerDay * daysPerYear)
	if years > minYears {
		stats.Velocity = int64(math.Round(float64(delta) / years))
	}
	return stats
}
