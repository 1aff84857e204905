// Package pressuretrend classifies barometric trend over a trailing
// window. The reference service compares only the oldest and newest
// reading in the window; this port keeps that classification but adds a
// least-squares slope fit (gonum/stat) as the reported rate, since a
// two-point endpoint comparison is noisy on a real sensor stream and Go's
// stats package makes the better estimate cheap to compute alongside it.
package pressuretrend

import (
	"time"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

const (
	// Threshold is the minimum absolute change, in thousandths inHg, over
	// the window to call the trend rising or falling rather than steady.
	Threshold = 20
	// WindowHours is the trailing window width used to classify trend.
	WindowHours = 3
)

// Reading is one barometer sample used for trend classification.
type Reading struct {
	Timestamp time.Time
	Barometer int // thousandths inHg
}

// Trend is the classification result for a window of readings.
type Trend struct {
	Trend      string // "rising" | "falling" | "steady"
	Change     int     // thousandths inHg, newest minus oldest
	RatePerHour float64 // least-squares slope, thousandths inHg/hour
}

// Analyze classifies trend from readings already filtered to the trailing
// window. Returns the zero Trend with an empty Trend field if there are
// fewer than two readings.
func Analyze(readings []Reading) Trend {
	if len(readings) < 2 {
		return Trend{}
	}

	// The store orders by recorded_at already; sort defensively so a
	// caller assembling readings from more than one source never feeds
	// an out-of-order window into the slope fit.
	slices.SortFunc(readings, func(a, b Reading) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	oldest := readings[0]
	newest := readings[len(readings)-1]
	change := newest.Barometer - oldest.Barometer

	xs := make([]float64, len(readings))
	ys := make([]float64, len(readings))
	t0 := readings[0].Timestamp
	for i, r := range readings {
		xs[i] = r.Timestamp.Sub(t0).Hours()
		ys[i] = float64(r.Barometer)
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)

	classification := "steady"
	if change > Threshold {
		classification = "rising"
	} else if change < -Threshold {
		classification = "falling"
	}

	return Trend{
		Trend:       classification,
		Change:      change,
		RatePerHour: slope,
	}
}
