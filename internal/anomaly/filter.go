package anomaly

import (
	"math"
	"time"
)

// CorrectInsensitive drops extrema that lie within factor linear standard
// deviations of the linear mean. The band is half-open toward the mean: a
// point at or above the mean survives only from mean+factor*std upward, a
// point below it only from mean-factor*std downward.
func CorrectInsensitive(positions []int, values, linMean, linStd []float64, factor float64) []int {
	var out []int
	for _, p := range positions {
		v, lm := values[p], linMean[p]
		band := math.Abs(factor * linStd[p])
		if v >= lm {
			if v < lm+band {
				continue
			}
		} else if v > lm-band {
			continue
		}
		out = append(out, p)
	}
	return out
}

// DeleteAdjacent removes the earlier of every consecutive pair of positions
// whose dates are closer than window. Pairs are judged on the input list, so
// a run of close extrema keeps only its last member.
func DeleteAdjacent(positions []int, dates []time.Time, window time.Duration) []int {
	if len(positions) < 2 {
		return append([]int(nil), positions...)
	}
	var out []int
	for i, p := range positions {
		if i+1 < len(positions) && dates[positions[i+1]].Sub(dates[p]) < window {
			continue
		}
		out = append(out, p)
	}
	return out
}
