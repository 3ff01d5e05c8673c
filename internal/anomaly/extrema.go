package anomaly

import (
	"sort"

	"github.com/montanaflynn/stats"
)

// Mode selects which extrema FindExtrema looks for.
type Mode int

const (
	Maxima Mode = iota
	Minima
)

func (m Mode) String() string {
	if m == Minima {
		return "minima"
	}
	return "maxima"
}

// FindExtrema returns the ascending positions of local extrema in values,
// at least distance samples apart. Minima are found as the maxima of a
// reflected copy; values is never modified.
func FindExtrema(values []float64, mode Mode, distance int) []int {
	if mode == Minima {
		mean, err := stats.Mean(values)
		if err != nil {
			return nil
		}
		return findPeaks(Reflect(values, mean), distance)
	}
	return findPeaks(values, distance)
}

// Reflect mirrors values about mean: a point d above the mean moves to d
// below it and vice versa. Reflecting twice about the same mean is the identity.
func Reflect(values []float64, mean float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = 2*mean - v
	}
	return out
}

// findPeaks finds strict local maxima (flat tops report their middle sample),
// never at the first or last position, then suppresses lower peaks within
// distance of a higher one.
func findPeaks(x []float64, distance int) []int {
	var peaks []int
	last := len(x) - 1
	for i := 1; i < last; i++ {
		if !(x[i-1] < x[i]) {
			continue
		}
		ahead := i + 1
		for ahead < last && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead - 1
		}
	}
	if distance <= 1 || len(peaks) < 2 {
		return peaks
	}

	// highest first; later position wins a tie
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[peaks[order[a]]] < x[peaks[order[b]]] })

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := peaks[:0]
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}
