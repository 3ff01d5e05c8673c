package anomaly

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/HerbHall/backscatter/internal/regression"
	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

func dailySeries(fid string, means []float64, std float64) series.Series {
	obs := make([]series.Observation, len(means))
	for i, m := range means {
		obs[i] = series.Observation{Date: day0.AddDate(0, 0, i), Mean: m, Std: std, SampleCount: 100}
	}
	return series.New(fid, obs)
}

func TestFindExtrema(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		mode     Mode
		distance int
		want     []int
	}{
		{"simple maxima", []float64{0, 1, 0, 2, 0}, Maxima, 1, []int{1, 3}},
		{"simple minima", []float64{0, -1, 0, -2, 0}, Minima, 1, []int{1, 3}},
		{"odd plateau midpoint", []float64{0, 1, 1, 1, 0}, Maxima, 1, []int{2}},
		{"even plateau rounds down", []float64{0, 1, 1, 0}, Maxima, 1, []int{1}},
		{"plateau reaching end", []float64{0, 1, 1}, Maxima, 1, nil},
		{"endpoints never peaks", []float64{5, 0, 5}, Maxima, 1, nil},
		{"distance keeps highest", []float64{0, 5, 0, 3, 0, 4, 0}, Maxima, 3, []int{1, 5}},
		{"tie keeps later", []float64{0, 2, 0, 2, 0}, Maxima, 3, []int{3}},
		{"too short", []float64{1, 2}, Maxima, 1, nil},
		{"empty", nil, Minima, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindExtrema(tt.values, tt.mode, tt.distance)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindExtrema_DoesNotModifyInput(t *testing.T) {
	values := []float64{-10, -12, -9, -13, -10}
	orig := append([]float64(nil), values...)
	FindExtrema(values, Minima, 1)
	assert.Equal(t, orig, values)
}

func TestReflect_RoundTrip(t *testing.T) {
	values := []float64{-12.5, -9.1, -15.75, 0, 3.3}
	mean := -6.8
	back := Reflect(Reflect(values, mean), mean)
	for i := range values {
		assert.InDelta(t, values[i], back[i], 1e-9)
	}
	// the reflected mean is unchanged
	r := Reflect([]float64{1, 3}, 2)
	assert.Equal(t, []float64{3, 1}, r)
}

func TestCorrectInsensitive(t *testing.T) {
	linMean := []float64{0, 0, 0, 0, 0, 0}
	linStd := []float64{1, 1, 1, 1, 1, 1}
	values := []float64{0.2, 0.1, 0, -0.1, -0.2, 3}
	positions := []int{0, 1, 2, 3, 4, 5}

	got := CorrectInsensitive(positions, values, linMean, linStd, 0.2)
	assert.Equal(t, []int{0, 4, 5}, got)

	assert.Empty(t, CorrectInsensitive(nil, values, linMean, linStd, 0.2))
	assert.Equal(t, []int{2}, CorrectInsensitive([]int{2}, values, linMean, linStd, 0))
}

func TestDeleteAdjacent(t *testing.T) {
	dates := make([]time.Time, 101)
	for i := range dates {
		dates[i] = day0.AddDate(0, 0, i)
	}
	window := 31 * 24 * time.Hour

	tests := []struct {
		name      string
		positions []int
		want      []int
	}{
		{"pairs drop earlier", []int{0, 10, 50, 60, 100}, []int{10, 60, 100}},
		{"run keeps last", []int{0, 10, 20, 30}, []int{30}},
		{"exactly window apart", []int{0, 31}, []int{0, 31}},
		{"single", []int{7}, []int{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeleteAdjacent(tt.positions, dates, window))
		})
	}
	assert.Empty(t, DeleteAdjacent(nil, dates, window))
}

func TestZScoreCheck(t *testing.T) {
	tests := []struct {
		name         string
		value, mean  float64
		stdDev       float64
		wantZ        float64
		wantSeverity string
	}{
		{"at mean", -10, -10, 1, 0, SeverityInfo},
		{"warning", -8.5, -10, 1, 1.5, SeverityWarning},
		{"critical low", -13, -10, 1, -3, SeverityCritical},
		{"zero std", -3, -10, 0, 0, SeverityInfo},
		{"negative std uses magnitude", -8.5, -10, -1, 1.5, SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ZScoreCheck(tt.value, tt.mean, tt.stdDev, 1)
			assert.InDelta(t, tt.wantZ, r.ZScore, 1e-9)
			assert.Equal(t, tt.wantSeverity, r.Severity)
		})
	}
}

func TestFindFeatureExtrema_SingleSpike(t *testing.T) {
	means := make([]float64, 60)
	for i := range means {
		means[i] = -10
	}
	means[30] = -5
	s := dailySeries("0", means, 1)
	lin := regression.FitLinear(s).Series()

	res, err := NewDetector().FindFeatureExtrema(s, lin)
	require.NoError(t, err)

	assert.Equal(t, []int{30}, res.Maxima)
	assert.Empty(t, res.Minima)
	assert.Equal(t, []int{30}, res.Final)
	assert.Equal(t, 1, res.Count())
	for i, f := range res.Flags {
		assert.Equal(t, i == 30, f, "flag %d", i)
	}
	require.Len(t, res.Events, 1)
	assert.Equal(t, "up", res.Events[0].Direction)
	assert.Equal(t, s.Observations[30].Date, res.Events[0].Date)
	assert.Equal(t, SeverityCritical, res.Events[0].Severity)
	assert.InDelta(t, -10+5.0/60, res.GlobalMean, 1e-9)
}

func TestFindFeatureExtrema_StagesOnlyShrink(t *testing.T) {
	means := make([]float64, 120)
	for i := range means {
		means[i] = -11 + 2*math.Sin(float64(i)/3) + 0.5*math.Cos(float64(i)*1.7)
	}
	s := dailySeries("3", means, 0.8)
	lin := regression.FitLinear(s).Series()

	res, err := NewDetector(WithDistance(4)).FindFeatureExtrema(s, lin)
	require.NoError(t, err)

	assert.Subset(t, res.Extrema, res.Significant)
	assert.Subset(t, res.Significant, res.Final)
	assert.LessOrEqual(t, len(res.Final), len(res.Significant))
	assert.LessOrEqual(t, len(res.Significant), len(res.Extrema))
	assert.Len(t, res.Flags, s.Len())
	assert.Equal(t, len(res.Final), len(res.Events))
}

func TestFindFeatureExtrema_Misaligned(t *testing.T) {
	s := dailySeries("0", []float64{-10, -9, -10, -11, -10}, 1)

	tests := []struct {
		name   string
		linear series.Series
	}{
		{"shorter", dailySeries("0", []float64{-10, -10, -10}, 1)},
		{"other feature", dailySeries("1", []float64{-10, -10, -10, -10, -10}, 1)},
		{"shifted dates", series.New("0", []series.Observation{
			{Date: day0}, {Date: day0.AddDate(0, 0, 1)}, {Date: day0.AddDate(0, 0, 2)},
			{Date: day0.AddDate(0, 0, 3)}, {Date: day0.AddDate(0, 0, 9)},
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector().FindFeatureExtrema(s, tt.linear)
			require.Error(t, err)
			assert.True(t, errors.Is(err, series.ErrAlignment))
			var ae *series.AlignmentError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "0", ae.FID)
		})
	}
}

func TestDetectAllAndApply(t *testing.T) {
	spiky := make([]float64, 60)
	flat := make([]float64, 60)
	for i := range spiky {
		spiky[i], flat[i] = -10, -14
	}
	spiky[20] = -4
	features := []series.Series{dailySeries("0", spiky, 1), dailySeries("1", flat, 1)}
	linears := map[string]series.Series{}
	for _, f := range features {
		linears[f.FID] = regression.FitLinear(f).Series()
	}

	results, err := NewDetector().DetectAll(features, linears)
	require.NoError(t, err)
	require.Len(t, results, 2)

	applied := Apply(features, results)
	assert.Equal(t, 1, applied[0].CountFlags())
	assert.True(t, applied[0].Observations[20].Anomaly)
	assert.Equal(t, 0, applied[1].CountFlags())
	// inputs untouched
	assert.Equal(t, 0, features[0].CountFlags())

	delete(linears, "1")
	_, err = NewDetector().DetectAll(features, linears)
	assert.ErrorIs(t, err, series.ErrAlignment)
}
