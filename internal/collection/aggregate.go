package collection

import (
	"sort"
	"time"

	"github.com/HerbHall/backscatter/pkg/series"
	"github.com/montanaflynn/stats"
)

// Aggregate synthesizes the total feature: per date, the mean of mean, std,
// min and max and the sum of sample and no-data counts over the features
// observed on that date. Dates are the union of all feature dates.
func Aggregate(features []series.Series) series.Series {
	type acc struct {
		mean, std, min, max []float64
		samples, nodata     float64
	}
	byDate := make(map[time.Time]*acc)
	for _, f := range features {
		if f.FID == series.TotalFID {
			continue
		}
		for _, o := range f.Observations {
			a, ok := byDate[o.Date]
			if !ok {
				a = &acc{}
				byDate[o.Date] = a
			}
			a.mean = append(a.mean, o.Mean)
			a.std = append(a.std, o.Std)
			a.min = append(a.min, o.Min)
			a.max = append(a.max, o.Max)
			a.samples += o.SampleCount
			a.nodata += o.NodataCount
		}
	}

	obs := make([]series.Observation, 0, len(byDate))
	for date, a := range byDate {
		obs = append(obs, series.Observation{
			Date:        date,
			Mean:        mean(a.mean),
			Std:         mean(a.std),
			Min:         mean(a.min),
			Max:         mean(a.max),
			SampleCount: a.samples,
			NodataCount: a.nodata,
		})
	}
	return series.New(series.TotalFID, obs)
}

// Monthly collapses s to one row per calendar month, anchored on day 15.
// Every numeric field becomes the arithmetic mean over the month.
func Monthly(s series.Series) series.Series {
	type month struct {
		year int
		mon  time.Month
	}
	groups := make(map[month][]series.Observation)
	var keys []month
	for _, o := range s.Observations {
		k := month{o.Date.Year(), o.Date.Month()}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], o)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].mon < keys[j].mon
	})

	obs := make([]series.Observation, 0, len(keys))
	for _, k := range keys {
		rows := groups[k]
		field := func(get func(series.Observation) float64) float64 {
			v := make([]float64, len(rows))
			for i, o := range rows {
				v[i] = get(o)
			}
			return mean(v)
		}
		obs = append(obs, series.Observation{
			Date:        time.Date(k.year, k.mon, 15, 0, 0, 0, 0, time.UTC),
			Mean:        field(func(o series.Observation) float64 { return o.Mean }),
			Std:         field(func(o series.Observation) float64 { return o.Std }),
			Min:         field(func(o series.Observation) float64 { return o.Min }),
			Max:         field(func(o series.Observation) float64 { return o.Max }),
			SampleCount: field(func(o series.Observation) float64 { return o.SampleCount }),
			NodataCount: field(func(o series.Observation) float64 { return o.NodataCount }),
		})
	}
	return series.Series{FID: s.FID, Observations: obs}
}

func mean(v []float64) float64 {
	m, err := stats.Mean(v)
	if err != nil {
		return 0
	}
	return m
}
