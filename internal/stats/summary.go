package stats

import (
	"errors"
	"fmt"

	mstats "github.com/montanaflynn/stats"
)

var ErrEmpty = errors.New("values must not be empty")

// Summary describes a sample of layer outputs or errors.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

// Summarize computes population statistics over values.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmpty
	}
	data := mstats.Float64Data(values)

	var (
		s   = Summary{Count: len(values)}
		err error
	)
	if s.Mean, err = data.Mean(); err != nil {
		return Summary{}, fmt.Errorf("mean: %w", err)
	}
	if s.Median, err = data.Median(); err != nil {
		return Summary{}, fmt.Errorf("median: %w", err)
	}
	if s.StdDev, err = data.StandardDeviationPopulation(); err != nil {
		return Summary{}, fmt.Errorf("stddev: %w", err)
	}
	if s.Min, err = data.Min(); err != nil {
		return Summary{}, fmt.Errorf("min: %w", err)
	}
	if s.Max, err = data.Max(); err != nil {
		return Summary{}, fmt.Errorf("max: %w", err)
	}
	if len(values) == 1 {
		s.P95 = values[0]
		return s, nil
	}
	if s.P95, err = data.Percentile(95); err != nil {
		return Summary{}, fmt.Errorf("p95: %w", err)
	}
	return s, nil
}

// AbsDeviation returns |v - target| for every value.
func AbsDeviation(values []float64, target float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		d := v - target
		if d < 0 {
			d = -d
		}
		out[i] = d
	}
	return out
}
