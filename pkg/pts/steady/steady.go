// Package steady implements the PTS steady state test: over the last
// window rounds, the data excursion must stay within 20% of the average
// and the excursion of the least-squares fit within 10% of the average.
package steady

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the PTS measurement window in rounds.
const DefaultWindow = 5

const (
	// RangeLimit bounds max-min of the window, as a fraction of the average.
	RangeLimit = 0.20

	// SlopeLimit bounds the fit excursion, as a fraction of the average.
	SlopeLimit = 0.10
)

// ErrInvalidWindow is returned for windows too small to fit a line through.
var ErrInvalidWindow = errors.New("steady state window must be at least 2")

// ReasonInsufficient marks a series shorter than the window.
const ReasonInsufficient = "insufficient rounds"

// Result describes one steady state evaluation.
type Result struct {
	Window int `json:"window" yaml:"window"`

	// Rounds and Values are the measurement window (x and y).
	Rounds []int     `json:"rounds" yaml:"rounds"`
	Values []float64 `json:"values" yaml:"values"`

	Average    float64 `json:"average" yaml:"average"`
	Range      float64 `json:"range" yaml:"range"`
	RangeLimit float64 `json:"range_limit" yaml:"range_limit"`

	// Slope, Intercept and RValue describe the fit y = Slope*round + Intercept.
	Slope     float64 `json:"slope" yaml:"slope"`
	Intercept float64 `json:"intercept" yaml:"intercept"`
	RValue    float64 `json:"r_value" yaml:"r_value"`

	// FitExcursion is max-min of the fitted line across the window.
	FitExcursion float64 `json:"fit_excursion" yaml:"fit_excursion"`
	FitLimit     float64 `json:"fit_limit" yaml:"fit_limit"`

	RangeOK bool   `json:"range_ok" yaml:"range_ok"`
	SlopeOK bool   `json:"slope_ok" yaml:"slope_ok"`
	Steady  bool   `json:"steady" yaml:"steady"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Check evaluates the last window values of a series whose i-th element
// (0-based) was measured in round i+1.
func Check(values []float64, window int) (Result, error) {
	if window < 2 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidWindow, window)
	}

	res := Result{Window: window}
	if len(values) < window {
		res.Values = append([]float64(nil), values...)
		res.Reason = fmt.Sprintf("%s (%d < %d)", ReasonInsufficient, len(values), window)
		return res, nil
	}

	first := len(values) - window + 1
	ys := append([]float64(nil), values[len(values)-window:]...)
	xs := make([]float64, window)
	res.Rounds = make([]int, window)
	for i := range xs {
		res.Rounds[i] = first + i
		xs[i] = float64(first + i)
	}
	res.Values = ys

	res.Average = stat.Mean(ys, nil)
	res.Range = floats.Max(ys) - floats.Min(ys)
	res.RangeLimit = RangeLimit * res.Average
	res.RangeOK = res.Range < res.RangeLimit

	res.Intercept, res.Slope = stat.LinearRegression(xs, ys, nil, false)
	res.FitExcursion = math.Abs(res.Slope) * float64(window-1)
	res.FitLimit = SlopeLimit * res.Average
	res.SlopeOK = res.FitExcursion < res.FitLimit

	// A flat series has no defined correlation; report it as zero.
	if r := stat.Correlation(xs, ys, nil); !math.IsNaN(r) {
		res.RValue = r
	}

	res.Steady = res.RangeOK && res.SlopeOK
	switch {
	case res.Steady:
	case !res.RangeOK:
		res.Reason = fmt.Sprintf("range %.3f >= %.3f", res.Range, res.RangeLimit)
	default:
		res.Reason = fmt.Sprintf("fit excursion %.3f >= %.3f", res.FitExcursion, res.FitLimit)
	}

	return res, nil
}
