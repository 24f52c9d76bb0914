package ranking

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when fewer than two rows can enter the fit.
var ErrInsufficientData = errors.New("not enough points to fit a line")

// ResidualOptions controls Residual.
type ResidualOptions struct {
	LogX     bool
	LogY     bool
	Reversal bool
}

// DefaultResidualOptions fits log(y) on log(x) and reverses the sign, so a
// positive result means y is larger than x predicts.
func DefaultResidualOptions() ResidualOptions {
	return ResidualOptions{LogX: true, LogY: true, Reversal: true}
}

// Residual fits an ordinary least-squares line y = a + b·x and returns
// predicted − actual for each point, negated when opts.Reversal is set.
// Points that are NaN, or non-positive under a log transform, stay out of the
// fit and get a NaN residual.
func Residual(x, y []float64, opts ResidualOptions) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("residual: x has %d values, y has %d", len(x), len(y))
	}
	tx := make([]float64, len(x))
	ty := make([]float64, len(y))
	var fitX, fitY []float64
	for i := range x {
		tx[i], ty[i] = transform(x[i], opts.LogX), transform(y[i], opts.LogY)
		if math.IsNaN(tx[i]) || math.IsNaN(ty[i]) || math.IsInf(tx[i], 0) || math.IsInf(ty[i], 0) {
			continue
		}
		fitX = append(fitX, tx[i])
		fitY = append(fitY, ty[i])
	}
	if len(fitX) < 2 {
		return nil, ErrInsufficientData
	}

	alpha, beta := stat.LinearRegression(fitX, fitY, nil, false)
	sign := 1.0
	if opts.Reversal {
		sign = -1
	}
	out := make([]float64, len(x))
	for i := range tx {
		if math.IsNaN(tx[i]) || math.IsNaN(ty[i]) || math.IsInf(tx[i], 0) || math.IsInf(ty[i], 0) {
			out[i] = math.NaN()
			continue
		}
		predicted := alpha + beta*tx[i]
		out[i] = sign * (predicted - ty[i])
	}
	return out, nil
}

func transform(v float64, log bool) float64 {
	if !log {
		return v
	}
	if v <= 0 {
		return math.NaN()
	}
	return math.Log(v)
}
