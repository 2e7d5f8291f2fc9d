package market

import (
	"math"

	"github.com/pkg/errors"
)

// Every indicator in this package returns a sequence as long as its input.
// Positions without enough history hold the Undefined sentinel.

// SMA calculates the simple moving average of field over a window of n rows.
func SMA(s Series, field Field, n int) ([]float64, error) {
	if err := requirePositive("window", n); err != nil {
		return nil, err
	}
	xs, err := s.Values(field)
	if err != nil {
		return nil, err
	}
	return rolling(xs, n, mean), nil
}

// StdDev calculates the rolling population standard deviation of field.
func StdDev(s Series, field Field, n int) ([]float64, error) {
	if err := requirePositive("window", n); err != nil {
		return nil, err
	}
	xs, err := s.Values(field)
	if err != nil {
		return nil, err
	}
	return rolling(xs, n, stdDev), nil
}

func stdDev(window []float64) float64 {
	m := mean(window)
	variance := 0.0
	for _, v := range window {
		diff := v - m
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(window)))
}

// Bands is the output of Bollinger.
type Bands struct {
	Upper  []float64 `json:"upper"`
	Middle []float64 `json:"middle"`
	Lower  []float64 `json:"lower"`
}

// Bollinger calculates Bollinger bands: the SMA of field plus and minus k
// rolling standard deviations.
func Bollinger(s Series, field Field, n int, k float64) (Bands, error) {
	if math.IsNaN(k) || math.IsInf(k, 0) || k < 0 {
		return Bands{}, errors.Wrapf(ErrInvalidParameter, "band width must be a non-negative number, got %v", k)
	}
	middle, err := SMA(s, field, n)
	if err != nil {
		return Bands{}, err
	}
	dev, err := StdDev(s, field, n)
	if err != nil {
		return Bands{}, err
	}
	return Bands{
		Upper:  zipWith(middle, dev, func(m, d float64) float64 { return m + k*d }),
		Middle: middle,
		Lower:  zipWith(middle, dev, func(m, d float64) float64 { return m - k*d }),
	}, nil
}

// AverageTrueRange is the plain windowed mean of the true range. ATR is the
// Wilder-smoothed variant.
func AverageTrueRange(s Series, n int) ([]float64, error) {
	if err := requirePositive("window", n); err != nil {
		return nil, err
	}
	return rolling(TrueRange(s), n, mean), nil
}
