package market

import "math"

// EMA calculates the exponential moving average of field with smoothing
// factor 2/(span+1). The first output equals the first input, so the result
// has no undefined prefix.
func EMA(s Series, field Field, span int) ([]float64, error) {
	xs, err := s.Values(field)
	if err != nil {
		return nil, err
	}
	return EMAValues(xs, span)
}

// EMAValues is EMA over a bare sequence, used to smooth derived lines.
func EMAValues(xs []float64, span int) ([]float64, error) {
	if err := requirePositive("span", span); err != nil {
		return nil, err
	}
	return smooth(xs, 2.0/float64(span+1)), nil
}

// wilder smooths with alpha = 1/n, equivalent to an EMA of span 2n-1.
func wilder(xs []float64, n int) []float64 {
	return smooth(xs, 1.0/float64(n))
}

// TrueRange returns max(h-l, |h-prevClose|, |l-prevClose|) per row. The first
// row has no previous close and uses h-l.
func TrueRange(s Series) []float64 {
	out := make([]float64, len(s))
	for i, r := range s {
		if i == 0 {
			out[i] = r.H - r.L
			continue
		}
		prevClose := s[i-1].C
		out[i] = math.Max(r.H-r.L, math.Max(math.Abs(r.H-prevClose), math.Abs(r.L-prevClose)))
	}
	return out
}

// ATR calculates the average true range with Wilder smoothing over n periods,
// seeded with the first true range.
func ATR(s Series, n int) ([]float64, error) {
	if err := requirePositive("period", n); err != nil {
		return nil, err
	}
	return wilder(TrueRange(s), n), nil
}

// NATR is ATR over the true range expressed as a fraction of the close. A
// zero close leaves that row out of the recurrence.
func NATR(s Series, n int) ([]float64, error) {
	if err := requirePositive("period", n); err != nil {
		return nil, err
	}
	normalized := zipWith(TrueRange(s), s.Closes(), func(tr, c float64) float64 {
		if c == 0 {
			return Undefined()
		}
		return tr / c
	})
	return wilder(normalized, n), nil
}

// RSI calculates the relative strength index over n periods. Index 0 has no
// price change and is undefined. When the smoothed loss is zero the RSI is 100.
func RSI(s Series, n int) ([]float64, error) {
	if err := requirePositive("period", n); err != nil {
		return nil, err
	}
	deltas := pairwise(s, func(prev, cur Row) float64 { return cur.C - prev.C })
	gains := make([]float64, len(deltas))
	losses := make([]float64, len(deltas))
	for i, d := range deltas {
		if IsUndefined(d) {
			gains[i], losses[i] = d, d
			continue
		}
		gains[i] = math.Max(d, 0)
		losses[i] = math.Max(-d, 0)
	}

	return zipWith(wilder(gains, n), wilder(losses, n), func(avgGain, avgLoss float64) float64 {
		switch {
		case IsUndefined(avgGain) || IsUndefined(avgLoss):
			return Undefined()
		case avgLoss == 0:
			return 100
		}
		return 100 - 100/(1+avgGain/avgLoss)
	}), nil
}
