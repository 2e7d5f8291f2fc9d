package market

// Gap calculates the opening gap against the previous close. Index 0 is undefined.
func Gap(s Series) []float64 {
	return pairwise(s, func(prev, cur Row) float64 { return cur.O - prev.C })
}

// PercentChange returns the fractional change of field against the previous
// row. A zero previous value yields Undefined instead of an infinity.
func PercentChange(s Series, field Field) ([]float64, error) {
	return Change(s, field, 1)
}

// Change returns the fractional change of field against the row lag positions
// earlier. The first lag positions are undefined.
func Change(s Series, field Field, lag int) ([]float64, error) {
	if err := requirePositive("lag", lag); err != nil {
		return nil, err
	}
	xs, err := s.Values(field)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		if i < lag || xs[i-lag] == 0 {
			out[i] = Undefined()
			continue
		}
		base := xs[i-lag]
		out[i] = (x - base) / base
	}
	return out, nil
}

// NewHigh flags rows whose field value is strictly greater than each of the
// previous lookback values. Rows with fewer than lookback predecessors are false.
func NewHigh(s Series, field Field, lookback int) ([]bool, error) {
	if err := requirePositive("lookback", lookback); err != nil {
		return nil, err
	}
	xs, err := s.Values(field)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(xs))
	for i := lookback; i < len(xs); i++ {
		out[i] = exceedsAll(xs[i], xs[i-lookback:i])
	}
	return out, nil
}

// RunningHigh flags rows whose field value is at least the maximum of every
// earlier row. The first row is always a running high.
func RunningHigh(s Series, field Field) ([]bool, error) {
	xs, err := s.Values(field)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(xs))
	best := 0.0
	for i, x := range xs {
		if i == 0 || x >= best {
			best = x
			out[i] = true
		}
	}
	return out, nil
}

func exceedsAll(x float64, window []float64) bool {
	for _, w := range window {
		if !(x > w) {
			return false
		}
	}
	return true
}
