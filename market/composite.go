package market

// MACDResult holds the three aligned MACD lines.
type MACDResult struct {
	Line      []float64 `json:"line"`
	Signal    []float64 `json:"signal"`
	Histogram []float64 `json:"histogram"`
}

// MACD calculates the MACD line (fast EMA minus slow EMA of the close), its
// signal line (EMA of the MACD line) and the histogram (line minus signal).
// fast and slow are not required to be ordered.
func MACD(s Series, fast, slow, signal int) (MACDResult, error) {
	for _, p := range []struct {
		name string
		n    int
	}{{"fast span", fast}, {"slow span", slow}, {"signal span", signal}} {
		if err := requirePositive(p.name, p.n); err != nil {
			return MACDResult{}, err
		}
	}

	fastEMA, err := EMA(s, FieldClose, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowEMA, err := EMA(s, FieldClose, slow)
	if err != nil {
		return MACDResult{}, err
	}

	line := zipWith(fastEMA, slowEMA, subtract)
	signalLine, err := EMAValues(line, signal)
	if err != nil {
		return MACDResult{}, err
	}

	return MACDResult{
		Line:      line,
		Signal:    signalLine,
		Histogram: zipWith(line, signalLine, subtract),
	}, nil
}

func subtract(a, b float64) float64 {
	return a - b
}
