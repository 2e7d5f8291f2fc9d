package market

// mapRows projects every row through fn.
func mapRows(s Series, fn func(Row) float64) []float64 {
	out := make([]float64, len(s))
	for i, r := range s {
		out[i] = fn(r)
	}
	return out
}

// pairwise applies fn to each row and its predecessor. Index 0 has no
// predecessor and is left undefined.
func pairwise(s Series, fn func(prev, cur Row) float64) []float64 {
	out := make([]float64, len(s))
	for i := range s {
		if i == 0 {
			out[i] = Undefined()
			continue
		}
		out[i] = fn(s[i-1], s[i])
	}
	return out
}

// rolling reduces each trailing window of n values. Positions before the
// first full window are undefined.
func rolling(xs []float64, n int, reduce func(window []float64) float64) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if i < n-1 {
			out[i] = Undefined()
			continue
		}
		out[i] = reduce(xs[i-n+1 : i+1])
	}
	return out
}

// smooth is the first-order recurrence y[i] = alpha*x[i] + (1-alpha)*y[i-1].
// The first defined input seeds the recurrence; undefined inputs before it
// stay undefined and undefined inputs after it carry the previous output.
func smooth(xs []float64, alpha float64) []float64 {
	out := make([]float64, len(xs))
	prev := Undefined()
	for i, x := range xs {
		switch {
		case IsUndefined(x):
			out[i] = prev
		case IsUndefined(prev):
			out[i] = x
		default:
			out[i] = alpha*x + (1-alpha)*prev
		}
		prev = out[i]
	}
	return out
}

// zipWith combines two aligned sequences element by element.
func zipWith(a, b []float64, fn func(x, y float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = fn(a[i], b[i])
	}
	return out
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func mean(xs []float64) float64 {
	return sum(xs) / float64(len(xs))
}
