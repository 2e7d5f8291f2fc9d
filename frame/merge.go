// Package frame splices indicator outputs back onto a series as named
// columns and moves series in and out of CSV.
package frame

import (
	"math"

	"github.com/pkg/errors"

	"tayframe/market"
)

var (
	// ErrColumnLength is returned when a column is longer than the series.
	ErrColumnLength = errors.New("column longer than series")
	// ErrReservedName is returned when a column would shadow a core field.
	ErrReservedName = errors.New("reserved column name")
)

func checkName(name string) error {
	if name == "" {
		return errors.Wrap(ErrReservedName, "empty column name")
	}
	if market.Field(name).IsCore() {
		return errors.Wrapf(ErrReservedName, "column %q", name)
	}
	return nil
}

// MergeColumn returns a copy of s with col stored under name on every row.
// A shorter column is right-aligned and padded at the front with the
// undefined sentinel. s itself is left untouched.
func MergeColumn(s market.Series, name string, col []float64) (market.Series, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if len(col) > len(s) {
		return nil, errors.Wrapf(ErrColumnLength, "column %q has %d values for %d rows", name, len(col), len(s))
	}

	pad := len(s) - len(col)
	out := make(market.Series, len(s))
	for i, r := range s {
		v := market.Undefined()
		if i >= pad {
			v = col[i-pad]
		}
		out[i] = withExtra(r, name, v)
	}
	return out, nil
}

// MergeFlags stores a boolean column as 1 and 0.
func MergeFlags(s market.Series, name string, flags []bool) (market.Series, error) {
	col := make([]float64, len(flags))
	for i, f := range flags {
		if f {
			col[i] = 1
		}
	}
	return MergeColumn(s, name, col)
}

// Column reads a merged column back off the series.
func Column(s market.Series, name string) ([]float64, error) {
	return s.Values(market.Field(name))
}

func withExtra(r market.Row, name string, v float64) market.Row {
	extra := make(map[string]float64, len(r.Extra)+1)
	for k, x := range r.Extra {
		extra[k] = x
	}
	extra[name] = v
	r.Extra = extra
	return r
}

// Clean drops every row holding an undefined value in any merged column.
func Clean(s market.Series) market.Series {
	out := make(market.Series, 0, len(s))
	for _, r := range s {
		if complete(r) {
			out = append(out, r)
		}
	}
	return out
}

func complete(r market.Row) bool {
	for _, v := range r.Extra {
		if market.IsUndefined(v) {
			return false
		}
	}
	return true
}

// Check returns the indices of rows whose core fields are not finite numbers.
func Check(s market.Series) []int {
	var bad []int
	for i, r := range s {
		for _, v := range []float64{r.O, r.H, r.L, r.C, r.V} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad = append(bad, i)
				break
			}
		}
	}
	return bad
}

// Frequency counts, for each row, how many of the named flag columns were
// set over the trailing window of rows. Rows before the first full window are
// undefined.
func Frequency(s market.Series, names []string, window int) ([]float64, error) {
	if window <= 0 {
		return nil, errors.Wrapf(market.ErrInvalidParameter, "window must be positive, got %d", window)
	}

	hits := make([]float64, len(s))
	for _, name := range names {
		col, err := Column(s, name)
		if err != nil {
			return nil, err
		}
		for i, v := range col {
			if !market.IsUndefined(v) && v != 0 {
				hits[i]++
			}
		}
	}

	out := make([]float64, len(s))
	for i := range out {
		if i < window-1 {
			out[i] = market.Undefined()
			continue
		}
		total := 0.0
		for _, h := range hits[i-window+1 : i+1] {
			total += h
		}
		out[i] = total
	}
	return out, nil
}
