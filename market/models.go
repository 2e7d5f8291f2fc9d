package market

import (
	"math"

	"github.com/pkg/errors"
)

// Field names a numeric column of a Row.
type Field string

const (
	FieldTime   Field = "t"
	FieldOpen   Field = "o"
	FieldHigh   Field = "h"
	FieldLow    Field = "l"
	FieldClose  Field = "c"
	FieldVolume Field = "v"
)

// CoreFields lists the fixed OHLCV schema in column order.
var CoreFields = []Field{FieldTime, FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

// IsCore reports whether f is part of the fixed row schema.
func (f Field) IsCore() bool {
	switch f {
	case FieldTime, FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
		return true
	}
	return false
}

// Row is one OHLCV observation. Extra holds columns merged in after the fact;
// indicators only read it when asked for a field outside the core schema.
type Row struct {
	T     int64              `json:"t"`
	O     float64            `json:"o"`
	H     float64            `json:"h"`
	L     float64            `json:"l"`
	C     float64            `json:"c"`
	V     float64            `json:"v"`
	Extra map[string]float64 `json:"extra,omitempty"`
}

// Value returns the named column of the row.
func (r Row) Value(f Field) (float64, error) {
	switch f {
	case FieldTime:
		return float64(r.T), nil
	case FieldOpen:
		return r.O, nil
	case FieldHigh:
		return r.H, nil
	case FieldLow:
		return r.L, nil
	case FieldClose:
		return r.C, nil
	case FieldVolume:
		return r.V, nil
	}
	if v, ok := r.Extra[string(f)]; ok {
		return v, nil
	}
	return 0, errors.Wrapf(ErrUnknownField, "field %q", f)
}

// Series is a chronologically ordered sequence of rows, index 0 earliest.
// Ordering is the caller's responsibility; nothing in this package checks it.
type Series []Row

// Values extracts one column from every row.
func (s Series) Values(f Field) ([]float64, error) {
	out := make([]float64, len(s))
	for i, r := range s {
		v, err := r.Value(f)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// Closes is shorthand for the close column, which cannot fail.
func (s Series) Closes() []float64 {
	return mapRows(s, func(r Row) float64 { return r.C })
}

// Undefined is the sentinel stored where an indicator has too little history.
func Undefined() float64 {
	return math.NaN()
}

// IsUndefined reports whether v is the undefined sentinel.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}
