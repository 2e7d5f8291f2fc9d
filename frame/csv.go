package frame

import (
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"tayframe/market"
)

// ErrMissingColumn is returned when a CSV header lacks a core field.
var ErrMissingColumn = errors.New("missing required column")

// ExtraColumns returns the union of merged column names across s, sorted.
func ExtraColumns(s market.Series) []string {
	seen := make(map[string]struct{})
	for _, r := range s {
		for k := range r.Extra {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FormatValue renders v for output. Undefined renders as an empty cell,
// infinities as +Inf/-Inf, and places > 0 rounds to that many decimals.
func FormatValue(v float64, places int) string {
	if market.IsUndefined(v) {
		return ""
	}
	if math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if places > 0 {
		return decimal.NewFromFloat(v).StringFixed(int32(places))
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes s with a header of the core fields followed by every
// merged column.
func WriteCSV(w io.Writer, s market.Series, places int) error {
	extras := ExtraColumns(s)
	header := make([]string, 0, len(market.CoreFields)+len(extras))
	for _, f := range market.CoreFields {
		header = append(header, string(f))
	}
	header = append(header, extras...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range s {
		record := []string{
			strconv.FormatInt(r.T, 10),
			FormatValue(r.O, places),
			FormatValue(r.H, places),
			FormatValue(r.L, places),
			FormatValue(r.C, places),
			FormatValue(r.V, places),
		}
		for _, name := range extras {
			v, ok := r.Extra[name]
			if !ok {
				v = market.Undefined()
			}
			record = append(record, FormatValue(v, places))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a series written by WriteCSV or any CSV carrying the
// t,o,h,l,c,v columns in some order. Extra columns land in Row.Extra and
// empty cells become undefined.
func ReadCSV(r io.Reader) (market.Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.Wrap(ErrMissingColumn, "empty input")
	}
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, f := range market.CoreFields {
		if _, ok := index[string(f)]; !ok {
			return nil, errors.Wrapf(ErrMissingColumn, "%q", f)
		}
	}

	var series market.Series
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := parseRecord(header, index, record)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		series = append(series, row)
	}
	return series, nil
}

func parseRecord(header []string, index map[string]int, record []string) (market.Row, error) {
	var row market.Row
	t, err := strconv.ParseInt(strings.TrimSpace(record[index[string(market.FieldTime)]]), 10, 64)
	if err != nil {
		return row, errors.Wrap(err, "column t")
	}
	row.T = t

	for _, p := range []struct {
		field market.Field
		dst   *float64
	}{
		{market.FieldOpen, &row.O},
		{market.FieldHigh, &row.H},
		{market.FieldLow, &row.L},
		{market.FieldClose, &row.C},
		{market.FieldVolume, &row.V},
	} {
		v, err := parseCell(record[index[string(p.field)]])
		if err != nil {
			return row, errors.Wrapf(err, "column %s", p.field)
		}
		*p.dst = v
	}

	for i, h := range header {
		name := strings.TrimSpace(h)
		if market.Field(strings.ToLower(name)).IsCore() {
			continue
		}
		v, err := parseCell(record[i])
		if err != nil {
			return row, errors.Wrapf(err, "column %s", name)
		}
		if row.Extra == nil {
			row.Extra = make(map[string]float64)
		}
		row.Extra[name] = v
	}
	return row, nil
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return market.Undefined(), nil
	}
	return strconv.ParseFloat(cell, 64)
}
