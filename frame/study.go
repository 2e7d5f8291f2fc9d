package frame

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"tayframe/market"
)

// ErrUnknownStudy is returned for a study kind this package cannot compute.
var ErrUnknownStudy = errors.New("unknown study")

// Kind selects the indicator a Study computes.
type Kind string

const (
	KindSMA              Kind = "sma"
	KindEMA              Kind = "ema"
	KindStdDev           Kind = "stddev"
	KindBollinger        Kind = "bollinger"
	KindTrueRange        Kind = "tr"
	KindAverageTrueRange Kind = "atr_mean"
	KindATR              Kind = "atr"
	KindNATR             Kind = "natr"
	KindRSI              Kind = "rsi"
	KindMACD             Kind = "macd"
	KindGap              Kind = "gap"
	KindPercentChange    Kind = "pct"
	KindChange           Kind = "change"
	KindNewHigh          Kind = "new_high"
	KindRunningHigh      Kind = "running_high"
)

// Study is a declarative request for one indicator column. Window doubles as
// the EMA span, the ATR/RSI period, the change lag and the new-high lookback.
type Study struct {
	Name   string       `json:"name,omitempty" yaml:"name"`
	Kind   Kind         `json:"kind" yaml:"kind"`
	Field  market.Field `json:"field,omitempty" yaml:"field"`
	Window int          `json:"window,omitempty" yaml:"window"`
	Fast   int          `json:"fast,omitempty" yaml:"fast"`
	Slow   int          `json:"slow,omitempty" yaml:"slow"`
	Signal int          `json:"signal,omitempty" yaml:"signal"`
	K      float64      `json:"k,omitempty" yaml:"k"`
}

func (st Study) field() market.Field {
	if st.Field == "" {
		return market.FieldClose
	}
	return st.Field
}

// ColumnName is the merged column name, derived from the parameters unless
// Name is set.
func (st Study) ColumnName() string {
	if st.Name != "" {
		return st.Name
	}
	switch st.Kind {
	case KindTrueRange, KindGap:
		return string(st.Kind)
	case KindATR, KindNATR, KindRSI, KindAverageTrueRange:
		return fmt.Sprintf("%s_%d", st.Kind, st.Window)
	case KindMACD:
		return fmt.Sprintf("macd_%d_%d_%d", st.Fast, st.Slow, st.Signal)
	case KindBollinger:
		return fmt.Sprintf("boll_%s_%d", st.field(), st.Window)
	case KindPercentChange, KindRunningHigh:
		return fmt.Sprintf("%s_%s", st.Kind, st.field())
	}
	return fmt.Sprintf("%s_%s_%d", st.Kind, st.field(), st.Window)
}

// Columns lists every column the study adds, in merge order.
func (st Study) Columns() []string {
	name := st.ColumnName()
	switch st.Kind {
	case KindMACD:
		return []string{name, name + "_signal", name + "_hist"}
	case KindBollinger:
		return []string{name, name + "_upper", name + "_lower"}
	}
	return []string{name}
}

// Validate checks the study parameters without touching any data.
func (st Study) Validate() error {
	positive := func(name string, n int) error {
		if n <= 0 {
			return errors.Wrapf(market.ErrInvalidParameter, "%s: %s must be positive, got %d", st.ColumnName(), name, n)
		}
		return nil
	}

	switch st.Kind {
	case KindTrueRange, KindGap, KindPercentChange, KindRunningHigh:
		return nil
	case KindSMA, KindEMA, KindStdDev, KindAverageTrueRange, KindATR, KindNATR, KindRSI, KindChange, KindNewHigh:
		return positive("window", st.Window)
	case KindBollinger:
		if st.K < 0 {
			return errors.Wrapf(market.ErrInvalidParameter, "%s: band width must not be negative", st.ColumnName())
		}
		return positive("window", st.Window)
	case KindMACD:
		if err := positive("fast", st.Fast); err != nil {
			return err
		}
		if err := positive("slow", st.Slow); err != nil {
			return err
		}
		return positive("signal", st.Signal)
	}
	return errors.Wrapf(ErrUnknownStudy, "kind %q", st.Kind)
}

// column is one computed output waiting to be merged.
type column struct {
	name   string
	values []float64
	flags  []bool
}

// evaluate runs the indicator over s.
func (st Study) evaluate(s market.Series) ([]column, error) {
	name := st.ColumnName()
	one := func(values []float64, err error) ([]column, error) {
		if err != nil {
			return nil, err
		}
		return []column{{name: name, values: values}}, nil
	}
	flag := func(flags []bool, err error) ([]column, error) {
		if err != nil {
			return nil, err
		}
		return []column{{name: name, flags: flags}}, nil
	}

	switch st.Kind {
	case KindSMA:
		return one(market.SMA(s, st.field(), st.Window))
	case KindEMA:
		return one(market.EMA(s, st.field(), st.Window))
	case KindStdDev:
		return one(market.StdDev(s, st.field(), st.Window))
	case KindTrueRange:
		return one(market.TrueRange(s), nil)
	case KindAverageTrueRange:
		return one(market.AverageTrueRange(s, st.Window))
	case KindATR:
		return one(market.ATR(s, st.Window))
	case KindNATR:
		return one(market.NATR(s, st.Window))
	case KindRSI:
		return one(market.RSI(s, st.Window))
	case KindGap:
		return one(market.Gap(s), nil)
	case KindPercentChange:
		return one(market.PercentChange(s, st.field()))
	case KindChange:
		return one(market.Change(s, st.field(), st.Window))
	case KindNewHigh:
		return flag(market.NewHigh(s, st.field(), st.Window))
	case KindRunningHigh:
		return flag(market.RunningHigh(s, st.field()))
	case KindBollinger:
		bands, err := market.Bollinger(s, st.field(), st.Window, st.K)
		if err != nil {
			return nil, err
		}
		cols := st.Columns()
		return []column{
			{name: cols[0], values: bands.Middle},
			{name: cols[1], values: bands.Upper},
			{name: cols[2], values: bands.Lower},
		}, nil
	case KindMACD:
		res, err := market.MACD(s, st.Fast, st.Slow, st.Signal)
		if err != nil {
			return nil, err
		}
		cols := st.Columns()
		return []column{
			{name: cols[0], values: res.Line},
			{name: cols[1], values: res.Signal},
			{name: cols[2], values: res.Histogram},
		}, nil
	}
	return nil, errors.Wrapf(ErrUnknownStudy, "kind %q", st.Kind)
}

// Compute validates every study, evaluates them concurrently and merges the
// outputs onto a copy of s in declaration order.
func Compute(ctx context.Context, s market.Series, studies []Study) (market.Series, error) {
	seen := make(map[string]bool)
	for _, st := range studies {
		if err := st.Validate(); err != nil {
			return nil, err
		}
		for _, name := range st.Columns() {
			if err := checkName(name); err != nil {
				return nil, err
			}
			if seen[name] {
				return nil, errors.Wrapf(market.ErrInvalidParameter, "duplicate column %q", name)
			}
			seen[name] = true
		}
	}

	results := make([][]column, len(studies))
	g, ctx := errgroup.WithContext(ctx)
	for i, st := range studies {
		i, st := i, st
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cols, err := st.evaluate(s)
			if err != nil {
				return errors.Wrapf(err, "study %s", st.ColumnName())
			}
			results[i] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := append(market.Series(nil), s...)
	for _, cols := range results {
		for _, c := range cols {
			var err error
			if c.flags != nil {
				out, err = MergeFlags(out, c.name, c.flags)
			} else {
				out, err = MergeColumn(out, c.name, c.values)
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// ParseStudy reads the compact colon-separated form used on the command line
// and in query strings:
//
//	sma:c:20  ema:c:12  stddev:c:20  bollinger:c:20:2  change:c:5  new_high:h:20
//	atr:14  natr:14  atr_mean:14  rsi:14  macd:12:26:9
//	pct:c  running_high:c  gap  tr
func ParseStudy(text string) (Study, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	st := Study{Kind: Kind(strings.ToLower(parts[0]))}
	args := parts[1:]

	ints := func(dst ...*int) error {
		if len(args) != len(dst) {
			return errors.Wrapf(market.ErrInvalidParameter, "%q: expected %d numeric arguments", text, len(dst))
		}
		for i, d := range dst {
			n, err := strconv.Atoi(args[i])
			if err != nil {
				return errors.Wrapf(market.ErrInvalidParameter, "%q: %v", text, err)
			}
			*d = n
		}
		return nil
	}
	fieldThen := func(n int) error {
		if len(args) < 1 {
			return errors.Wrapf(market.ErrInvalidParameter, "%q: missing field", text)
		}
		st.Field = market.Field(args[0])
		args = args[1:]
		if n == 0 {
			if len(args) != 0 {
				return errors.Wrapf(market.ErrInvalidParameter, "%q: unexpected arguments", text)
			}
			return nil
		}
		return ints(&st.Window)
	}

	var err error
	switch st.Kind {
	case KindTrueRange, KindGap:
		if len(args) != 0 {
			err = errors.Wrapf(market.ErrInvalidParameter, "%q: unexpected arguments", text)
		}
	case KindATR, KindNATR, KindAverageTrueRange, KindRSI:
		err = ints(&st.Window)
	case KindMACD:
		err = ints(&st.Fast, &st.Slow, &st.Signal)
	case KindPercentChange, KindRunningHigh:
		err = fieldThen(0)
	case KindSMA, KindEMA, KindStdDev, KindChange, KindNewHigh:
		err = fieldThen(1)
	case KindBollinger:
		if len(args) != 3 {
			return Study{}, errors.Wrapf(market.ErrInvalidParameter, "%q: expected field, window and width", text)
		}
		st.Field = market.Field(args[0])
		if st.Window, err = strconv.Atoi(args[1]); err != nil {
			return Study{}, errors.Wrapf(market.ErrInvalidParameter, "%q: %v", text, err)
		}
		if st.K, err = strconv.ParseFloat(args[2], 64); err != nil {
			return Study{}, errors.Wrapf(market.ErrInvalidParameter, "%q: %v", text, err)
		}
	default:
		return Study{}, errors.Wrapf(ErrUnknownStudy, "%q", text)
	}
	if err != nil {
		return Study{}, err
	}
	return st, st.Validate()
}
