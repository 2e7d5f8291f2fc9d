package market

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

const tolerance = 1e-9

func scenario() Series {
	return Series{
		{T: 1, O: 1, H: 2, L: 0.8, C: 1.5, V: 100},
		{T: 2, O: 1.5, H: 2.5, L: 1.2, C: 2.3, V: 200},
		{T: 3, O: 2.3, H: 2.6, L: 2.0, C: 2.1, V: 150},
	}
}

// randomWalk builds a deterministic OHLCV series with positive prices.
func randomWalk(n int, seed int64) Series {
	rng := rand.New(rand.NewSource(seed))
	s := make(Series, n)
	price := 100.0
	for i := range s {
		open := price
		price = math.Max(1, price+rng.NormFloat64()*2)
		high := math.Max(open, price) + rng.Float64()
		low := math.Min(open, price) - rng.Float64()
		s[i] = Row{T: int64(i + 1), O: open, H: high, L: low, C: price, V: float64(1000 + rng.Intn(500))}
	}
	return s
}

func closesSeries(closes ...float64) Series {
	s := make(Series, len(closes))
	for i, c := range closes {
		s[i] = Row{T: int64(i + 1), O: c, H: c, L: c, C: c, V: 1}
	}
	return s
}

func assertSeries(t *testing.T, name string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		switch {
		case IsUndefined(want[i]):
			if !IsUndefined(got[i]) {
				t.Errorf("%s[%d] = %v, want undefined", name, i, got[i])
			}
		case math.Abs(got[i]-want[i]) > tolerance:
			t.Errorf("%s[%d] = %v, want %v", name, i, got[i], want[i])
		}
	}
}

func TestScenario(t *testing.T) {
	nan := Undefined()

	sma, err := SMA(scenario(), FieldClose, 2)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "SMA", sma, []float64{nan, 1.9, 2.2})
	assertSeries(t, "Gap", Gap(scenario()), []float64{nan, 0, 0})
}

func TestSMA(t *testing.T) {
	t.Run("constant series", func(t *testing.T) {
		s := closesSeries(7, 7, 7, 7, 7, 7)
		out, err := SMA(s, FieldClose, 3)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range out {
			if i < 2 {
				if !IsUndefined(v) {
					t.Errorf("SMA[%d] = %v, want undefined", i, v)
				}
				continue
			}
			if v != 7 {
				t.Errorf("SMA[%d] = %v, want 7", i, v)
			}
		}
	})

	t.Run("window longer than series", func(t *testing.T) {
		out, err := SMA(scenario(), FieldClose, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 3 {
			t.Fatalf("length %d, want 3", len(out))
		}
		for i, v := range out {
			if !IsUndefined(v) {
				t.Errorf("SMA[%d] = %v, want undefined", i, v)
			}
		}
	})

	t.Run("volume field", func(t *testing.T) {
		out, err := SMA(scenario(), FieldVolume, 3)
		if err != nil {
			t.Fatal(err)
		}
		assertSeries(t, "SMA(v)", out, []float64{Undefined(), Undefined(), 150})
	})
}

func TestInvalidParameters(t *testing.T) {
	s := scenario()
	tests := []struct {
		name string
		call func() error
	}{
		{"SMA zero window", func() error { _, err := SMA(s, FieldClose, 0); return err }},
		{"SMA negative window", func() error { _, err := SMA(s, FieldClose, -3); return err }},
		{"StdDev zero window", func() error { _, err := StdDev(s, FieldClose, 0); return err }},
		{"Bollinger negative width", func() error { _, err := Bollinger(s, FieldClose, 2, -1); return err }},
		{"Bollinger NaN width", func() error { _, err := Bollinger(s, FieldClose, 2, math.NaN()); return err }},
		{"AverageTrueRange zero window", func() error { _, err := AverageTrueRange(s, 0); return err }},
		{"EMA zero span", func() error { _, err := EMA(s, FieldClose, 0); return err }},
		{"EMAValues negative span", func() error { _, err := EMAValues([]float64{1}, -1); return err }},
		{"ATR zero period", func() error { _, err := ATR(s, 0); return err }},
		{"NATR zero period", func() error { _, err := NATR(s, 0); return err }},
		{"RSI zero period", func() error { _, err := RSI(s, 0); return err }},
		{"MACD zero fast", func() error { _, err := MACD(s, 0, 26, 9); return err }},
		{"MACD zero slow", func() error { _, err := MACD(s, 12, 0, 9); return err }},
		{"MACD zero signal", func() error { _, err := MACD(s, 12, 26, 0); return err }},
		{"Change zero lag", func() error { _, err := Change(s, FieldClose, 0); return err }},
		{"NewHigh zero lookback", func() error { _, err := NewHigh(s, FieldClose, 0); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestUnknownField(t *testing.T) {
	_, err := SMA(scenario(), Field("rsi14"), 2)
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("error = %v, want ErrUnknownField", err)
	}
}

func TestExtraField(t *testing.T) {
	s := scenario()
	for i := range s {
		s[i].Extra = map[string]float64{"score": float64(i * 2)}
	}
	out, err := SMA(s, Field("score"), 2)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "SMA(score)", out, []float64{Undefined(), 1, 3})
}

func TestEMA(t *testing.T) {
	s := closesSeries(1, 2, 3)
	out, err := EMA(s, FieldClose, 3)
	if err != nil {
		t.Fatal(err)
	}
	// alpha = 0.5
	assertSeries(t, "EMA", out, []float64{1, 1.5, 2.25})

	walk := randomWalk(200, 1)
	for _, span := range []int{1, 5, 20, 100} {
		out, err := EMA(walk, FieldClose, span)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != len(walk) {
			t.Fatalf("span %d: length %d, want %d", span, len(out), len(walk))
		}
		if out[0] != walk[0].C {
			t.Errorf("span %d: EMA[0] = %v, want %v", span, out[0], walk[0].C)
		}
	}

	// span 1 means alpha 1, so the EMA tracks the input exactly.
	out, err = EMA(walk, FieldClose, 1)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "EMA(1)", out, walk.Closes())
}

func TestEMALongSpanIsFlat(t *testing.T) {
	walk := randomWalk(100, 2)
	out, err := EMA(walk, FieldClose, 1_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(out); i++ {
		if math.Abs(out[i]-out[i-1]) > 1e-6 {
			t.Fatalf("EMA moved %v at %d with a huge span", out[i]-out[i-1], i)
		}
	}
}

func TestTrueRangeAndATR(t *testing.T) {
	tr := TrueRange(scenario())
	assertSeries(t, "TrueRange", tr, []float64{1.2, 1.3, 0.6})

	atr, err := ATR(scenario(), 2)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "ATR", atr, []float64{1.2, 1.25, 0.925})

	mean, err := AverageTrueRange(scenario(), 2)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "AverageTrueRange", mean, []float64{Undefined(), 1.25, 0.95})

	walk := randomWalk(300, 3)
	atr, err = ATR(walk, 14)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range TrueRange(walk) {
		if v < 0 {
			t.Errorf("TrueRange[%d] = %v, want >= 0", i, v)
		}
		if atr[i] < 0 {
			t.Errorf("ATR[%d] = %v, want >= 0", i, atr[i])
		}
	}
}

func TestNATR(t *testing.T) {
	out, err := NATR(scenario(), 1)
	if err != nil {
		t.Fatal(err)
	}
	// alpha 1 leaves each normalized true range untouched.
	assertSeries(t, "NATR", out, []float64{1.2 / 1.5, 1.3 / 2.3, 0.6 / 2.1})

	s := scenario()
	s[1].C = 0
	out, err = NATR(s, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out[1] != out[0] {
		t.Errorf("zero close should carry the previous value: got %v, want %v", out[1], out[0])
	}
}

func TestRSI(t *testing.T) {
	t.Run("bounds", func(t *testing.T) {
		walk := randomWalk(500, 4)
		out, err := RSI(walk, 14)
		if err != nil {
			t.Fatal(err)
		}
		if !IsUndefined(out[0]) {
			t.Errorf("RSI[0] = %v, want undefined", out[0])
		}
		for i, v := range out[1:] {
			if v < 0 || v > 100 {
				t.Errorf("RSI[%d] = %v, out of [0, 100]", i+1, v)
			}
		}
	})

	t.Run("all gains", func(t *testing.T) {
		out, err := RSI(closesSeries(1, 2, 3, 4, 5, 6, 7, 8), 3)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(out); i++ {
			if out[i] != 100 {
				t.Errorf("RSI[%d] = %v, want 100", i, out[i])
			}
		}
	})

	t.Run("all losses", func(t *testing.T) {
		out, err := RSI(closesSeries(8, 7, 6, 5, 4, 3, 2, 1), 3)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(out); i++ {
			if out[i] != 0 {
				t.Errorf("RSI[%d] = %v, want 0", i, out[i])
			}
		}
	})

	t.Run("known values", func(t *testing.T) {
		// deltas +2, -1, +1 with alpha 0.5:
		// average gain 2, 1, 1 and average loss 0, 0.5, 0.25
		out, err := RSI(closesSeries(10, 12, 11, 12), 2)
		if err != nil {
			t.Fatal(err)
		}
		assertSeries(t, "RSI", out, []float64{Undefined(), 100, 100 - 100/(1+1/0.5), 100 - 100/(1+1/0.25)})
	})

	t.Run("single row", func(t *testing.T) {
		out, err := RSI(closesSeries(10), 14)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 1 || !IsUndefined(out[0]) {
			t.Errorf("RSI = %v, want [undefined]", out)
		}
	})
}

func TestMACD(t *testing.T) {
	walk := randomWalk(120, 5)
	for _, p := range [][3]int{{12, 26, 9}, {26, 12, 9}, {5, 5, 1}} {
		res, err := MACD(walk, p[0], p[1], p[2])
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Line) != len(walk) || len(res.Signal) != len(walk) || len(res.Histogram) != len(walk) {
			t.Fatalf("%v: misaligned output", p)
		}
		for i := range res.Line {
			if res.Histogram[i] != res.Line[i]-res.Signal[i] {
				t.Errorf("%v: histogram[%d] = %v, want %v", p, i, res.Histogram[i], res.Line[i]-res.Signal[i])
			}
		}
	}

	res, err := MACD(walk, 5, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range res.Line {
		if v != 0 {
			t.Errorf("equal spans: line[%d] = %v, want 0", i, v)
		}
	}

	fast, _ := EMA(walk, FieldClose, 12)
	slow, _ := EMA(walk, FieldClose, 26)
	res, _ = MACD(walk, 12, 26, 9)
	if res.Line[50] != fast[50]-slow[50] {
		t.Errorf("line[50] = %v, want %v", res.Line[50], fast[50]-slow[50])
	}
}

func TestBollinger(t *testing.T) {
	bands, err := Bollinger(closesSeries(5, 5, 5, 5), FieldClose, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 4; i++ {
		if bands.Upper[i] != 5 || bands.Middle[i] != 5 || bands.Lower[i] != 5 {
			t.Errorf("bands[%d] = %v/%v/%v, want 5/5/5", i, bands.Upper[i], bands.Middle[i], bands.Lower[i])
		}
	}

	bands, err = Bollinger(closesSeries(1, 3), FieldClose, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "Upper", bands.Upper, []float64{Undefined(), 3})
	assertSeries(t, "Lower", bands.Lower, []float64{Undefined(), 1})
}

func TestPercentChange(t *testing.T) {
	walk := randomWalk(100, 6)
	pct, err := PercentChange(walk, FieldClose)
	if err != nil {
		t.Fatal(err)
	}
	if !IsUndefined(pct[0]) {
		t.Errorf("pct[0] = %v, want undefined", pct[0])
	}
	for i := 1; i < len(walk); i++ {
		got := walk[i-1].C * (1 + pct[i])
		if math.Abs(got-walk[i].C) > 1e-9*walk[i].C {
			t.Errorf("round trip at %d: %v, want %v", i, got, walk[i].C)
		}
	}

	pct, err = PercentChange(closesSeries(0, 5, 10), FieldClose)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "pct", pct, []float64{Undefined(), Undefined(), 1})

	change, err := Change(closesSeries(10, 11, 12, 15), FieldClose, 2)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "change", change, []float64{Undefined(), Undefined(), 0.2, 15.0/11 - 1})
}

func TestNewHigh(t *testing.T) {
	out, err := NewHigh(closesSeries(1, 2, 3, 4, 5, 6), FieldClose, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{false, false, false, true, true, true}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("NewHigh = %v, want %v", out, want)
	}

	out, err = NewHigh(closesSeries(5, 3, 5, 6, 6), FieldClose, 2)
	if err != nil {
		t.Fatal(err)
	}
	want = []bool{false, false, false, true, false}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("NewHigh = %v, want %v", out, want)
	}

	out, err = NewHigh(closesSeries(1, 2), FieldClose, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []bool{false, false}) {
		t.Errorf("short series NewHigh = %v, want all false", out)
	}
}

func TestRunningHigh(t *testing.T) {
	out, err := RunningHigh(closesSeries(3, 2, 3, 4, 1, 4), FieldClose)
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, true, true, false, true}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("RunningHigh = %v, want %v", out, want)
	}
}

func TestPurity(t *testing.T) {
	walk := randomWalk(80, 7)
	walk[10].Extra = map[string]float64{"x": 1}
	before := make(Series, len(walk))
	copy(before, walk)

	first, err := RSI(walk, 14)
	if err != nil {
		t.Fatal(err)
	}
	second, err := RSI(walk, 14)
	if err != nil {
		t.Fatal(err)
	}
	assertSeries(t, "RSI determinism", second, first)

	if _, err := MACD(walk, 12, 26, 9); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(walk, before) {
		t.Error("indicators mutated the input series")
	}
}

func TestEmptySeries(t *testing.T) {
	var s Series
	sma, err := SMA(s, FieldClose, 3)
	if err != nil || len(sma) != 0 {
		t.Errorf("SMA(empty) = %v, %v", sma, err)
	}
	ema, err := EMA(s, FieldClose, 3)
	if err != nil || len(ema) != 0 {
		t.Errorf("EMA(empty) = %v, %v", ema, err)
	}
	if g := Gap(s); len(g) != 0 {
		t.Errorf("Gap(empty) = %v", g)
	}
	macd, err := MACD(s, 12, 26, 9)
	if err != nil || len(macd.Histogram) != 0 {
		t.Errorf("MACD(empty) = %v, %v", macd, err)
	}
}
