package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"tayframe/logger"
	"tayframe/market"
)

func newTestTencent(srv *httptest.Server) *Tencent {
	tp := NewTencent()
	tp.QuoteURL = srv.URL + "/q="
	tp.HistoryURL = srv.URL + "/kline"
	tp.Client = srv.Client()
	return tp
}

func TestTencentFetchHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/kline", r.URL.Path)
		assert.Equal(t, "sh600000,day,,,2,qfq", r.URL.Query().Get("param"))
		fmt.Fprint(w, `{"code":0,"msg":"","data":{"sh600000":{"qfqday":[
			["2024-01-02","10.0","10.2","10.5","9.8","12.000"],
			["2024-01-03","10.2","10.8","10.9","10.1","15.000",{"nd":"2023"}]
		]}}}`)
	}))
	defer srv.Close()

	series, err := newTestTencent(srv).FetchHistory(context.Background(), "SH600000", 2)
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, 10.0, series[0].O)
	assert.Equal(t, 10.2, series[0].C)
	assert.Equal(t, 10.5, series[0].H)
	assert.Equal(t, 9.8, series[0].L)
	assert.Equal(t, 1500.0, series[1].V)
	assert.Less(t, series[0].T, series[1].T)
}

func TestTencentFetchHistoryErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"api error", `{"code":-1,"msg":"bad param","data":{}}`},
		{"missing symbol", `{"code":0,"msg":"","data":{}}`},
		{"short bar", `{"code":0,"data":{"sh600000":{"qfqday":[["2024-01-02","10.0"]]}}}`},
		{"bad number", `{"code":0,"data":{"sh600000":{"day":[["2024-01-02","x","1","1","1","1"]]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestTencent(srv).FetchHistory(context.Background(), "sh600000", 5)
			assert.Error(t, err)
		})
	}
}

func TestTencentFetchTick(t *testing.T) {
	fields := make([]string, 40)
	for i := range fields {
		fields[i] = "0"
	}
	fields[1] = "浦发银行"
	fields[3] = "10.50"
	fields[5] = "10.45"
	fields[6] = "1234"
	fields[30] = "20240103150003"
	fields[33] = "10.55"
	fields[34] = "10.40"
	line := `v_sh600000="` + strings.Join(fields, "~") + `";`

	encoded, err := simplifiedchinese.GBK.NewEncoder().String(line)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/q=sh600000", r.URL.Path)
		fmt.Fprint(w, encoded)
	}))
	defer srv.Close()

	tick, err := newTestTencent(srv).FetchTick(context.Background(), "sh600000")
	require.NoError(t, err)
	assert.Equal(t, 10.45, tick.Row.O)
	assert.Equal(t, 10.50, tick.Row.C)
	assert.Equal(t, 10.55, tick.Row.H)
	assert.Equal(t, 10.40, tick.Row.L)
	assert.Equal(t, 123400.0, tick.Row.V)
	assert.Equal(t, tick.Timestamp.Unix(), tick.Row.T)
}

type stubProvider struct {
	name   string
	series market.Series
	err    error
	calls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) FetchTick(_ context.Context, symbol string) (*market.Tick, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &market.Tick{Symbol: symbol, Row: s.series[len(s.series)-1]}, nil
}

func (s *stubProvider) FetchHistory(_ context.Context, _ string, _ int) (market.Series, error) {
	s.calls++
	return s.series, s.err
}

func TestManagerFailover(t *testing.T) {
	down := &stubProvider{name: "sina", err: errors.New("connection refused")}
	up := &stubProvider{name: "tencent", series: market.Series{{T: 1, C: 10}}}
	m := NewManager(logger.Nop(), down, up)

	assert.Equal(t, "sina", m.Primary())

	series, err := m.FetchHistory(context.Background(), "sh600000", 10)
	require.NoError(t, err)
	assert.Len(t, series, 1)
	assert.Equal(t, map[string]bool{"sina": false, "tencent": true}, m.Status())

	tick, err := m.FetchTick(context.Background(), "sh600000")
	require.NoError(t, err)
	assert.Equal(t, 10.0, tick.Row.C)
	assert.Equal(t, 2, down.calls, "primary is always tried first")

	require.NoError(t, m.SetPrimary("tencent"))
	_, err = m.FetchHistory(context.Background(), "sh600000", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, down.calls)

	assert.ErrorIs(t, m.SetPrimary("eastmoney"), ErrProviderNotFound)
}

func TestManagerEmptyHistoryFailsOver(t *testing.T) {
	empty := &stubProvider{name: "sina"}
	full := &stubProvider{name: "tencent", series: market.Series{{T: 1}, {T: 2}}}
	m := NewManager(logger.Nop(), empty, full)

	series, err := m.FetchHistory(context.Background(), "sh600000", 2)
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestManagerAllFail(t *testing.T) {
	m := NewManager(logger.Nop(),
		&stubProvider{name: "a", err: errors.New("down")},
		&stubProvider{name: "b", err: errors.New("down")})

	_, err := m.FetchHistory(context.Background(), "sh600000", 2)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)

	_, err = NewManager(logger.Nop()).FetchTick(context.Background(), "sh600000")
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestUpstreamsImplementProvider(t *testing.T) {
	var _ Provider = market.NewFetcher()
	var _ Provider = NewTencent()
}
