package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"tayframe/market"
)

const (
	DefaultTencentQuoteURL   = "https://qt.gtimg.cn/q="
	DefaultTencentHistoryURL = "https://web.ifzq.gtimg.cn/appstock/app/fqkline/get"

	// 成交量单位为手（100股）
	sharesPerLot = 100
)

// Tencent 腾讯行情数据源（前复权日K）
type Tencent struct {
	QuoteURL   string
	HistoryURL string
	Client     *http.Client
}

func NewTencent() *Tencent {
	return &Tencent{
		QuoteURL:   DefaultTencentQuoteURL,
		HistoryURL: DefaultTencentHistoryURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (tp *Tencent) Name() string {
	return "tencent"
}

func (tp *Tencent) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := tp.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("tencent api returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// FetchTick 获取实时行情，返回格式：
// v_sh600000="1~name~600000~7.08~7.05~7.06~123456~...".
func (tp *Tencent) FetchTick(ctx context.Context, symbol string) (*market.Tick, error) {
	symbol = strings.ToLower(symbol)
	resp, err := tp.get(ctx, tp.QuoteURL+symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch quote %s", symbol)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, err
	}

	dataStr := string(body)
	start := strings.Index(dataStr, "\"") + 1
	end := strings.LastIndex(dataStr, "\"")
	if start <= 0 || end <= start {
		return nil, errors.New("invalid response from tencent api")
	}
	parts := strings.Split(dataStr[start:end], "~")
	if len(parts) < 35 {
		return nil, errors.Errorf("unexpected data format from tencent api: %d fields", len(parts))
	}

	var row market.Row
	for _, p := range []struct {
		index int
		dst   *float64
	}{{3, &row.C}, {5, &row.O}, {6, &row.V}, {33, &row.H}, {34, &row.L}} {
		v, err := strconv.ParseFloat(parts[p.index], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "quote field %d", p.index)
		}
		*p.dst = v
	}
	row.V *= sharesPerLot

	timestamp, err := time.ParseInLocation("20060102150405", parts[30], time.Local)
	if err != nil {
		return nil, errors.Wrap(err, "parse quote time")
	}
	row.T = timestamp.Unix()

	return &market.Tick{Symbol: symbol, Row: row, Timestamp: timestamp}, nil
}

type tencentKLines struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data map[string]struct {
		QfqDay [][]any `json:"qfqday"`
		Day    [][]any `json:"day"`
	} `json:"data"`
}

// FetchHistory 获取前复权日K线，按时间升序
func (tp *Tencent) FetchHistory(ctx context.Context, symbol string, days int) (market.Series, error) {
	symbol = strings.ToLower(symbol)
	url := fmt.Sprintf("%s?param=%s,day,,,%d,qfq", tp.HistoryURL, symbol, days)
	resp, err := tp.get(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch history %s", symbol)
	}
	defer resp.Body.Close()

	var payload tencentKLines
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}
	if payload.Code != 0 {
		return nil, errors.Errorf("tencent api error %d: %s", payload.Code, payload.Msg)
	}

	data, ok := payload.Data[symbol]
	if !ok {
		return nil, errors.Errorf("no history for %s", symbol)
	}
	bars := data.QfqDay
	if len(bars) == 0 {
		bars = data.Day
	}

	series := make(market.Series, 0, len(bars))
	for _, bar := range bars {
		row, err := tencentRow(bar)
		if err != nil {
			return nil, err
		}
		series = append(series, row)
	}
	return series, nil
}

// tencentRow 解析 [日期, 开, 收, 高, 低, 成交量, ...]
func tencentRow(bar []any) (market.Row, error) {
	if len(bar) < 6 {
		return market.Row{}, errors.Errorf("short bar %v", bar)
	}
	cells := make([]string, 6)
	for i := range cells {
		s, ok := bar[i].(string)
		if !ok {
			return market.Row{}, errors.Errorf("bar field %d is %T", i, bar[i])
		}
		cells[i] = s
	}

	date, err := time.ParseInLocation("2006-01-02", cells[0], time.Local)
	if err != nil {
		return market.Row{}, errors.Wrapf(err, "bar %s", cells[0])
	}

	row := market.Row{T: date.Unix()}
	for i, dst := range []*float64{&row.O, &row.C, &row.H, &row.L, &row.V} {
		v, err := strconv.ParseFloat(cells[i+1], 64)
		if err != nil {
			return market.Row{}, errors.Wrapf(err, "bar %s", cells[0])
		}
		*dst = v
	}
	row.V *= sharesPerLot
	return row, nil
}
