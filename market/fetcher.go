package market

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
)

const (
	DefaultHistoryURL = "http://money.finance.sina.com.cn/quotes_service/api/json_v2.php/CN_MarketData.getKLineData"
	DefaultQuoteURL   = "http://hq.sinajs.cn/list="
)

// Tick is the latest quote of a symbol.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Row       Row       `json:"row"`
	Timestamp time.Time `json:"timestamp"`
}

// Fetcher downloads quotes and daily history from the Sina market data API.
type Fetcher struct {
	HistoryURL string
	QuoteURL   string
	Client     *http.Client
}

// NewFetcher creates a Fetcher against the public endpoints.
func NewFetcher() *Fetcher {
	return &Fetcher{
		HistoryURL: DefaultHistoryURL,
		QuoteURL:   DefaultQuoteURL,
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Name identifies the upstream in logs and provider status.
func (f *Fetcher) Name() string {
	return "sina"
}

// FetchTick fetches the latest price for a single stock symbol.
func (f *Fetcher) FetchTick(ctx context.Context, symbol string) (*Tick, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.QuoteURL+symbol, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Referer", "http://finance.sina.com.cn")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch quote %s", symbol)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("sina api returned status %d", resp.StatusCode)
	}

	utf8Reader := transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder())
	body, err := io.ReadAll(utf8Reader)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(body), "\"")
	if len(parts) < 2 {
		return nil, errors.New("invalid response from sina api")
	}

	data := strings.Split(parts[1], ",")
	if len(data) < 32 {
		return nil, errors.New("unexpected data format from sina api")
	}

	var row Row
	for _, p := range []struct {
		index int
		dst   *float64
	}{{1, &row.O}, {3, &row.C}, {4, &row.H}, {5, &row.L}, {8, &row.V}} {
		v, err := strconv.ParseFloat(data[p.index], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "quote field %d", p.index)
		}
		*p.dst = v
	}

	timestamp, err := time.ParseInLocation("2006-01-02 15:04:05", data[30]+" "+data[31], time.Local)
	if err != nil {
		return nil, errors.Wrap(err, "parse quote time")
	}
	row.T = timestamp.Unix()

	return &Tick{
		Symbol:    symbol,
		Row:       row,
		Timestamp: timestamp,
	}, nil
}

type sinaKLine struct {
	Day    string `json:"day"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// FetchHistory fetches up to days daily bars for a symbol, oldest first.
func (f *Fetcher) FetchHistory(ctx context.Context, symbol string, days int) (Series, error) {
	// scale=240 is daily
	url := fmt.Sprintf("%s?symbol=%s&scale=240&ma=no&datalen=%d", f.HistoryURL, symbol, days)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch history %s", symbol)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("sina api returned status %d", resp.StatusCode)
	}

	var sinaData []sinaKLine
	if err := json.NewDecoder(resp.Body).Decode(&sinaData); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}

	series := make(Series, 0, len(sinaData))
	for _, d := range sinaData {
		row, err := d.row()
		if err != nil {
			return nil, errors.Wrapf(err, "bar %s", d.Day)
		}
		series = append(series, row)
	}
	return series, nil
}

func (d sinaKLine) row() (Row, error) {
	layout := "2006-01-02"
	if len(d.Day) > 10 {
		layout = "2006-01-02 15:04:05"
	}
	timestamp, err := time.ParseInLocation(layout, d.Day, time.Local)
	if err != nil {
		return Row{}, err
	}

	var row Row
	row.T = timestamp.Unix()
	for _, p := range []struct {
		raw string
		dst *float64
	}{{d.Open, &row.O}, {d.High, &row.H}, {d.Low, &row.L}, {d.Close, &row.C}, {d.Volume, &row.V}} {
		v, err := strconv.ParseFloat(p.raw, 64)
		if err != nil {
			return Row{}, err
		}
		*p.dst = v
	}
	return row, nil
}
