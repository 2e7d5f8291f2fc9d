package http

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"tayframe/frame"
	"tayframe/logger"
	"tayframe/market"
	"tayframe/pipeline"
)

// SeriesStore is the persistence the handlers read from and backfill into.
type SeriesStore interface {
	LoadSeries(ctx context.Context, symbol string, limit int) (market.Series, error)
	SaveSeries(ctx context.Context, symbol string, s market.Series) error
}

// Source fetches market data from upstream.
type Source interface {
	FetchHistory(ctx context.Context, symbol string, days int) (market.Series, error)
	FetchTick(ctx context.Context, symbol string) (*market.Tick, error)
}

// Handler serves the indicator API.
type Handler struct {
	store   SeriesStore
	source  Source
	log     logger.Interface
	cache   *lru.Cache[string, *FrameResponse]
	metrics *Metrics
	days    int

	mu      sync.RWMutex
	studies []frame.Study
}

// HandlerConfig holds the request defaults.
type HandlerConfig struct {
	Days      int
	CacheSize int
	Studies   []frame.Study
}

// NewHandler validates the default studies and allocates the response cache.
func NewHandler(cfg HandlerConfig, store SeriesStore, source Source, log logger.Interface) (*Handler, error) {
	for _, st := range cfg.Studies {
		if err := st.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.Days <= 0 {
		cfg.Days = 120
	}
	cache, err := lru.New[string, *FrameResponse](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create cache")
	}
	return &Handler{
		store:   store,
		source:  source,
		log:     log,
		cache:   cache,
		days:    cfg.Days,
		studies: append([]frame.Study(nil), cfg.Studies...),
	}, nil
}

// SetStudies replaces the default studies and drops every cached response.
func (h *Handler) SetStudies(studies []frame.Study) {
	h.mu.Lock()
	h.studies = append([]frame.Study(nil), studies...)
	h.mu.Unlock()
	h.cache.Purge()
}

func (h *Handler) defaultStudies() []frame.Study {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]frame.Study(nil), h.studies...)
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/tick/{symbol}", h.handleTick)
	mux.HandleFunc("GET /api/indicators/{symbol}", h.handleIndicators)
	mux.HandleFunc("POST /api/compute", h.handleCompute)
}

// FrameResponse is a computed frame rendered for JSON. Undefined values are
// null since JSON has no NaN.
type FrameResponse struct {
	Symbol    string             `json:"symbol,omitempty"`
	Columns   []string           `json:"columns"`
	Rows      []map[string]any   `json:"rows"`
	Issues    []pipeline.Issue   `json:"issues,omitempty"`
	Anomalies []pipeline.Anomaly `json:"anomalies,omitempty"`
}

// ComputeRequest is the body of POST /api/compute.
type ComputeRequest struct {
	Rows    market.Series `json:"rows"`
	Studies []frame.Study `json:"studies"`
	Specs   []string      `json:"specs"`
}

func jsonValue(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func renderFrame(symbol string, s market.Series) *FrameResponse {
	extras := frame.ExtraColumns(s)
	columns := make([]string, 0, len(market.CoreFields)+len(extras))
	for _, f := range market.CoreFields {
		columns = append(columns, string(f))
	}
	columns = append(columns, extras...)

	rows := make([]map[string]any, len(s))
	for i, r := range s {
		row := map[string]any{
			string(market.FieldTime):   r.T,
			string(market.FieldOpen):   jsonValue(r.O),
			string(market.FieldHigh):   jsonValue(r.H),
			string(market.FieldLow):    jsonValue(r.L),
			string(market.FieldClose):  jsonValue(r.C),
			string(market.FieldVolume): jsonValue(r.V),
		}
		for _, name := range extras {
			if v, ok := r.Extra[name]; ok {
				row[name] = jsonValue(v)
			} else {
				row[name] = nil
			}
		}
		rows[i] = row
	}
	return &FrameResponse{Symbol: symbol, Columns: columns, Rows: rows}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps a compute error to the HTTP status the caller sees.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrInvalidParameter),
		errors.Is(err, market.ErrUnknownField),
		errors.Is(err, frame.ErrUnknownStudy),
		errors.Is(err, frame.ErrReservedName):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleTick(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "no market data source configured")
		return
	}

	tick, err := h.source.FetchTick(r.Context(), symbol)
	if err != nil {
		h.log.ErrorContext(r.Context(), err, logger.NewField("symbol", symbol))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    tick.Symbol,
		"timestamp": tick.Timestamp,
		"row":       renderFrame(symbol, market.Series{tick.Row}).Rows[0],
	})
}

// parseStudies reads repeated study= parameters, falling back to the defaults.
func (h *Handler) parseStudies(values []string) ([]frame.Study, error) {
	if len(values) == 0 {
		return h.defaultStudies(), nil
	}
	var studies []frame.Study
	for _, v := range values {
		for _, text := range strings.Split(v, ",") {
			if strings.TrimSpace(text) == "" {
				continue
			}
			st, err := frame.ParseStudy(text)
			if err != nil {
				return nil, err
			}
			studies = append(studies, st)
		}
	}
	return studies, nil
}

func cacheKey(symbol string, days int, studies []frame.Study) string {
	names := make([]string, 0, len(studies))
	for _, st := range studies {
		names = append(names, fmt.Sprintf("%s:%v", st.ColumnName(), st.K))
	}
	return fmt.Sprintf("%s|%d|%s", symbol, days, strings.Join(names, ","))
}

func (h *Handler) handleIndicators(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	symbol := r.PathValue("symbol")

	days := h.days
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = d
	}

	studies, err := h.parseStudies(r.URL.Query()["study"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	key := cacheKey(symbol, days, studies)
	if resp, ok := h.cache.Get(key); ok {
		h.metrics.CacheHits.Inc()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	h.metrics.CacheMisses.Inc()

	series, err := h.loadSeries(ctx, symbol, days)
	if err != nil {
		h.log.ErrorContext(ctx, err, logger.NewField("symbol", symbol))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(series) == 0 {
		writeError(w, http.StatusNotFound, "no data found")
		return
	}

	kept, issues := pipeline.NewValidator().Filter(series)
	if len(issues) > 0 {
		h.metrics.RejectedRows.Add(float64(len(series) - len(kept)))
		h.log.WarnContext(ctx, "rows rejected before compute",
			logger.NewField("symbol", symbol),
			logger.NewField("issues", len(issues)))
	}

	computed, err := h.compute(ctx, kept, studies)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := renderFrame(symbol, computed)
	resp.Issues = issues
	if resp.Anomalies, err = pipeline.NewAnomalyDetector().Detect(kept); err != nil {
		h.log.ErrorContext(ctx, err, logger.NewField("symbol", symbol))
	}
	h.cache.Add(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

// loadSeries reads the store and falls back to the upstream source when it
// holds fewer than days bars. Fetched bars are written back to the store.
func (h *Handler) loadSeries(ctx context.Context, symbol string, days int) (market.Series, error) {
	series, err := h.store.LoadSeries(ctx, symbol, days)
	if err != nil {
		return nil, errors.Wrap(err, "load series")
	}
	if len(series) >= days || h.source == nil {
		return series, nil
	}

	h.metrics.FetchFallbacks.Inc()
	fetched, err := h.source.FetchHistory(ctx, symbol, days)
	if err != nil {
		if len(series) > 0 {
			h.log.WarnContext(ctx, "history fetch failed, using stored bars",
				logger.NewField("symbol", symbol),
				logger.NewField("error", err.Error()))
			return series, nil
		}
		return nil, errors.Wrap(err, "fetch history")
	}
	if err := h.store.SaveSeries(ctx, symbol, fetched); err != nil {
		h.log.ErrorContext(ctx, err, logger.NewField("symbol", symbol))
	}
	return fetched, nil
}

func (h *Handler) compute(ctx context.Context, s market.Series, studies []frame.Study) (market.Series, error) {
	start := time.Now()
	out, err := frame.Compute(ctx, s, studies)
	if err != nil {
		return nil, err
	}
	h.metrics.ComputeDur.Observe(time.Since(start).Seconds())
	h.metrics.StudiesTotal.Add(float64(len(studies)))
	h.metrics.RowsTotal.Add(float64(len(s)))
	return out, nil
}

func (h *Handler) handleCompute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	studies := req.Studies
	for _, text := range req.Specs {
		st, err := frame.ParseStudy(text)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		studies = append(studies, st)
	}
	if len(studies) == 0 {
		studies = h.defaultStudies()
	}

	computed, err := h.compute(r.Context(), req.Rows, studies)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, renderFrame("", computed))
}
