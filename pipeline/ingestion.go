package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"tayframe/logger"
	"tayframe/market"
)

// HistorySource 历史数据源接口
type HistorySource interface {
	FetchHistory(ctx context.Context, symbol string, days int) (market.Series, error)
}

// DataStorage 数据存储接口
type DataStorage interface {
	SaveSeries(ctx context.Context, symbol string, series market.Series) error
	SaveIssues(ctx context.Context, symbol string, issues []Issue) error
	LastTimestamp(ctx context.Context, symbol string) (int64, error)
}

// IngestionStats 摄取统计
type IngestionStats struct {
	SavedBars     int64            `json:"saved_bars"`
	RejectedBars  int64            `json:"rejected_bars"`
	FailedSymbols int64            `json:"failed_symbols"`
	LastIngestion time.Time        `json:"last_ingestion"`
	Symbols       map[string]int64 `json:"symbols"` // symbol -> last timestamp
}

// DataIngester 数据摄取器
type DataIngester struct {
	source    HistorySource
	storage   DataStorage
	validator *Validator
	days      int
	log       logger.Interface

	stats     IngestionStats
	statsLock sync.RWMutex
}

// NewDataIngester 创建数据摄取器
func NewDataIngester(source HistorySource, storage DataStorage, days int, log logger.Interface) *DataIngester {
	if days <= 0 {
		days = 120
	}
	return &DataIngester{
		source:    source,
		storage:   storage,
		validator: NewValidator(),
		days:      days,
		log:       log,
		stats:     IngestionStats{Symbols: make(map[string]int64)},
	}
}

// Backfill 补齐每个标的的历史K线，单个标的失败不影响其余标的
func (di *DataIngester) Backfill(ctx context.Context, symbols []string) error {
	var errs error
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if _, err := di.IngestSymbol(ctx, symbol); err != nil {
			di.log.WarnContext(ctx, "ingest failed",
				logger.NewField("symbol", symbol),
				logger.NewField("error", err.Error()))
			errs = multierr.Append(errs, errors.Wrapf(err, "ingest %s", symbol))
		}
	}
	return errs
}

// IngestSymbol 摄取单个标的，只保存比已存数据更新且通过校验的K线
func (di *DataIngester) IngestSymbol(ctx context.Context, symbol string) (int, error) {
	last, err := di.storage.LastTimestamp(ctx, symbol)
	if err != nil {
		di.recordFailure()
		return 0, errors.Wrap(err, "read progress")
	}

	series, err := di.source.FetchHistory(ctx, symbol, di.days)
	if err != nil {
		di.recordFailure()
		return 0, errors.Wrap(err, "fetch history")
	}

	kept, issues := di.validator.Filter(series)

	var newIssues []Issue
	for _, issue := range issues {
		if issue.T > last {
			newIssues = append(newIssues, issue)
		}
	}
	fresh := make(market.Series, 0, len(kept))
	for _, row := range kept {
		if row.T > last {
			fresh = append(fresh, row)
		}
	}

	if err := di.storage.SaveIssues(ctx, symbol, newIssues); err != nil {
		di.recordFailure()
		return 0, errors.Wrap(err, "save issues")
	}
	if err := di.storage.SaveSeries(ctx, symbol, fresh); err != nil {
		di.recordFailure()
		return 0, errors.Wrap(err, "save bars")
	}

	for _, row := range fresh {
		if row.T > last {
			last = row.T
		}
	}
	di.statsLock.Lock()
	di.stats.SavedBars += int64(len(fresh))
	di.stats.RejectedBars += int64(len(series) - len(kept))
	di.stats.LastIngestion = time.Now()
	di.stats.Symbols[symbol] = last
	di.statsLock.Unlock()

	di.log.InfoContext(ctx, "ingested history",
		logger.NewField("symbol", symbol),
		logger.NewField("fetched", len(series)),
		logger.NewField("saved", len(fresh)),
		logger.NewField("rejected", len(series)-len(kept)))
	return len(fresh), nil
}

func (di *DataIngester) recordFailure() {
	di.statsLock.Lock()
	di.stats.FailedSymbols++
	di.statsLock.Unlock()
}

// GetStats 获取统计信息
func (di *DataIngester) GetStats() IngestionStats {
	di.statsLock.RLock()
	defer di.statsLock.RUnlock()

	stats := di.stats
	stats.Symbols = make(map[string]int64, len(di.stats.Symbols))
	for k, v := range di.stats.Symbols {
		stats.Symbols[k] = v
	}
	return stats
}
