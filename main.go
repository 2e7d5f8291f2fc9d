package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tayframe/config"
	"tayframe/db"
	qhttp "tayframe/http"
	"tayframe/logger"
	"tayframe/market"
	"tayframe/market/providers"
	"tayframe/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewLogger().Error(err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	defer log.Sync()

	// 2. Open the bar store
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Error(err, logger.NewField("path", cfg.Database.Path))
		os.Exit(1)
	}
	defer store.Close()
	log.Info("database opened", logger.NewField("path", cfg.Database.Path))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := providers.NewManager(log, market.NewFetcher(), providers.NewTencent())

	// 3. Backfill the configured symbols
	ingester := pipeline.NewDataIngester(source, store, cfg.Http.Days, log)
	backfill := func(symbols []string) {
		if err := ingester.Backfill(ctx, symbols); err != nil {
			log.Warn("backfill incomplete", logger.NewField("error", err.Error()))
		}
	}
	go backfill(cfg.Symbols)

	// 4. Start HTTP server
	handler, err := qhttp.NewHandler(qhttp.HandlerConfig{
		Days:      cfg.Http.Days,
		CacheSize: cfg.Cache.Size,
		Studies:   cfg.Studies,
	}, store, source, log)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	serverConfig := qhttp.DefaultServerConfig()
	serverConfig.Port = cfg.Http.Port
	serverConfig.Timeout = cfg.Http.Timeout
	server := qhttp.NewServer(serverConfig, handler, log, reg)

	// 5. Reload studies, log level and symbols when the file changes
	err = config.Watch(ctx, *configPath, func(next *config.Config) {
		handler.SetStudies(next.Studies)
		log.SetLevel(logger.Level(next.Log.Level))
		go backfill(next.Symbols)
		log.Info("configuration reloaded", logger.NewField("studies", len(next.Studies)))
	}, func(err error) {
		log.Error(err, logger.NewField("path", *configPath))
	})
	if err != nil {
		log.Warn("config watch disabled", logger.NewField("error", err.Error()))
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error(err)
			stop()
		}
	}()

	// 6. Handle graceful shutdown
	<-ctx.Done()
	if err := server.Stop(); err != nil {
		log.Error(err)
	}
	log.Info("exiting")
}

func newLogger(cfg *config.Config) *logger.Logger {
	opts := []logger.Options{logger.WithLoggingLevel(logger.Level(cfg.Log.Level))}
	if cfg.Log.File != "" {
		opts = append(opts, logger.WithFile(logger.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		}))
	}
	return logger.NewLogger(opts...)
}
