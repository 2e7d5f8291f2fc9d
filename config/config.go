// Package config loads the YAML configuration, applies environment
// overrides and watches the file for changes.
package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"tayframe/frame"
)

const envPrefix = "TAYFRAME_"

type Config struct {
	Symbols  []string `yaml:"symbols"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Http struct {
		Port    int           `yaml:"port"`
		Timeout time.Duration `yaml:"timeout"`
		Days    int           `yaml:"days"`
	} `yaml:"http"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Studies []frame.Study `yaml:"studies"`
}

// overrides are the settings that can come from TAYFRAME_* variables.
type overrides struct {
	Symbols   []string `env:"SYMBOLS" envSeparator:","`
	DBPath    string   `env:"DB_PATH"`
	HTTPPort  int      `env:"HTTP_PORT"`
	LogLevel  string   `env:"LOG_LEVEL"`
	LogFile   string   `env:"LOG_FILE"`
	CacheSize int      `env:"CACHE_SIZE"`
}

func (o overrides) apply(cfg *Config) {
	if len(o.Symbols) > 0 {
		cfg.Symbols = o.Symbols
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}
	if o.HTTPPort != 0 {
		cfg.Http.Port = o.HTTPPort
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFile != "" {
		cfg.Log.File = o.LogFile
	}
	if o.CacheSize != 0 {
		cfg.Cache.Size = o.CacheSize
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Path = "data/tayframe.db"
	cfg.Http.Port = 8080
	cfg.Http.Timeout = 30 * time.Second
	cfg.Http.Days = 120
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 30
	cfg.Cache.Size = 256
	cfg.Studies = []frame.Study{
		{Kind: frame.KindSMA, Field: "c", Window: 20},
		{Kind: frame.KindEMA, Field: "c", Window: 12},
		{Kind: frame.KindRSI, Window: 14},
		{Kind: frame.KindATR, Window: 14},
		{Kind: frame.KindMACD, Fast: 12, Slow: 26, Signal: 9},
	}
	return cfg
}

// Load reads path on top of the defaults, then applies an optional .env file
// and TAYFRAME_* environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	case !os.IsNotExist(err):
		return nil, errors.Wrapf(err, "read %s", path)
	}

	_ = godotenv.Load()
	var over overrides
	if err := env.ParseWithOptions(&over, env.Options{Prefix: envPrefix}); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	over.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the default studies so a bad file fails at load time.
func (c *Config) Validate() error {
	for _, st := range c.Studies {
		if err := st.Validate(); err != nil {
			return errors.Wrap(err, "studies")
		}
	}
	if c.Http.Port <= 0 {
		return errors.Errorf("http port must be positive, got %d", c.Http.Port)
	}
	return nil
}

// Watch calls onChange with the reloaded configuration every time the file at
// path is written, until ctx is done. Reload errors go to onError.
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					onError(err)
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(err)
			}
		}
	}()
	return nil
}
