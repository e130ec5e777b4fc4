package main

import (
	"flag"
	"os"
	"time"

	"github.com/always-cache/lmcache"
	"github.com/always-cache/lmcache/cache"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen               string        `yaml:"listen"`
	Origin               string        `yaml:"origin"`
	TTL                  time.Duration `yaml:"ttl"`
	Provider             string        `yaml:"provider"`
	ScratchDir           string        `yaml:"scratchDir"`
	ReadBufferSize       int           `yaml:"readBufferSize"`
	RefreshOnNotModified bool          `yaml:"refreshOnNotModified"`
	Coalesce             bool          `yaml:"coalesce"`
	MetricsAddr          string        `yaml:"metricsAddr"`
	LogFile              string        `yaml:"logFile"`
}

func defaultConfig() Config {
	return Config{
		Listen:         ":12000",
		Origin:         "localhost:8000",
		TTL:            lmcache.DefaultTTL,
		Provider:       "memory",
		ReadBufferSize: lmcache.DefaultReadBufferSize,
	}
}

// getConfig reads the config file on top of the defaults.
// An empty filename returns the defaults.
func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	if filename == "" {
		return config, nil
	}
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, errors.WithMessage(err, "read config")
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, errors.WithMessagef(err, "parse config %s", filename)
}

// overrideFromFlags applies the flags that were set on the command line.
func overrideFromFlags(config *Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			config.Listen = listenFlag
		case "origin":
			config.Origin = originFlag
		case "ttl":
			config.TTL = ttlFlag
		case "provider":
			config.Provider = providerFlag
		case "scratch-dir":
			config.ScratchDir = scratchDirFlag
		case "read-buffer":
			config.ReadBufferSize = readBufferFlag
		case "refresh-on-304":
			config.RefreshOnNotModified = refreshFlag
		case "coalesce":
			config.Coalesce = coalesceFlag
		case "metrics-addr":
			config.MetricsAddr = metricsAddrFlag
		case "log-file":
			config.LogFile = logFilenameFlag
		}
	})
}

func (c Config) validate() error {
	if c.Listen == "" || c.Origin == "" {
		return errors.New("need listen address and origin")
	}
	if c.TTL <= 0 {
		return errors.Errorf("ttl must be positive, is %s", c.TTL)
	}
	if c.ReadBufferSize <= 0 {
		return errors.Errorf("read buffer size must be positive, is %d", c.ReadBufferSize)
	}
	return nil
}

// newCacheProvider creates the configured cache provider.
func newCacheProvider(c Config) (cache.CacheProvider, error) {
	switch c.Provider {
	case "memory":
		return cache.NewMemCache(), nil
	case "sqlite":
		return cache.NewSQLiteCache()
	case "bolt":
		return cache.NewBoltCache(c.ScratchDir)
	default:
		return nil, errors.Errorf("unsupported cache provider: %s", c.Provider)
	}
}
