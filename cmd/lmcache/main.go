package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/lmcache"
	acceptor "github.com/always-cache/lmcache/pkg/conn-acceptor"
	origin "github.com/always-cache/lmcache/pkg/origin-client"

	"github.com/go-chi/chi/v5"
	"github.com/pascaldekloe/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	configFilenameFlag string
	listenFlag         string
	originFlag         string
	ttlFlag            time.Duration
	providerFlag       string
	scratchDirFlag     string
	readBufferFlag     int
	refreshFlag        bool
	coalesceFlag       bool
	metricsAddrFlag    string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&listenFlag, "listen", ":12000", "Address to listen on")
	flag.StringVar(&originFlag, "origin", "localhost:8000", "Origin host:port to proxy to")
	flag.DurationVar(&ttlFlag, "ttl", lmcache.DefaultTTL, "How long cached responses are used")
	flag.StringVar(&providerFlag, "provider", "memory", "Cache provider to use (memory, sqlite, bolt)")
	flag.StringVar(&scratchDirFlag, "scratch-dir", "", "Directory for the bolt provider's scratch file")
	flag.IntVar(&readBufferFlag, "read-buffer", lmcache.DefaultReadBufferSize, "Maximum request size in bytes")
	flag.BoolVar(&refreshFlag, "refresh-on-304", false, "Restart the TTL when the origin answers 304 Not Modified")
	flag.BoolVar(&coalesceFlag, "coalesce", false, "Share one origin fetch between concurrent misses for a path")
	flag.StringVar(&metricsAddrFlag, "metrics-addr", "", "Address to serve /metrics on (disabled if empty)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	config, err := getConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	overrideFromFlags(&config, flag.CommandLine)
	if err := config.validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	setupLogging(config.LogFile)

	provider, err := newCacheProvider(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache provider")
	}
	defer provider.Close()

	proxy := lmcache.CreateProxy(lmcache.Config{
		Cache:                provider,
		Origin:               origin.NewClient(config.Origin),
		OriginAddr:           config.Origin,
		TTL:                  config.TTL,
		ReadBufferSize:       config.ReadBufferSize,
		RefreshOnNotModified: config.RefreshOnNotModified,
		Coalesce:             config.Coalesce,
		Logger:               &log.Logger,
	})
	acc := &acceptor.Acceptor{Handler: proxy, Logger: &log.Logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	log.Info().Msgf("Proxying %s to %s (ttl %s, provider %s)", config.Listen, config.Origin, config.TTL, config.Provider)
	g.Go(func() error {
		err := acc.ListenAndServe(config.Listen)
		if errors.Is(err, acceptor.ErrServerClosed) {
			return nil
		}
		return err
	})

	var metricsServer *http.Server
	if config.MetricsAddr != "" {
		r := chi.NewRouter()
		r.Get("/metrics", metrics.ServeHTTP)
		metricsServer = &http.Server{Addr: config.MetricsAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info().Msgf("Serving metrics on %s", config.MetricsAddr)
			err := metricsServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return shutdown(shutdownCtx, acc, metricsServer)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Proxy stopped")
		provider.Close()
		os.Exit(1)
	}
}

// shutdown stops the metrics server, if any, and then the proxy.
// Only the proxy's result is returned.
func shutdown(ctx context.Context, acc *acceptor.Acceptor, metricsServer *http.Server) error {
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown incomplete")
		}
	}
	return acc.Shutdown(ctx)
}

// setupLogging logs to stdout and, if specified, to a log file as well.
func setupLogging(logFilename string) {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilename != "" {
		if logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}
