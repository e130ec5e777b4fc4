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

	static "github.com/always-cache/lmcache/pkg/static-responder"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	listenFlag         string
	rootFlag           string
	verbosityTraceFlag bool
	logFilenameFlag    string
)

func init() {
	flag.StringVar(&listenFlag, "listen", ":8000", "Address to listen on")
	flag.StringVar(&rootFlag, "root", ".", "Directory to serve files from")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
}

// origin serves files with Last-Modified and answers If-Modified-Since,
// closing the connection after every response.
func main() {
	flag.Parse()
	setupLogging(logFilenameFlag)

	srv := static.NewOriginServer(listenFlag, static.Responder{Root: rootFlag}, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msgf("Serving %s on %s", rootFlag, listenFlag)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Origin stopped")
	}
}

func setupLogging(logFilename string) {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if logFilename != "" {
		logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	log.Logger = log.Level(logLevel).Output(zerolog.MultiLevelWriter(logOutputs...))
}
