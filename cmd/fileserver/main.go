package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	acceptor "github.com/always-cache/lmcache/pkg/conn-acceptor"
	static "github.com/always-cache/lmcache/pkg/static-responder"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	listenFlag string
	rootFlag   string
)

func init() {
	flag.StringVar(&listenFlag, "listen", ":12000", "Address to listen on")
	flag.StringVar(&rootFlag, "root", ".", "Directory to serve files from")
}

// fileserver answers GET requests with files from the root directory,
// one request per connection and no caching.
func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	server := &static.Server{Responder: static.Responder{Root: rootFlag}, Logger: log.Logger}
	acc := &acceptor.Acceptor{Handler: server, Logger: &log.Logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := acc.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	log.Info().Msgf("Serving %s on %s", rootFlag, listenFlag)
	if err := acc.ListenAndServe(listenFlag); err != nil && !errors.Is(err, acceptor.ErrServerClosed) {
		log.Fatal().Err(err).Msg("File server stopped")
	}
	<-done
}
