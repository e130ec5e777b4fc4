package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"testing"

	acceptor "github.com/always-cache/lmcache/pkg/conn-acceptor"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownLogsMetricsServerError(t *testing.T) {
	buf := &bytes.Buffer{}
	previous := log.Logger
	log.Logger = zerolog.New(buf)
	defer func() { log.Logger = previous }()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	metricsServer := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	})}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go metricsServer.Serve(l)
	go http.Get("http://" + l.Addr().String() + "/metrics")
	<-started

	// the in-flight request keeps the metrics server busy past the deadline
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdown(ctx, &acceptor.Acceptor{}, metricsServer)
	assert.Contains(t, buf.String(), "Metrics server shutdown incomplete")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestShutdownWithoutMetricsServer(t *testing.T) {
	assert.NoError(t, shutdown(context.Background(), &acceptor.Acceptor{}, nil))
}
