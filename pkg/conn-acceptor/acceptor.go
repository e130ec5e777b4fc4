// Package acceptor accepts TCP connections and hands each one to a handler goroutine.
package acceptor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("acceptor: server closed")

// ConnHandler handles one client connection. It owns the connection and must close it.
type ConnHandler interface {
	ServeConn(conn net.Conn)
}

// ConnHandlerFunc adapts a function to the ConnHandler interface.
type ConnHandlerFunc func(conn net.Conn)

func (f ConnHandlerFunc) ServeConn(conn net.Conn) { f(conn) }

type Acceptor struct {
	Handler ConnHandler
	// Logger to use. Logging is disabled if nil.
	Logger *zerolog.Logger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    bool
	conns     sync.WaitGroup
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (a *Acceptor) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithMessagef(err, "listen on %s", addr)
	}
	return a.Serve(l)
}

// Serve accepts connections on l until l fails or Shutdown is called.
// Every connection is served in a new goroutine; Serve does not wait for it.
func (a *Acceptor) Serve(l net.Listener) error {
	if !a.track(l) {
		l.Close()
		return ErrServerClosed
	}
	defer a.untrack(l)

	log := a.logger()
	log.Info().Str("addr", l.Addr().String()).Msg("Accepting connections")

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if a.isClosed() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				backoff = nextBackoff(backoff)
				log.Warn().Err(err).Dur("retry", backoff).Msg("Accept error")
				time.Sleep(backoff)
				continue
			}
			return errors.WithMessage(err, "accept")
		}
		backoff = 0
		log.Trace().Str("remote", conn.RemoteAddr().String()).Msg("Accepted connection")
		if !a.addConn() {
			conn.Close()
			return ErrServerClosed
		}
		go func() {
			defer a.conns.Done()
			a.Handler.ServeConn(conn)
		}()
	}
}

// Shutdown stops accepting connections and waits for the running handlers,
// or for ctx to be done.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	var err error
	for l := range a.listeners {
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(a.listeners, l)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Acceptor) track(l net.Listener) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	if a.listeners == nil {
		a.listeners = make(map[net.Listener]struct{})
	}
	a.listeners[l] = struct{}{}
	return true
}

func (a *Acceptor) untrack(l net.Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.listeners, l)
}

// addConn registers a handler unless shutdown has started.
func (a *Acceptor) addConn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.conns.Add(1)
	return true
}

func (a *Acceptor) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Acceptor) logger() *zerolog.Logger {
	if a.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return a.Logger
}

// same schedule as net/http: 5ms doubling up to 1s
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
