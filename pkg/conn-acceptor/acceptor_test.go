package acceptor

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l
}

// TestAcceptDoesNotWaitForHandlers holds the first handler open and checks
// that a second connection is still served.
func TestAcceptDoesNotWaitForHandlers(t *testing.T) {
	release := make(chan struct{})
	handled := make(chan string, 2)
	a := &Acceptor{Handler: ConnHandlerFunc(func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		if string(buf[:n]) == "slow" {
			<-release
		}
		handled <- string(buf[:n])
		io.WriteString(conn, "ok")
	})}
	l := listen(t)
	served := make(chan error, 1)
	go func() { served <- a.Serve(l) }()

	slow, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer slow.Close()
	io.WriteString(slow, "slow")

	fast, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer fast.Close()
	io.WriteString(fast, "fast")

	select {
	case got := <-handled:
		assert.Equal(t, "fast", got)
	case <-time.After(5 * time.Second):
		t.Fatal("fast connection was not served while slow one was pending")
	}
	close(release)
	assert.Equal(t, "slow", <-handled)

	require.NoError(t, a.Shutdown(context.Background()))
	assert.ErrorIs(t, <-served, ErrServerClosed)
}

func TestShutdownWaitsForHandlers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	a := &Acceptor{Handler: ConnHandlerFunc(func(conn net.Conn) {
		defer conn.Close()
		close(started)
		<-release
	})}
	l := listen(t)
	go a.Serve(l)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestServeAfterShutdown(t *testing.T) {
	a := &Acceptor{Handler: ConnHandlerFunc(func(conn net.Conn) { conn.Close() })}
	require.NoError(t, a.Shutdown(context.Background()))
	assert.ErrorIs(t, a.Serve(listen(t)), ErrServerClosed)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, nextBackoff(0))
	assert.Equal(t, 10*time.Millisecond, nextBackoff(5*time.Millisecond))
	assert.Equal(t, time.Second, nextBackoff(800*time.Millisecond))
}
