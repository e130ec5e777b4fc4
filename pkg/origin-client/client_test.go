package origin

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startOrigin accepts one connection, hands the request to respond and closes.
func startOrigin(t *testing.T, respond func(conn net.Conn, request string)) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var req strings.Builder
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			req.WriteString(line)
			if err != nil || line == "\r\n" {
				break
			}
		}
		respond(conn, req.String())
	}()
	return l.Addr().String()
}

func TestFetchReadsUntilClose(t *testing.T) {
	got := make(chan string, 1)
	addr := startOrigin(t, func(conn net.Conn, request string) {
		got <- request
		// several writes, no content length
		io.WriteString(conn, "HTTP/1.1 200 OK\r\n")
		io.WriteString(conn, "Last-Modified: L\r\n\r\n")
		io.WriteString(conn, "part one, ")
		io.WriteString(conn, "part two")
	})

	res, err := NewClient(addr).Fetch(context.Background(), []byte("GET /x HTTP/1.1\r\nHost: o\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nLast-Modified: L\r\n\r\npart one, part two", string(res))
	assert.Equal(t, "GET /x HTTP/1.1\r\nHost: o\r\n\r\n", <-got)
}

func TestFetchEmptyReply(t *testing.T) {
	addr := startOrigin(t, func(conn net.Conn, request string) {})

	res, err := NewClient(addr).Fetch(context.Background(), []byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestFetchUnreachable(t *testing.T) {
	// grab a free port and release it
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = NewClient(addr).Fetch(context.Background(), []byte("GET / HTTP/1.1\r\n\r\n"))
	require.Error(t, err)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Error is %v", err)
	}
}

func TestFetcherFunc(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, request []byte) ([]byte, error) {
		return append([]byte("echo "), request...), nil
	})
	res, err := f.Fetch(context.Background(), []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo hi", string(res))
}
