// Package origin talks to the origin server, one TCP connection per request.
package origin

import (
	"bytes"
	"context"
	"io"
	"net"

	"github.com/pkg/errors"
)

// ErrUnreachable is returned when the origin cannot be connected to,
// or the connection fails while sending or receiving.
var ErrUnreachable = errors.New("origin: unreachable")

// Fetcher sends a raw request to the origin and returns the raw response.
type Fetcher interface {
	Fetch(ctx context.Context, request []byte) ([]byte, error)
}

// Client fetches from a single origin address.
// The origin is expected to close the connection after each response.
type Client struct {
	// Addr is the host:port of the origin.
	Addr   string
	Dialer net.Dialer
}

// NewClient returns a client for the origin at addr.
func NewClient(addr string) *Client {
	return &Client{Addr: addr}
}

// Fetch dials the origin, writes the request and reads until the origin closes the connection.
// The connection is always closed before returning. Requests are never retried.
func (c *Client) Fetch(ctx context.Context, request []byte) ([]byte, error) {
	conn, err := c.Dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, errors.WithMessage(unreachable(err), "dial")
	}
	defer conn.Close()

	if _, err := conn.Write(request); err != nil {
		return nil, errors.WithMessage(unreachable(err), "send")
	}
	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, conn); err != nil {
		return nil, errors.WithMessage(unreachable(err), "receive")
	}
	return buf.Bytes(), nil
}

type unreachableError struct {
	err error
}

func unreachable(err error) error { return &unreachableError{err: err} }

func (e *unreachableError) Error() string { return ErrUnreachable.Error() + ": " + e.err.Error() }

func (e *unreachableError) Is(target error) bool { return target == ErrUnreachable }

func (e *unreachableError) Unwrap() error { return e.err }

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, request []byte) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, request []byte) ([]byte, error) {
	return f(ctx, request)
}
