package static

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0, 1, 2}, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	modTime := time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "notes.txt"), modTime, modTime))
	return root
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/html", ContentType("/a/index.html"))
	assert.Equal(t, "text/plain", ContentType("notes.txt"))
	assert.Equal(t, "application/octet-stream", ContentType("/blob.bin"))
	assert.Equal(t, "application/octet-stream", ContentType("/README"))
}

func TestRespond(t *testing.T) {
	r := Responder{Root: testRoot(t)}

	file, err := r.Respond("/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "notes", string(file.Body))
	assert.Equal(t, "text/plain", file.ContentType)
	assert.Equal(t, 2015, file.ModTime.UTC().Year())

	for _, p := range []string{"/missing.txt", "/dir", "/../../etc/passwd"} {
		_, err := r.Respond(p)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Error for %s is %v", p, err)
		}
	}
}

func serve(t *testing.T, s *Server, raw string) string {
	t.Helper()
	client, server := net.Pipe()
	go s.ServeConn(server)
	defer client.Close()
	go io.WriteString(client, raw)
	res, err := io.ReadAll(client)
	require.NoError(t, err)
	return string(res)
}

func TestServer(t *testing.T) {
	s := &Server{Responder: Responder{Root: testRoot(t)}, Logger: zerolog.Nop()}

	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<h1>hi</h1>",
		serve(t, s, "GET /index.html HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\nFile not found",
		serve(t, s, "GET /nope.html HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 501 Not Implemented\r\n\r\nOnly GET method is supported",
		serve(t, s, "DELETE /index.html HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\n\r\nBad request",
		serve(t, s, "GET\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\n\r\nAn error occurred",
		serve(t, s, "GET /\xff HTTP/1.1\r\n\r\n"))
}

func TestOriginConditionalGet(t *testing.T) {
	srv := httptest.NewServer(NewOriginRouter(Responder{Root: testRoot(t)}, zerolog.Nop()))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/notes.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "notes", string(body))
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	lastModified := res.Header.Get("Last-Modified")
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", lastModified)

	req, _ := http.NewRequest("GET", srv.URL+"/notes.txt", nil)
	req.Header.Set("If-Modified-Since", lastModified)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotModified, res.StatusCode)

	req.Header.Set("If-Modified-Since", "Tue, 20 Oct 2015 07:28:00 GMT")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestOriginServerClosesConnections(t *testing.T) {
	srv := NewOriginServer("127.0.0.1:0", Responder{Root: testRoot(t)}, zerolog.Nop())
	l, err := net.Listen("tcp", srv.Addr)
	require.NoError(t, err)
	go srv.Serve(l)
	defer srv.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	// an HTTP/1.1 request would normally keep the connection open
	io.WriteString(conn, "GET /notes.txt HTTP/1.1\r\nHost: localhost\r\n\r\n")
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	res, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(res), "Last-Modified: Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Contains(t, string(res), "\r\n\r\nnotes")
}
