// Package codec reads and writes the minimal HTTP/1.x text the proxy deals with.
// It holds no state; every function works on the raw bytes it is handed.
package codec

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedRequest is returned when the request line lacks a method or a path.
	ErrMalformedRequest = errors.New("codec: malformed request")
	// ErrUndecodable is returned when the request bytes are not valid text.
	ErrUndecodable = errors.New("codec: request is not valid UTF-8")
)

const ifModifiedSince = "If-Modified-Since"

// RequestLine is the method and target of a request.
type RequestLine struct {
	Method string
	Path   string
}

// DecodeRequest turns the raw request bytes into text.
func DecodeRequest(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", ErrUndecodable
	}
	return string(raw), nil
}

// ParseRequestLine parses the first line of a request.
// The HTTP version token, if any, is not validated.
func ParseRequestLine(raw string) (RequestLine, error) {
	line := raw
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return RequestLine{}, errors.WithMessagef(ErrMalformedRequest, "request line %q", line)
	}
	return RequestLine{Method: tokens[0], Path: tokens[1]}, nil
}

// ExtractHeader returns the trimmed value of the first header line starting with "<name>:".
// The match is case-sensitive. Only the header block of the response is searched,
// so a binary body does not hide the headers.
func ExtractHeader(raw []byte, name string) (string, bool) {
	head := headerBlock(raw)
	if !utf8.Valid(head) {
		return "", false
	}
	prefix := name + ":"
	for _, line := range splitLines(string(head)) {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}

// BuildConditionalRequest adds an If-Modified-Since header to the original request.
// If ok is false, the original request is returned unchanged.
// Any If-Modified-Since sent by the client is replaced, so the result carries exactly one.
func BuildConditionalRequest(original string, since string, ok bool) []byte {
	if !ok {
		return []byte(original)
	}
	lines := splitLines(original)
	// drop the blank terminator(s)
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var b strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(line, ifModifiedSince+":") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString(ifModifiedSince)
	b.WriteString(": ")
	b.WriteString(stripCRLF(since))
	b.WriteString("\r\n\r\n")
	return []byte(b.String())
}

// StatusCode returns the status code of a raw response, or 0 if there is no valid status line.
func StatusCode(raw []byte) int {
	line := raw
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = raw[:i]
	}
	fields := bytes.Fields(line)
	if len(fields) < 2 || !bytes.HasPrefix(fields[0], []byte("HTTP/")) {
		return 0
	}
	code, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return 0
	}
	return code
}

// IsNotModified reports whether the origin answered a conditional request with 304.
func IsNotModified(raw []byte) bool {
	return StatusCode(raw) == 304
}

// headerBlock returns everything before the first empty line.
func headerBlock(raw []byte) []byte {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[:i]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i]
	}
	return raw
}

// splitLines splits on \n, tolerating \r\n.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func stripCRLF(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
