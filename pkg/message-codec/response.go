package codec

import (
	"bytes"
	"net/http"
	"strconv"
)

// Header is a single response header field.
type Header struct {
	Name  string
	Value string
}

// Response is a response generated by the proxy itself (errors, static files).
// Responses relayed from the origin are passed through as raw bytes instead.
type Response struct {
	StatusCode int
	// Headers are written in order.
	Headers []Header
	Body    []byte
}

// Bytes returns the HTTP/1.1 representation of the response.
// CR and LF are removed from header names and values.
func (r Response) Bytes() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(r.StatusCode))
	buf.WriteString(" ")
	buf.WriteString(http.StatusText(r.StatusCode))
	buf.WriteString("\r\n")
	for _, h := range r.Headers {
		buf.WriteString(stripCRLF(h.Name))
		buf.WriteString(": ")
		buf.WriteString(stripCRLF(h.Value))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}

var errorBodies = map[int]string{
	http.StatusBadRequest:          "Bad request",
	http.StatusNotFound:            "File not found",
	http.StatusInternalServerError: "An error occurred",
	http.StatusNotImplemented:      "Only GET method is supported",
	http.StatusBadGateway:          "Could not connect to origin",
}

// Error returns the canonical response for an error status code.
func Error(statusCode int) Response {
	body, ok := errorBodies[statusCode]
	if !ok {
		body = http.StatusText(statusCode)
	}
	return Response{StatusCode: statusCode, Body: []byte(body)}
}
