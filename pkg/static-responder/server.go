package static

import (
	"io"
	"net"
	"net/http"

	codec "github.com/always-cache/lmcache/pkg/message-codec"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const readBufferSize = 1024

// Server answers each connection with a file from the responder, without any caching.
// It reads the request with a single read, like the proxy.
type Server struct {
	Responder Responder
	Logger    zerolog.Logger
}

// ServeConn handles one request and closes the connection.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()
	log := s.Logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	defer func() {
		if err := recover(); err != nil {
			log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in file handler")
			conn.Write(codec.Error(http.StatusInternalServerError).Bytes())
		}
	}()

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		log.Warn().Err(err).Msg("Could not read request")
		return
	}
	res := s.respond(buf[:n], log)
	if _, err := conn.Write(res.Bytes()); err != nil {
		log.Error().Err(err).Msg("Could not write response to client")
	}
	log.Debug().Int("statusCode", res.StatusCode).Msg("Sent response")
}

func (s *Server) respond(raw []byte, log zerolog.Logger) codec.Response {
	text, err := codec.DecodeRequest(raw)
	if err != nil {
		log.Error().Err(err).Msg("Could not decode request")
		return codec.Error(http.StatusInternalServerError)
	}
	line, err := codec.ParseRequestLine(text)
	if err != nil {
		return codec.Error(http.StatusBadRequest)
	}
	if line.Method != http.MethodGet {
		return codec.Error(http.StatusNotImplemented)
	}
	file, err := s.Responder.Respond(line.Path)
	if errors.Is(err, ErrNotFound) {
		return codec.Error(http.StatusNotFound)
	} else if err != nil {
		log.Error().Err(err).Str("path", line.Path).Msg("Could not read file")
		return codec.Error(http.StatusInternalServerError)
	}
	return codec.Response{
		StatusCode: http.StatusOK,
		Headers:    []codec.Header{{Name: "Content-Type", Value: file.ContentType}},
		Body:       file.Body,
	}
}
