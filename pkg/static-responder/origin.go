package static

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NewOriginRouter returns a handler serving files with Last-Modified,
// answering If-Modified-Since with 304 Not Modified.
// Serve it with keep-alives disabled: the proxy reads each response until the connection closes.
func NewOriginRouter(responder Responder, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		file, err := responder.Respond(req.URL.Path)
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		} else if err != nil {
			logger.Error().Err(err).Str("path", req.URL.Path).Msg("Could not read file")
			http.Error(w, "An error occurred", http.StatusInternalServerError)
			return
		}
		// a preset Content-Type is kept by ServeContent
		w.Header().Set("Content-Type", file.ContentType)
		http.ServeContent(w, req, file.Name, file.ModTime, bytes.NewReader(file.Body))
	})
	return r
}

// NewOriginServer wraps the router in a server that closes every connection after one response.
func NewOriginServer(addr string, responder Responder, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewOriginRouter(responder, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.SetKeepAlivesEnabled(false)
	return srv
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Str("ifModifiedSince", r.Header.Get("If-Modified-Since")).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("Origin response")
		})
	}
}
