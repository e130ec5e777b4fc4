package lmcache

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/always-cache/lmcache/cache"
	cachestatus "github.com/always-cache/lmcache/pkg/cache-status"
	codec "github.com/always-cache/lmcache/pkg/message-codec"
	origin "github.com/always-cache/lmcache/pkg/origin-client"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL            = 60 * time.Second
	DefaultReadBufferSize = 1024
)

// ErrUnsupportedMethod is returned for any method other than GET.
var ErrUnsupportedMethod = errors.New("lmcache: unsupported method")

// errEmptyReply counts as an unreachable origin.
var errEmptyReply = errors.WithMessage(origin.ErrUnreachable, "empty reply")

type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// Origin to fetch from.
	Origin origin.Fetcher
	// Address of the origin, for logging only.
	OriginAddr string
	// How long an entry is served before it is dropped. DefaultTTL if zero.
	TTL time.Duration
	// Size of the single read that makes up a request. DefaultReadBufferSize if zero.
	// Requests longer than this, or split over several TCP segments, are truncated.
	ReadBufferSize int
	// Re-stamp an entry when the origin confirms it with 304 Not Modified.
	// If false, a 304 leaves the entry's age untouched.
	RefreshOnNotModified bool
	// Share one origin fetch between concurrent misses for the same path.
	Coalesce bool
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Proxy struct {
	cache                cache.CacheProvider
	origin               origin.Fetcher
	ttl                  time.Duration
	readBufferSize       int
	refreshOnNotModified bool
	flights              *singleflight.Group
	log                  zerolog.Logger
}

// CreateProxy initializes the proxy request handler.
func CreateProxy(config Config) *Proxy {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginAddr).
		Logger()

	p := &Proxy{
		cache:                config.Cache,
		origin:               config.Origin,
		ttl:                  config.TTL,
		readBufferSize:       config.ReadBufferSize,
		refreshOnNotModified: config.RefreshOnNotModified,
		log:                  logger,
	}
	if p.ttl <= 0 {
		p.ttl = DefaultTTL
	}
	if p.readBufferSize <= 0 {
		p.readBufferSize = DefaultReadBufferSize
	}
	if config.Coalesce {
		p.flights = &singleflight.Group{}
	}
	return p
}

type request struct {
	text        string
	line        codec.RequestLine
	cacheStatus cachestatus.CacheStatus
	log         zerolog.Logger
}

// ServeConn handles a single client connection from request to response.
// The connection is closed when it returns.
func (p *Proxy) ServeConn(conn net.Conn) {
	defer conn.Close()
	metricConnections.Add(1)
	defer metricConnections.Add(-1)

	req := &request{
		log: p.log.With().Str("remote", remoteAddr(conn)).Logger(),
	}
	defer p.recover(conn, req)

	buf := make([]byte, p.readBufferSize)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		req.log.Warn().Err(err).Msg("Could not read request")
		return
	}

	res, err := p.handle(context.Background(), req, buf[:n])
	statusCode := codec.StatusCode(res)
	if err != nil {
		errRes := p.errorResponse(req, err)
		statusCode = errRes.StatusCode
		res = errRes.Bytes()
	}
	if _, err := conn.Write(res); err != nil {
		req.log.Error().Err(err).Msg("Could not write response to client")
	}
	p.logRequest(req, statusCode)
}

// recover turns a panic into a 500 response.
func (p *Proxy) recover(conn net.Conn, req *request) {
	if err := recover(); err != nil {
		req.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in proxy handler")
		metricErrors.Add(1)
		conn.Write(codec.Error(http.StatusInternalServerError).Bytes())
	}
}

// handle returns the raw response to send to the client.
func (p *Proxy) handle(ctx context.Context, req *request, raw []byte) ([]byte, error) {
	text, err := codec.DecodeRequest(raw)
	if err != nil {
		return nil, err
	}
	line, err := codec.ParseRequestLine(text)
	if err != nil {
		return nil, err
	}
	req.text = text
	req.line = line
	req.log = req.log.With().Str("method", line.Method).Str("path", line.Path).Logger()

	if line.Method != http.MethodGet {
		req.cacheStatus.Forward(cachestatus.FwdReasonMethod)
		return nil, errors.WithMessagef(ErrUnsupportedMethod, "method %s", line.Method)
	}

	entry, ok, err := p.cache.Lookup(line.Path, p.ttl)
	if err != nil {
		req.log.Warn().Err(err).Msg("Could not look up cache, treating as miss")
		ok = false
	}
	if ok {
		req.log.Trace().Str("lastModified", entry.LastModified).Msg("Found stored response, revalidating")
		return p.revalidate(ctx, req, entry)
	}
	metricMisses.Add(1)
	req.log.Trace().Msg("Forwarding to origin")
	return p.fetch(ctx, req)
}

// revalidate asks the origin whether the stored response is still current.
func (p *Proxy) revalidate(ctx context.Context, req *request, entry cache.CacheEntry) ([]byte, error) {
	validationReq := codec.BuildConditionalRequest(req.text, entry.LastModified, entry.LastModified != "")
	res, err := p.fetchOrigin(ctx, req, validationReq)
	if err != nil {
		// act as if the origin failed to respond and serve what we have
		req.log.Warn().Err(err).Msg("Could not revalidate, sending stored response")
		metricRevalidationErrors.Add(1)
		req.cacheStatus.Hit()
		req.cacheStatus.Detail = "revalidation failed"
		return entry.Body, nil
	}
	req.cacheStatus.FwdStatus = codec.StatusCode(res)

	if codec.IsNotModified(res) {
		metricHits.Add(1)
		req.cacheStatus.Hit()
		if p.refreshOnNotModified {
			p.save(req, entry.Body, entry.LastModified)
		}
		return entry.Body, nil
	}

	metricRevalidationsModified.Add(1)
	req.cacheStatus.Forward(cachestatus.FwdReasonStale)
	lastModified, _ := codec.ExtractHeader(res, "Last-Modified")
	p.save(req, res, lastModified)
	return res, nil
}

// fetch gets the response for a missing entry and stores it.
func (p *Proxy) fetch(ctx context.Context, req *request) ([]byte, error) {
	req.cacheStatus.Forward(cachestatus.FwdReasonUriMiss)
	fetchAndSave := func() (interface{}, error) {
		res, err := p.fetchOrigin(ctx, req, []byte(req.text))
		if err != nil {
			return nil, err
		}
		// a 304 answers the client's own conditional request and has no body to keep
		if codec.IsNotModified(res) {
			return res, nil
		}
		lastModified, _ := codec.ExtractHeader(res, "Last-Modified")
		p.save(req, res, lastModified)
		return res, nil
	}

	// conditional requests may get a 304 that other clients must not share
	_, conditional := codec.ExtractHeader([]byte(req.text), "If-Modified-Since")
	if p.flights == nil || conditional {
		v, err := fetchAndSave()
		if err != nil {
			return nil, err
		}
		return v.([]byte), nil
	}
	v, err, shared := p.flights.Do(req.line.Path, fetchAndSave)
	req.cacheStatus.Collapsed = shared
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (p *Proxy) fetchOrigin(ctx context.Context, req *request, raw []byte) ([]byte, error) {
	res, err := p.origin.Fetch(ctx, raw)
	if err == nil && len(res) == 0 {
		err = errEmptyReply
	}
	if err != nil {
		metricOriginErrors.Add(1)
		return nil, err
	}
	req.log.Trace().Int("bytes", len(res)).Msg("Got response from origin")
	return res, nil
}

func (p *Proxy) save(req *request, res []byte, lastModified string) {
	if err := p.cache.Store(req.line.Path, res, lastModified); err != nil {
		req.log.Error().Err(err).Msg("Could not write to cache")
		return
	}
	metricStores.Add(1)
	req.cacheStatus.Stored = true
	req.log.Trace().Str("lastModified", lastModified).Msg("Cache write")
}

// errorResponse maps a handling error to the response sent to the client.
// Unexpected errors are logged; the client only gets a generic message.
func (p *Proxy) errorResponse(req *request, err error) codec.Response {
	switch {
	case errors.Is(err, codec.ErrMalformedRequest):
		req.log.Debug().Err(err).Msg("Malformed request")
		return codec.Error(http.StatusBadRequest)
	case errors.Is(err, ErrUnsupportedMethod):
		return codec.Error(http.StatusNotImplemented)
	case errors.Is(err, origin.ErrUnreachable):
		req.log.Error().Err(err).Msg("Could not fetch response from origin")
		return codec.Error(http.StatusBadGateway)
	default:
		req.log.Error().Err(err).Msg("Could not handle request")
		metricErrors.Add(1)
		return codec.Error(http.StatusInternalServerError)
	}
}

func (p *Proxy) logRequest(req *request, statusCode int) {
	cs := req.cacheStatus
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	req.log.Debug().
		Int("statusCode", statusCode).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Str("cacheStatus", cs.String()).
		Msg("Sending response to client")
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
