// Package cachestatus describes how the proxy handled a request,
// using the vocabulary of the Cache-Status header field (RFC 9211).
package cachestatus

import "fmt"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The request method's semantics require the request to be forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache was able to select a response for the request, but it was stale.
	FwdReasonStale FwdReason = "stale"

	// The cache did not contain any responses that could be used
	// (used when the request could not be understood).
	FwdReasonMiss FwdReason = "miss"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Status code returned by the origin, if contacted.
	FwdStatus int
	// Whether the response was stored.
	Stored bool
	// Whether the request shared an origin fetch with another request.
	Collapsed bool
	Detail    string
}

// Hit marks the response as served from the cache.
func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
}

// Forward marks the request as sent to the origin for the given reason.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// IsHit reports whether the response body came from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

// String formats the status as a Cache-Status field value for the named cache.
func (cs CacheStatus) String() string {
	s := "lmcache"
	switch cs.Status {
	case StatusHit:
		s += "; hit"
	case StatusFwd:
		s += fmt.Sprintf("; fwd=%s", cs.FwdReason)
	}
	if cs.FwdStatus != 0 {
		s += fmt.Sprintf("; fwd-status=%d", cs.FwdStatus)
	}
	if cs.Stored {
		s += "; stored"
	}
	if cs.Collapsed {
		s += "; collapsed"
	}
	if cs.Detail != "" {
		s += fmt.Sprintf("; detail=%q", cs.Detail)
	}
	return s
}
