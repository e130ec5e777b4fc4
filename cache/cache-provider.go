package cache

import (
	"sync"
	"time"
)

// CacheProvider is an interface for a cache provider.
// It stores raw origin responses keyed by request path,
// together with the Last-Modified validator of each response.
//
// Implementations must be thread-safe!
// Both Lookup and Store must be atomic with respect to each other.
type CacheProvider interface {
	// Lookup returns the entry for path if it was stored less than ttl ago.
	// An entry that is too old is removed and reported as absent.
	Lookup(path string, ttl time.Duration) (CacheEntry, bool, error)
	// Store inserts or fully replaces the entry for path, stamped with the current time.
	Store(path string, body []byte, lastModified string) error
	// Len returns the number of stored entries, fresh or not.
	Len() int
	// Close releases the resources held by the provider.
	Close() error
}

// CacheEntry is a stored origin response.
// The body is never modified once stored.
type CacheEntry struct {
	Path string
	// Raw response, including status line and headers.
	Body []byte
	// Opaque Last-Modified value sent by the origin, empty if none.
	LastModified string
	StoredAt     time.Time
}

// Fresh reports whether the entry is younger than ttl at the given time.
func (ce CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(ce.StoredAt) < ttl
}

// Option configures a provider.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used for stamping and expiring entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type MemCache struct {
	mutex *sync.Mutex
	db    map[string]CacheEntry
	now   func() time.Time
}

// NewMemCache returns a provider that keeps entries in a map.
func NewMemCache(opts ...Option) MemCache {
	o := buildOptions(opts)
	return MemCache{
		mutex: &sync.Mutex{},
		db:    make(map[string]CacheEntry),
		now:   o.now,
	}
}

func (m MemCache) Lookup(path string, ttl time.Duration) (CacheEntry, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[path]
	if !ok {
		return CacheEntry{}, false, nil
	}
	if !entry.Fresh(m.now(), ttl) {
		delete(m.db, path)
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (m MemCache) Store(path string, body []byte, lastModified string) error {
	entry := CacheEntry{
		Path:         path,
		Body:         append([]byte(nil), body...),
		LastModified: lastModified,
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry.StoredAt = m.now()
	m.db[path] = entry
	return nil
}

func (m MemCache) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.db)
}

func (m MemCache) Close() error {
	return nil
}
