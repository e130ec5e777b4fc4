package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"
)

// SQLiteCache keeps entries in a private in-memory SQLite database.
// Nothing is written to disk, so the cache does not survive a restart.
type SQLiteCache struct {
	db    *sql.DB
	mutex *sync.Mutex
	now   func() time.Time
}

// NewSQLiteCache opens the in-memory database and creates the cache table.
func NewSQLiteCache(opts ...Option) (SQLiteCache, error) {
	o := buildOptions(opts)
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return SQLiteCache{}, errors.WithMessage(err, "open sqlite")
	}
	// every connection to :memory: is a separate database, so the one connection must never be recycled
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		path TEXT PRIMARY KEY,
		last_modified TEXT,
		stored_at INTEGER,
		bytes BLOB
	)`)
	if err != nil {
		_ = db.Close()
		return SQLiteCache{}, errors.WithMessage(err, "create cache table")
	}
	return SQLiteCache{
		db:    db,
		mutex: &sync.Mutex{},
		now:   o.now,
	}, nil
}

func (s SQLiteCache) Lookup(path string, ttl time.Duration) (CacheEntry, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entry := CacheEntry{Path: path}
	var storedAt int64
	err := s.db.QueryRow("SELECT last_modified, stored_at, bytes FROM cache WHERE path = ?", path).
		Scan(&entry.LastModified, &storedAt, &entry.Body)
	if err == sql.ErrNoRows {
		return CacheEntry{}, false, nil
	} else if err != nil {
		return CacheEntry{}, false, errors.WithMessagef(err, "select %s", path)
	}
	entry.StoredAt = time.Unix(0, storedAt)
	if !entry.Fresh(s.now(), ttl) {
		if _, err := s.db.Exec("DELETE FROM cache WHERE path = ?", path); err != nil {
			return CacheEntry{}, false, errors.WithMessagef(err, "delete %s", path)
		}
		return CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s SQLiteCache) Store(path string, body []byte, lastModified string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(path, last_modified, stored_at, bytes) VALUES (?, ?, ?, ?)`,
		path, lastModified, s.now().UnixNano(), body)
	return errors.WithMessagef(err, "insert %s", path)
}

func (s SQLiteCache) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
