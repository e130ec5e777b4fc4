package cache

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("cache")

// BoltCache keeps entries in a bbolt database on a scratch file.
// The file is created when the cache is opened and removed on Close,
// so bodies live on disk instead of the heap but never outlive the process.
type BoltCache struct {
	db   *bolt.DB
	file string
	now  func() time.Time
}

// NewBoltCache creates a scratch database file in dir (os.TempDir() if empty).
func NewBoltCache(dir string, opts ...Option) (*BoltCache, error) {
	o := buildOptions(opts)
	f, err := os.CreateTemp(dir, "lmcache-*.bolt")
	if err != nil {
		return nil, errors.WithMessage(err, "create scratch file")
	}
	name := f.Name()
	_ = f.Close()
	db, err := bolt.Open(name, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = os.Remove(name)
		return nil, errors.WithMessage(err, "open bolt")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		_ = os.Remove(name)
		return nil, errors.WithMessage(err, "create bucket")
	}
	return &BoltCache{db: db, file: name, now: o.now}, nil
}

// Layout: 8 bytes big endian storedAt (unix nanos) || 4 bytes len(lastModified) || lastModified || body
func encodeBoltEntry(storedAt time.Time, lastModified string, body []byte) []byte {
	buf := make([]byte, 12+len(lastModified)+len(body))
	binary.BigEndian.PutUint64(buf[:8], uint64(storedAt.UnixNano()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(lastModified)))
	n := copy(buf[12:], lastModified)
	copy(buf[12+n:], body)
	return buf
}

func decodeBoltEntry(path string, v []byte) (CacheEntry, error) {
	if len(v) < 12 {
		return CacheEntry{}, errors.Errorf("entry for %s is truncated", path)
	}
	lmLen := int(binary.BigEndian.Uint32(v[8:12]))
	if len(v) < 12+lmLen {
		return CacheEntry{}, errors.Errorf("entry for %s is truncated", path)
	}
	return CacheEntry{
		Path:         path,
		StoredAt:     time.Unix(0, int64(binary.BigEndian.Uint64(v[:8]))),
		LastModified: string(v[12 : 12+lmLen]),
		// bolt values are only valid inside the transaction
		Body: append([]byte(nil), v[12+lmLen:]...),
	}, nil
}

// Lookup runs in a single read-write transaction, which bolt serializes.
func (b *BoltCache) Lookup(path string, ttl time.Duration) (CacheEntry, bool, error) {
	var entry CacheEntry
	var found bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		v := bucket.Get([]byte(path))
		if v == nil {
			return nil
		}
		e, err := decodeBoltEntry(path, v)
		if err != nil {
			return err
		}
		if !e.Fresh(b.now(), ttl) {
			return bucket.Delete([]byte(path))
		}
		entry, found = e, true
		return nil
	})
	if err != nil {
		return CacheEntry{}, false, errors.WithMessagef(err, "lookup %s", path)
	}
	return entry, found, nil
}

func (b *BoltCache) Store(path string, body []byte, lastModified string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(path), encodeBoltEntry(b.now(), lastModified, body))
	})
	return errors.WithMessagef(err, "store %s", path)
}

func (b *BoltCache) Len() int {
	var n int
	_ = b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(boltBucket).Stats().KeyN
		return nil
	})
	return n
}

// Close closes the database and removes the scratch file.
func (b *BoltCache) Close() error {
	err := b.db.Close()
	if rmErr := os.Remove(b.file); err == nil && rmErr != nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}
