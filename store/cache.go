package store

// The remote object store needs to remember metadata about faraway keys so
// that existence probes do not turn into a HEAD request per call. This file
// implements that cache.

import (
	"sync"
	"time"

	"github.com/golang/groupcache/singleflight"
)

// head is the structure stored in a sizecache.
type head struct {
	expire time.Time
	size   int64 // size of item. 0 = ?, -1 = doesn't exist. see constant below
}

// A sizecache remembers the size or non-existence of a remote object.
// The size is either a positive int64, 0 = we don't know, -1 = item doesn't
// exist. Entries expire after some amount of time. Missing items expire
// quicker than items with a positive size. Concurrent probes for the same
// key are collapsed into one backend request.
type sizecache struct {
	m         sync.RWMutex    // protects everything below
	cache     map[string]head // cache for item sizes
	sweeptime time.Time       // next time to age everything
	flight    singleflight.Group
}

const (
	// constant for head.size. Indicates that the given key is deleted.
	sizeDeleted int64 = -1 // any negative number will work

	defaultMissTTL = 1 * time.Minute
	defaultHitTTL  = 1 * time.Hour
)

func newSizeCache() *sizecache {
	return &sizecache{
		cache: make(map[string]head),
	}
}

// Get returns the size associated with key. If key is not in the cache it
// will call the fill function to figure out what the size is. If the key
// does not exist, ErrNotFound is returned.
func (s *sizecache) Get(key string, fill func(key string) (int64, error)) (int64, error) {
	s.m.Lock()
	if time.Now().After(s.sweeptime) {
		go s.age()
	}
	entry := s.cache[key]
	s.m.Unlock()
	if entry.size > 0 {
		return entry.size, nil
	}
	if entry.size < 0 {
		// we have previously determined this key does not exist
		return 0, ErrNotFound
	}
	if fill == nil {
		return 0, nil
	}
	// key is not cached. Probe the backend, letting concurrent callers
	// share one request.
	v, err := s.flight.Do(key, func() (interface{}, error) {
		size, err := fill(key)
		if err == ErrNotFound {
			s.Set(key, sizeDeleted)
		} else if err == nil {
			s.Set(key, size)
		}
		return size, err
	})
	size, _ := v.(int64)
	return size, err
}

// Set caches a size to use for the given key.
// Use sizeDeleted to mark the key as missing.
func (s *sizecache) Set(key string, size int64) {
	ttl := defaultHitTTL
	switch {
	case size < 0:
		ttl = defaultMissTTL
	case size == 0:
		ttl = 0
	}
	s.m.Lock()
	s.cache[key] = head{expire: time.Now().Add(ttl), size: size}
	s.m.Unlock()
}

// age removes expired cache entries. It holds m the entire time.
func (s *sizecache) age() {
	s.m.Lock()
	defer s.m.Unlock()
	now := time.Now()
	s.sweeptime = now.Add(time.Hour) // next sweep in an hour
	for k, v := range s.cache {
		if now.After(v.expire) {
			delete(s.cache, k) // remove aged entries
		}
	}
}
