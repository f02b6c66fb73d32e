package store

import "testing"

func TestSizeCache(t *testing.T) {
	c := newSizeCache()
	var fills int
	fill := func(key string) (int64, error) {
		fills++
		return 100, nil
	}

	size, err := c.Get("a", fill)
	if err != nil || size != 100 {
		t.Errorf("Got (%d, %v), expected (100, nil)", size, err)
	}
	// second call is served from the cache
	size, err = c.Get("a", fill)
	if err != nil || size != 100 {
		t.Errorf("Got (%d, %v), expected (100, nil)", size, err)
	}
	if fills != 1 {
		t.Errorf("Got %d fills, expected 1", fills)
	}
}

func TestSizeCacheMiss(t *testing.T) {
	c := newSizeCache()
	var fills int
	fill := func(key string) (int64, error) {
		fills++
		return 0, ErrNotFound
	}

	if _, err := c.Get("gone", fill); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
	// the negative answer is remembered
	if _, err := c.Get("gone", fill); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
	if fills != 1 {
		t.Errorf("Got %d fills, expected 1", fills)
	}
}

func TestSizeCacheSet(t *testing.T) {
	c := newSizeCache()
	c.Set("x", 42)
	size, err := c.Get("x", nil)
	if err != nil || size != 42 {
		t.Errorf("Got (%d, %v), expected (42, nil)", size, err)
	}
	c.Set("x", sizeDeleted)
	if _, err := c.Get("x", nil); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
}
