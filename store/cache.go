// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"bytes"
	"sync"
	"time"
)

// NewCache returns an empty [*Cache] whose entries live for ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		TTL:     ttl,
		TimeNow: time.Now,
		entries: map[string]cacheEntry{},
	}
}

// Cache is a key-value store whose entries expire.
//
// An entry set at t is visible while now - t <= TTL. Expired entries are
// evicted lazily by [*Cache.Get] or in bulk by [*Cache.Cleanup].
type Cache struct {
	// TTL is the lifetime of each entry.
	//
	// Set by [NewCache] to the user-provided value.
	TTL time.Duration

	// TimeNow is the function to get the current time.
	//
	// Set by [NewCache] to [time.Now].
	TimeNow func() time.Time

	entries map[string]cacheEntry
	mu      sync.Mutex
}

type cacheEntry struct {
	stored time.Time
	value  []byte
}

func (c *Cache) expired(entry cacheEntry, now time.Time) bool {
	return now.Sub(entry.stored) > c.TTL
}

// Get returns a copy of the live value stored under key.
//
// An expired entry is removed and reported as missing.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.entries[key]
	if !found {
		return nil, false
	}
	if c.expired(entry, c.TimeNow()) {
		delete(c.entries, key)
		return nil, false
	}
	return bytes.Clone(entry.value), true
}

// Set stores a copy of value under key and restarts its lifetime.
func (c *Cache) Set(key string, value []byte) {
	value = bytes.Clone(value)
	if value == nil {
		value = []byte{}
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{stored: c.TimeNow(), value: value}
	c.mu.Unlock()
}

// Remove deletes key.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear deletes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Cleanup removes every expired entry and returns how many it removed.
func (c *Cache) Cleanup() (count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.TimeNow()
	for key, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, key)
			count++
		}
	}
	return
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
