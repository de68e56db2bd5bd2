// SPDX-License-Identifier: GPL-3.0-or-later

// Package store contains the in-memory and file-backed stores used next to
// [seclink] links: an unbounded key-value [*Data], a TTL [*Cache] and a
// rooted [*File] store.
//
// Stores copy values on the way in and on the way out, so callers may reuse
// their buffers.
package store

import (
	"bytes"
	"sync"
)

// NewData returns an empty [*Data].
func NewData() *Data {
	return &Data{values: map[string][]byte{}}
}

// Data is an unbounded key-value store safe for concurrent use.
type Data struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// Get returns a copy of the value stored under key.
func (d *Data) Get(key string) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	value, found := d.values[key]
	if !found {
		return nil, false
	}
	return bytes.Clone(value), true
}

// Set stores a copy of value under key, replacing any previous value.
func (d *Data) Set(key string, value []byte) {
	value = bytes.Clone(value)
	if value == nil {
		value = []byte{}
	}
	d.mu.Lock()
	d.values[key] = value
	d.mu.Unlock()
}

// Remove deletes key. Removing a missing key is a no-op.
func (d *Data) Remove(key string) {
	d.mu.Lock()
	delete(d.values, key)
	d.mu.Unlock()
}

// Clear deletes every key.
func (d *Data) Clear() {
	d.mu.Lock()
	clear(d.values)
	d.mu.Unlock()
}

// Len returns the number of keys.
func (d *Data) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.values)
}
