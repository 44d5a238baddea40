// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe Registry for high concurrency.

package session

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// ErrDuplicateID is returned when an id is registered twice.
var ErrDuplicateID = errors.New("session: duplicate id")

// Entry is anything the registry can hold.
type Entry interface {
	ID() string
}

// Registry implements sharded storage for entries.
type Registry[T Entry] struct {
	shards []*shard[T]
	mask   uint32
	count  atomic.Int64
}

type shard[T Entry] struct {
	mu      sync.RWMutex
	entries map[string]T
}

// NewRegistry constructs a sharded registry with shardCount shards.
func NewRegistry[T Entry](shardCount int) *Registry[T] {
	if shardCount <= 0 {
		shardCount = 16
	}
	// find power-of-two shards for bitmasking
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard[T], m)
	for i := range shards {
		shards[i] = &shard[T]{entries: make(map[string]T)}
	}
	return &Registry[T]{shards: shards, mask: m - 1}
}

// shard picks the correct shard for a given id.
func (r *Registry[T]) shard(id string) *shard[T] {
	return r.shards[fnv32(id)&r.mask]
}

// Add registers e under e.ID().
func (r *Registry[T]) Add(e T) error {
	id := e.ID()
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; ok {
		return ErrDuplicateID
	}
	sh.entries[id] = e
	r.count.Add(1)
	return nil
}

// Get fetches an entry if present.
func (r *Registry[T]) Get(id string) (T, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[id]
	return e, ok
}

// Delete removes id and reports whether it was present.
func (r *Registry[T]) Delete(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; !ok {
		return false
	}
	delete(sh.entries, id)
	r.count.Add(-1)
	return true
}

// Len returns the number of registered entries.
func (r *Registry[T]) Len() int {
	return int(r.count.Load())
}

// Snapshot copies all entries. The registry may change while the caller
// walks the result.
func (r *Registry[T]) Snapshot() []T {
	out := make([]T, 0, r.Len())
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			out = append(out, e)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Range applies fn to all entries until fn returns false. fn must not
// call back into the registry.
func (r *Registry[T]) Range(fn func(T) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if !fn(e) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
