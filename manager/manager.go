// Package manager implements the process-wide interning cache behind managed
// smart strings.
//
// Content is addressed by its xxhash digest. The digest picks a shard (its low
// bits) and a starting slot; slots holding different content are skipped by
// stepping the key by the shard count, so every key of a probe run maps back to
// the same shard. Two distinct strings therefore never share a key, even when
// their digests collide.
package manager

import (
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/swiss"

	"github.com/nyar-vm/nyar-string/logging"
	"github.com/nyar-vm/nyar-string/stats"
)

// Key addresses one interned body. It fits the pointer word of a managed
// string value.
type Key uintptr

const maxShards = 1024

var (
	// ErrNotFound is returned when a key has no live entry.
	ErrNotFound = errors.New("manager: key not found")
	// ErrReferenced is returned when removing an entry that live values still hold.
	ErrReferenced = errors.New("manager: key is still referenced")
	// ErrConfigured is returned by Configure once the default manager exists.
	ErrConfigured = errors.New("manager: default manager already initialised")
)

// HashFunc derives the candidate key for a string.
type HashFunc func(string) uint64

type Options struct {
	// Shards is rounded up to a power of two. Zero picks 4*GOMAXPROCS.
	Shards int
	// Hash defaults to xxhash.Sum64String.
	Hash HashFunc
	// EvictUnreferenced removes an entry as soon as its last reference is released.
	EvictUnreferenced bool
	Tracker           *stats.Tracker
	Logger            *logging.Logger
}

type entry struct {
	body string
	refs atomic.Int64
	// tomb marks a removed slot inside a probe run. Guarded by the shard write lock.
	tomb bool
}

type shard struct {
	mu    sync.RWMutex
	table *swiss.Map[Key, *entry]
	live  int
	bytes int
}

// Manager is a sharded, concurrency-safe interning cache.
type Manager struct {
	shards  []shard
	mask    Key
	hash    HashFunc
	evict   bool
	tracker *stats.Tracker
	logger  *logging.Logger
}

// Stats describes the manager's current contents.
type Stats struct {
	Shards     int
	Entries    int
	Bytes      int
	Tombstones int
}

func New(opts Options) *Manager {
	count := normaliseShards(opts.Shards)
	hash := opts.Hash
	if hash == nil {
		hash = xxhash.Sum64String
	}
	m := &Manager{
		shards:  make([]shard, count),
		mask:    Key(count - 1),
		hash:    hash,
		evict:   opts.EvictUnreferenced,
		tracker: opts.Tracker,
		logger:  opts.Logger.With("manager"),
	}
	for i := range m.shards {
		m.shards[i].table = swiss.New[Key, *entry](8)
	}
	m.logger.Debugf("initialised with %d shards (evict=%t)", count, m.evict)
	return m
}

func normaliseShards(n int) int {
	if n <= 0 {
		n = 4 * runtime.GOMAXPROCS(0)
	}
	if n > maxShards {
		n = maxShards
	}
	if n&(n-1) != 0 {
		n = 1 << bits.Len(uint(n))
	}
	return n
}

func (m *Manager) stride() Key {
	return m.mask + 1
}

func (m *Manager) shardFor(key Key) *shard {
	return &m.shards[key&m.mask]
}

// probe walks the run starting at base. It returns the slot holding text, or
// the first reusable slot, plus the number of slots skipped because they held
// different content.
func (s *shard) probe(base Key, text string, stride Key) (match Key, found *entry, free Key, collisions int) {
	haveFree := false
	for key := base; ; key += stride {
		e, ok := s.table.Get(key)
		if !ok {
			if !haveFree {
				free = key
			}
			return 0, nil, free, collisions
		}
		if e.tomb {
			if !haveFree {
				free, haveFree = key, true
			}
			continue
		}
		if e.body == text {
			return key, e, 0, collisions
		}
		collisions++
	}
}

// Insert interns text and returns its key. Each call registers one reference
// that should eventually be handed back with Release. Equal content always
// yields the same key while the entry lives.
func (m *Manager) Insert(text string) Key {
	base := Key(m.hash(text))
	s := m.shardFor(base)

	s.mu.RLock()
	if key, e, _, _ := s.probe(base, text, m.stride()); e != nil {
		e.refs.Add(1)
		s.mu.RUnlock()
		m.tracker.RecordInsert(true)
		return key
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	key, e, free, collisions := s.probe(base, text, m.stride())
	m.tracker.RecordCollision(collisions)
	if e != nil {
		e.refs.Add(1)
		m.tracker.RecordInsert(true)
		return key
	}

	created := &entry{body: strings.Clone(text)}
	created.refs.Store(1)
	s.table.Put(free, created)
	s.live++
	s.bytes += len(text)
	m.tracker.RecordInsert(false)
	if collisions > 0 {
		m.logger.Debugf("hash %#x collided with %d stored bodies, interned at %#x", uint64(base), collisions, uint64(free))
	}
	return free
}

// Get returns the body stored under key.
func (m *Manager) Get(key Key) (string, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.table.Get(key)
	if !ok || e.tomb {
		return "", false
	}
	return e.body, true
}

// Refs reports the reference count of key, or -1 when it has no entry.
func (m *Manager) Refs(key Key) int64 {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.table.Get(key)
	if !ok || e.tomb {
		return -1
	}
	return e.refs.Load()
}

// Retain registers an additional reference to key.
func (m *Manager) Retain(key Key) bool {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.table.Get(key)
	if !ok || e.tomb {
		return false
	}
	e.refs.Add(1)
	return true
}

// Release hands back one reference. It reports false when key is absent or
// has no outstanding references.
func (m *Manager) Release(key Key) bool {
	s := m.shardFor(key)
	s.mu.RLock()
	e, ok := s.table.Get(key)
	if !ok || e.tomb {
		s.mu.RUnlock()
		return false
	}
	var remaining int64
	for {
		current := e.refs.Load()
		if current <= 0 {
			s.mu.RUnlock()
			return false
		}
		if e.refs.CompareAndSwap(current, current-1) {
			remaining = current - 1
			break
		}
	}
	s.mu.RUnlock()
	m.tracker.RecordRelease()

	if remaining == 0 && m.evict {
		if _, err := m.Remove(key); err == nil {
			m.logger.Debugf("evicted unreferenced key %#x", uint64(key))
		}
	}
	return true
}

// Remove deletes an entry nobody references and returns its body.
func (m *Manager) Remove(key Key) (string, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table.Get(key)
	if !ok || e.tomb {
		return "", fmt.Errorf("remove %#x: %w", uint64(key), ErrNotFound)
	}
	if refs := e.refs.Load(); refs > 0 {
		return "", fmt.Errorf("remove %#x (%d refs): %w", uint64(key), refs, ErrReferenced)
	}
	body := e.body
	s.erase(key, m.stride())
	s.live--
	s.bytes -= len(body)
	m.tracker.RecordRemoval()
	return body, nil
}

// erase frees a slot. A slot followed by more of its run becomes a tombstone so
// later probes keep walking; otherwise it is deleted along with any tombstones
// directly before it.
func (s *shard) erase(key, stride Key) {
	if _, ok := s.table.Get(key + stride); ok {
		e, _ := s.table.Get(key)
		e.tomb = true
		e.body = ""
		return
	}
	s.table.Delete(key)
	for prev := key - stride; ; prev -= stride {
		e, ok := s.table.Get(prev)
		if !ok || !e.tomb {
			return
		}
		s.table.Delete(prev)
	}
}

// Len returns the number of live entries.
func (m *Manager) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += s.live
		s.mu.RUnlock()
	}
	return n
}

// Bytes returns the total size of the stored bodies.
func (m *Manager) Bytes() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += s.bytes
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for each live entry until fn returns false. fn must not call
// back into methods that write to the manager.
func (m *Manager) Range(fn func(Key, string) bool) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		stop := false
		s.table.All(func(key Key, e *entry) bool {
			if e.tomb {
				return true
			}
			if !fn(key, e.body) {
				stop = true
				return false
			}
			return true
		})
		s.mu.RUnlock()
		if stop {
			return
		}
	}
}

func (m *Manager) Stats() Stats {
	st := Stats{Shards: len(m.shards)}
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		st.Entries += s.live
		st.Bytes += s.bytes
		st.Tombstones += s.table.Len() - s.live
		s.mu.RUnlock()
	}
	return st
}

// Tracker returns the tracker the manager reports to, which may be nil.
func (m *Manager) Tracker() *stats.Tracker {
	return m.tracker
}
