// Package arena tracks heap buffers owned by smart strings. A smart string
// stores only a word-sized address, which the garbage collector cannot see, so
// the arena keeps each adopted buffer reachable until its owner frees it.
package arena

import (
	"sync"
	"unsafe"

	"github.com/tidwall/hashmap"

	"github.com/nyar-vm/nyar-string/stats"
)

type Arena struct {
	mu      sync.RWMutex
	owned   hashmap.Map[uintptr, []byte]
	bytes   int
	tracker *stats.Tracker
}

func New(tracker *stats.Tracker) *Arena {
	return &Arena{tracker: tracker}
}

var (
	defaultOnce    sync.Once
	defaultArena   *Arena
	defaultTracker *stats.Tracker
	configured     bool
	configMu       sync.Mutex
)

// Configure attaches a tracker to the process-wide arena. It reports false
// once Default has been called.
func Configure(tracker *stats.Tracker) bool {
	configMu.Lock()
	defer configMu.Unlock()
	if configured {
		return false
	}
	defaultTracker = tracker
	return true
}

// Default returns the process-wide arena.
func Default() *Arena {
	defaultOnce.Do(func() {
		configMu.Lock()
		configured = true
		defaultArena = New(defaultTracker)
		configMu.Unlock()
	})
	return defaultArena
}

// Adopt takes ownership of buf and returns the address of its first byte.
// Zero-capacity buffers are replaced by a private one-byte allocation so every
// owner has a distinct address. It reports false if the address is already
// owned, which means the caller handed over the same memory twice.
func (a *Arena) Adopt(buf []byte) (uintptr, bool) {
	if cap(buf) == 0 {
		buf = make([]byte, 0, 1)
	}
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.owned.Get(ptr); exists {
		return 0, false
	}
	a.owned.Set(ptr, buf)
	a.bytes += len(buf)
	a.tracker.RecordAdopt()
	return ptr, true
}

// Load returns a read-only view of the first n bytes owned at ptr. It reports
// false once the buffer has been freed.
func (a *Arena) Load(ptr uintptr, n int) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	buf, ok := a.owned.Get(ptr)
	if !ok || n > len(buf) {
		return "", false
	}
	if n == 0 {
		return "", true
	}
	return unsafe.String(unsafe.SliceData(buf), n), true
}

// Free releases the buffer at ptr. Only the first call for an address succeeds.
func (a *Arena) Free(ptr uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.owned.Delete(ptr)
	if !ok {
		return false
	}
	a.bytes -= len(buf)
	a.tracker.RecordFree()
	return true
}

// Owns reports whether ptr is currently owned.
func (a *Arena) Owns(ptr uintptr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.owned.Get(ptr)
	return ok
}

func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owned.Len()
}

func (a *Arena) Bytes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bytes
}
