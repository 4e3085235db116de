package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/nyar-vm/nyar-string/logging"
	"github.com/nyar-vm/nyar-string/stats"
)

func constantHash(string) uint64 { return 42 }

func TestInsertIsIdempotent(t *testing.T) {
	m := New(Options{Shards: 4})
	first := m.Insert("a string long enough to be managed")
	second := m.Insert("a string long enough to be managed")
	if first != second {
		t.Fatalf("expected identical keys, got %#x and %#x", first, second)
	}
	body, ok := m.Get(first)
	if !ok || body != "a string long enough to be managed" {
		t.Fatalf("unexpected body %q (ok=%t)", body, ok)
	}
	if m.Len() != 1 {
		t.Fatalf("expected one stored body, got %d", m.Len())
	}
	if refs := m.Refs(first); refs != 2 {
		t.Fatalf("expected two references, got %d", refs)
	}
}

func TestInsertClonesBody(t *testing.T) {
	m := New(Options{Shards: 1})
	buf := []byte("mutable source buffer")
	key := m.Insert(string(buf))
	buf[0] = 'X'
	if body, _ := m.Get(key); body != "mutable source buffer" {
		t.Fatalf("stored body changed with its source: %q", body)
	}
}

func TestCollidingContentStaysDistinct(t *testing.T) {
	tracker := stats.NewTracker(stats.Options{})
	m := New(Options{Shards: 8, Hash: constantHash, Tracker: tracker})

	a := m.Insert("alpha")
	b := m.Insert("beta")
	c := m.Insert("gamma")
	if a == b || b == c || a == c {
		t.Fatalf("colliding content must get distinct keys: %#x %#x %#x", a, b, c)
	}
	for key, want := range map[Key]string{a: "alpha", b: "beta", c: "gamma"} {
		if got, ok := m.Get(key); !ok || got != want {
			t.Fatalf("key %#x: expected %q, got %q", key, want, got)
		}
		if key&m.mask != Key(42)&m.mask {
			t.Fatalf("probe left the home shard: %#x", key)
		}
	}
	if again := m.Insert("beta"); again != b {
		t.Fatalf("re-inserting beta should return %#x, got %#x", b, again)
	}
	if snapshot := tracker.Snapshot(); snapshot.Collisions == 0 {
		t.Fatalf("expected collisions to be recorded: %+v", snapshot)
	}
}

func TestRemoveRequiresNoReferences(t *testing.T) {
	m := New(Options{Shards: 2})
	key := m.Insert("referenced body")
	if _, err := m.Remove(key); !errors.Is(err, ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}
	if !m.Release(key) {
		t.Fatalf("expected release to succeed")
	}
	if m.Release(key) {
		t.Fatalf("releasing past zero must fail")
	}
	body, err := m.Remove(key)
	if err != nil || body != "referenced body" {
		t.Fatalf("unexpected remove result %q %v", body, err)
	}
	if _, ok := m.Get(key); ok {
		t.Fatalf("removed key still readable")
	}
	if _, err := m.Remove(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if m.Len() != 0 || m.Bytes() != 0 {
		t.Fatalf("expected empty manager, got len=%d bytes=%d", m.Len(), m.Bytes())
	}
}

func TestRemoveInsideProbeRun(t *testing.T) {
	m := New(Options{Shards: 4, Hash: constantHash})
	a := m.Insert("first")
	b := m.Insert("second")
	c := m.Insert("third")

	m.Release(b)
	if _, err := m.Remove(b); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if st := m.Stats(); st.Tombstones != 1 || st.Entries != 2 {
		t.Fatalf("expected a tombstone in the middle of the run: %+v", st)
	}
	if again := m.Insert("third"); again != c {
		t.Fatalf("lookup must walk past the tombstone: got %#x want %#x", again, c)
	}
	reused := m.Insert("fourth")
	if reused != b {
		t.Fatalf("expected the tombstone slot %#x to be reused, got %#x", b, reused)
	}

	for _, key := range []Key{a, c, c, reused} {
		m.Release(key)
	}
	for _, key := range []Key{c, reused, a} {
		if _, err := m.Remove(key); err != nil {
			t.Fatalf("remove %#x: %v", key, err)
		}
	}
	if st := m.Stats(); st.Entries != 0 || st.Tombstones != 0 {
		t.Fatalf("expected trailing tombstones to be reclaimed: %+v", st)
	}
}

func TestEvictUnreferenced(t *testing.T) {
	m := New(Options{Shards: 1, EvictUnreferenced: true})
	key := m.Insert("short lived")
	if !m.Retain(key) {
		t.Fatalf("retain failed")
	}
	m.Release(key)
	if _, ok := m.Get(key); !ok {
		t.Fatalf("entry evicted while still referenced")
	}
	m.Release(key)
	if _, ok := m.Get(key); ok {
		t.Fatalf("expected unreferenced entry to be evicted")
	}
}

func TestConcurrentInsertSameContent(t *testing.T) {
	m := New(Options{Shards: 16})
	const workers = 32
	keys := make([]Key, workers)

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			keys[i] = m.Insert("shared content inserted from every goroutine")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range keys {
		if key != keys[0] {
			t.Fatalf("goroutines observed different keys: %#x vs %#x", key, keys[0])
		}
	}
	if m.Len() != 1 {
		t.Fatalf("expected exactly one stored body, got %d", m.Len())
	}
	if refs := m.Refs(keys[0]); refs != workers {
		t.Fatalf("expected %d references, got %d", workers, refs)
	}
}

func TestConcurrentMixedWorkload(t *testing.T) {
	m := New(Options{Shards: 4, Hash: func(s string) uint64 { return uint64(len(s)) }})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				text := fmt.Sprintf("value-%03d", i%50)
				key := m.Insert(text)
				if got, ok := m.Get(key); !ok || got != text {
					t.Errorf("worker %d: expected %q, got %q", w, text, got)
					return
				}
				m.Release(key)
			}
		}(w)
	}
	wg.Wait()
	if m.Len() != 50 {
		t.Fatalf("expected 50 distinct bodies, got %d", m.Len())
	}
}

func TestRangeAndStats(t *testing.T) {
	m := New(Options{Shards: 3})
	if st := m.Stats(); st.Shards != 4 {
		t.Fatalf("expected shard count rounded to 4, got %d", st.Shards)
	}
	for _, s := range []string{"one", "two", "three"} {
		m.Insert(s)
	}
	seen := make(map[string]bool)
	m.Range(func(key Key, body string) bool {
		seen[body] = true
		return true
	})
	if len(seen) != 3 {
		t.Fatalf("range visited %v", seen)
	}
	visits := 0
	m.Range(func(Key, string) bool {
		visits++
		return false
	})
	if visits != 1 {
		t.Fatalf("range should stop early, visited %d", visits)
	}
	if m.Bytes() != len("one")+len("two")+len("three") {
		t.Fatalf("unexpected byte total %d", m.Bytes())
	}
}

func TestCollisionIsLogged(t *testing.T) {
	var console bytes.Buffer
	logger, err := logging.New(logging.Options{Level: logging.LevelDebug, Console: &console})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	m := New(Options{Shards: 1, Hash: constantHash, Logger: logger})
	m.Insert("left")
	m.Insert("right")
	if !strings.Contains(console.String(), "collided with 1 stored bodies") {
		t.Fatalf("expected collision log, got %s", console.String())
	}
}

func TestNormaliseShards(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 5: 8, 1000: 1024, 5000: 1024}
	for in, want := range cases {
		if got := normaliseShards(in); got != want {
			t.Fatalf("normaliseShards(%d) = %d, want %d", in, got, want)
		}
	}
	if got := normaliseShards(0); got&(got-1) != 0 || got == 0 {
		t.Fatalf("default shard count must be a power of two, got %d", got)
	}
}
