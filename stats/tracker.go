package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nyar-vm/nyar-string/logging"
)

type Options struct {
	Logger   *logging.Logger
	Interval time.Duration
}

// Tracker counts interning and construction events. Counters are atomic so
// recording never serialises the manager's shards. All methods accept a nil
// receiver.
type Tracker struct {
	inserts    atomic.Int64
	hits       atomic.Int64
	collisions atomic.Int64
	removals   atomic.Int64
	releases   atomic.Int64
	adopted    atomic.Int64
	freed      atomic.Int64

	kindMu sync.Mutex
	kinds  map[string]int64

	mu       sync.Mutex
	start    time.Time
	logger   *logging.Logger
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

type Snapshot struct {
	Inserts    int64
	Hits       int64
	Collisions int64
	Removals   int64
	Releases   int64
	Adopted    int64
	Freed      int64
	Kinds      map[string]int64
	Duration   time.Duration
}

func NewTracker(opts Options) *Tracker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Tracker{
		logger:   opts.Logger,
		interval: interval,
		kinds:    make(map[string]int64),
		done:     make(chan struct{}),
	}
}

func (t *Tracker) Start(ctxDone <-chan struct{}) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.start = time.Now()
	if t.logger == nil {
		t.mu.Unlock()
		return
	}
	t.ticker = time.NewTicker(t.interval)
	ticker := t.ticker
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				t.logSnapshot(false)
			case <-ctxDone:
				return
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Tracker) Stop() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.stopOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.ticker != nil {
			t.ticker.Stop()
		}
		t.mu.Unlock()
		t.logSnapshot(true)
	})
	return t.Snapshot()
}

// RecordInsert counts one Insert call; hit reports whether equal content was
// already stored.
func (t *Tracker) RecordInsert(hit bool) {
	if t == nil {
		return
	}
	t.inserts.Add(1)
	if hit {
		t.hits.Add(1)
	}
}

// RecordCollision counts probe steps over slots holding different content.
func (t *Tracker) RecordCollision(steps int) {
	if t == nil || steps <= 0 {
		return
	}
	t.collisions.Add(int64(steps))
}

func (t *Tracker) RecordRemoval() {
	if t == nil {
		return
	}
	t.removals.Add(1)
}

func (t *Tracker) RecordRelease() {
	if t == nil {
		return
	}
	t.releases.Add(1)
}

func (t *Tracker) RecordAdopt() {
	if t == nil {
		return
	}
	t.adopted.Add(1)
}

func (t *Tracker) RecordFree() {
	if t == nil {
		return
	}
	t.freed.Add(1)
}

// RecordKind counts one constructed value of the named representation.
func (t *Tracker) RecordKind(kind string) {
	if t == nil {
		return
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return
	}
	t.kindMu.Lock()
	t.kinds[kind]++
	t.kindMu.Unlock()
}

func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.kindMu.Lock()
	kinds := make(map[string]int64, len(t.kinds))
	for key, value := range t.kinds {
		kinds[key] = value
	}
	t.kindMu.Unlock()

	t.mu.Lock()
	duration := time.Duration(0)
	if !t.start.IsZero() {
		duration = time.Since(t.start)
	}
	t.mu.Unlock()

	return Snapshot{
		Inserts:    t.inserts.Load(),
		Hits:       t.hits.Load(),
		Collisions: t.collisions.Load(),
		Removals:   t.removals.Load(),
		Releases:   t.releases.Load(),
		Adopted:    t.adopted.Load(),
		Freed:      t.freed.Load(),
		Kinds:      kinds,
		Duration:   duration,
	}
}

// HitRate is the percentage of inserts that found their content already interned.
func (s Snapshot) HitRate() float64 {
	if s.Inserts == 0 {
		return 0
	}
	return (float64(s.Hits) / float64(s.Inserts)) * 100
}

func (s Snapshot) Render() string {
	parts := []string{
		fmt.Sprintf("inserts=%d", s.Inserts),
		fmt.Sprintf("hit_rate=%.1f%%", s.HitRate()),
		fmt.Sprintf("collisions=%d", s.Collisions),
		fmt.Sprintf("removals=%d", s.Removals),
		fmt.Sprintf("heap=%d/%d", s.Freed, s.Adopted),
		fmt.Sprintf("duration=%s", s.Duration.Truncate(time.Millisecond)),
	}
	if len(s.Kinds) > 0 {
		parts = append(parts, fmt.Sprintf("kinds=%s", FormatBreakdown(s.Kinds, 0)))
	}
	return strings.Join(parts, " | ")
}

func (t *Tracker) logSnapshot(final bool) {
	if t == nil || t.logger == nil {
		return
	}
	snapshot := t.Snapshot()
	if final {
		t.logger.Infof("Interning statistics: %s", snapshot.Render())
		return
	}
	t.logger.Infof("Stats update: %s", snapshot.Render())
}

// FormatBreakdown converts a map of counts into a human readable string,
// largest first.
func FormatBreakdown(counts map[string]int64, limit int) string {
	if limit <= 0 {
		limit = len(counts)
	}
	type item struct {
		name  string
		count int64
	}
	entries := make([]item, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, item{name: name, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count == entries[j].count {
			return entries[i].name < entries[j].name
		}
		return entries[i].count > entries[j].count
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	formatted := make([]string, 0, len(entries))
	for _, entry := range entries {
		formatted = append(formatted, fmt.Sprintf("%s=%d", entry.name, entry.count))
	}
	return strings.Join(formatted, ", ")
}
