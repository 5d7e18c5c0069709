package pool

import (
	"sync"
	"time"
)

const (
	defaultWindow         = 2 * time.Minute
	maxSightingsPerTarget = 1000
)

type sighting struct {
	hash string
	at   time.Time
}

// Window counts arbitrage-pattern transactions per target over a sliding
// time window. A transaction is counted once however often it is seen while
// it stays in the window. Safe for concurrent use.
type Window struct {
	mu        sync.Mutex
	span      time.Duration
	sightings map[string][]sighting
	seen      map[string]struct{}
}

// NewWindow creates a sliding window; span <= 0 uses two minutes.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = defaultWindow
	}
	return &Window{
		span:      span,
		sightings: make(map[string][]sighting),
		seen:      make(map[string]struct{}),
	}
}

// Record notes the transaction hash sent to target at the given time. It
// reports false when the target is empty or the hash is already counted.
func (w *Window) Record(target, hash string, at time.Time) bool {
	key := normalize(target)
	if key == "" || hash == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[hash]; dup {
		return false
	}
	w.seen[hash] = struct{}{}

	entries := append(w.sightings[key], sighting{hash: hash, at: at})
	if over := len(entries) - maxSightingsPerTarget; over > 0 {
		for _, s := range entries[:over] {
			delete(w.seen, s.hash)
		}
		entries = entries[over:]
	}
	w.sightings[key] = entries
	return true
}

// Counts prunes expired sightings and returns the live count per target.
func (w *Window) Counts(now time.Time) map[string]int {
	cutoff := now.Add(-w.span)

	w.mu.Lock()
	defer w.mu.Unlock()

	counts := make(map[string]int, len(w.sightings))
	for target, entries := range w.sightings {
		start := 0
		for start < len(entries) && !entries[start].at.After(cutoff) {
			delete(w.seen, entries[start].hash)
			start++
		}
		if start == len(entries) {
			delete(w.sightings, target)
			continue
		}
		if start > 0 {
			w.sightings[target] = entries[start:]
		}
		counts[target] = len(entries) - start
	}
	return counts
}
