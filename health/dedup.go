package health

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Deduper suppresses repeats of the same key inside a window.
type Deduper struct {
	window time.Duration
	clock  clock.PassiveClock

	mu   sync.Mutex
	last map[string]time.Time
}

func NewDeduper(window time.Duration, clk clock.PassiveClock) *Deduper {
	return &Deduper{window: window, clock: clk, last: make(map[string]time.Time)}
}

// Allow reports whether key was not seen within the window, and records it.
func (d *Deduper) Allow(key string) bool {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, t := range d.last {
		if now.Sub(t) >= d.window {
			delete(d.last, k)
		}
	}
	if _, seen := d.last[key]; seen {
		return false
	}
	d.last[key] = now
	return true
}

func dedupKey(instanceID, reason string) string {
	return instanceID + "/" + reason
}
