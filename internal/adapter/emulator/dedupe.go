package emulator

import (
	"sync"
	"time"
)

const DefaultDedupeWindow = 10 * time.Second

// DedupeTable remembers when each peer was last acknowledged. Entries are
// overwritten, never removed.
type DedupeTable struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewDedupeTable(window time.Duration) *DedupeTable {
	return &DedupeTable{
		window: window,
		now:    time.Now,
		last:   map[string]time.Time{},
	}
}

// Allow reports whether peer may be answered now and, if so, stamps it.
func (d *DedupeTable) Allow(peer string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.last[peer]; ok && now.Sub(last) <= d.window {
		return false
	}
	d.last[peer] = now
	return true
}
