package mapedit

import (
	"sync"

	"voxelsync.ai/internal/sim/geom"
)

// Bus is the FIFO of map edits waiting for the next step. Producers may
// push from any goroutine.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	ignore geom.Box
}

func NewBus() *Bus {
	return &Bus{ignore: geom.Box{Min: geom.V3s16{X: 1}, Max: geom.V3s16{}}}
}

// Push enqueues e unless its whole area lies inside the ignore window.
func (b *Bus) Push(e Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ignore.Empty() {
		a := e.Area()
		if !a.Empty() && b.ignore.Contains(a.Min) && b.ignore.Contains(a.Max) {
			return false
		}
	}
	b.queue = append(b.queue, e)
	return true
}

// IgnoreArea suppresses events inside area until the returned func is
// called. Bulk writers use it when they invalidate the blocks themselves.
func (b *Bus) IgnoreArea(area geom.Box) (restore func()) {
	b.mu.Lock()
	prev := b.ignore
	b.ignore = area
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.ignore = prev
		b.mu.Unlock()
	}
}

// Drain removes and returns every queued event in arrival order.
func (b *Bus) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
