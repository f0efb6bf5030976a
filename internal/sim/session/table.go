package session

import (
	"sort"
	"sync"

	"voxelsync.ai/internal/transport"
)

// Table is the client list. Insertion, removal and iteration are guarded
// by its lock; client fields are only touched on the server goroutine.
type Table struct {
	mu      sync.RWMutex
	clients map[transport.PeerID]*Client
}

func NewTable() *Table {
	return &Table{clients: map[transport.PeerID]*Client{}}
}

// Add inserts c. It returns false if the peer is already present.
func (t *Table) Add(c *Client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[c.Peer]; ok {
		return false
	}
	t.clients[c.Peer] = c
	return true
}

func (t *Table) Remove(peer transport.PeerID) (*Client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[peer]
	if ok {
		delete(t.clients, peer)
	}
	return c, ok
}

func (t *Table) Get(peer transport.PeerID) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[peer]
	return c, ok
}

// GetMin returns the client only if it has reached min.
func (t *Table) GetMin(peer transport.PeerID, min State) (*Client, bool) {
	c, ok := t.Get(peer)
	if !ok || c.State() < min {
		return nil, false
	}
	return c, true
}

// Snapshot returns the clients at or above min ordered by peer id.
func (t *Table) Snapshot(min State) []*Client {
	t.mu.RLock()
	out := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		if c.State() >= min {
			out = append(out, c)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// CountAtLeast counts clients at or above min.
func (t *Table) CountAtLeast(min State) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.clients {
		if c.State() >= min {
			n++
		}
	}
	return n
}

// ByName finds a client at or above min by player name.
func (t *Table) ByName(name string, min State) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.clients {
		if c.Name == name && c.State() >= min {
			return c, true
		}
	}
	return nil, false
}

// Names lists the names of clients at or above min, sorted.
func (t *Table) Names(min State) []string {
	cs := t.Snapshot(min)
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.Name != "" {
			out = append(out, c.Name)
		}
	}
	sort.Strings(out)
	return out
}

// StateCounts tallies clients by state name.
func (t *Table) StateCounts() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := map[string]int{}
	for _, c := range t.clients {
		out[c.State().String()]++
	}
	return out
}
