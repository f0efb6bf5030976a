// Package session holds the per-client synchronization state and the
// table of connected clients.
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/transport"
)

type State = protocol.ClientState

const (
	Disconnecting   = protocol.StateDisconnecting
	Created         = protocol.StateCreated
	InitSent        = protocol.StateInitSent
	DefinitionsSent = protocol.StateDefinitionsSent
	Active          = protocol.StateActive
)

var (
	ErrStateTooLow = errors.New("session: command not allowed in current state")
	ErrRegression  = errors.New("session: state regression")
)

// Client is the synchronization state of one connected peer. It is owned
// by the server goroutine; only the Table is shared with transport
// goroutines.
type Client struct {
	Peer    transport.PeerID
	Address string
	Name    string

	ConnectedAt time.Time

	// state is read by admin and metrics goroutines through the Table.
	state      atomic.Uint32
	serVer     uint8
	protoVer   uint16
	handshaked bool

	knownBlocks  map[geom.V3s16]struct{}
	staleBlocks  map[geom.V3s16]struct{}
	knownObjects map[uint16]struct{}

	// Own player object id, zero before the player is placed.
	PlayerObject uint16

	wantedRange int
	budget      int

	CameraPos geom.V3f
	CameraDir geom.V3f
	Pitch     float32
	Yaw       float32

	violations int
}

func New(peer transport.PeerID, addr string, now time.Time) *Client {
	c := &Client{
		Peer:         peer,
		Address:      addr,
		ConnectedAt:  now,
		knownBlocks:  map[geom.V3s16]struct{}{},
		staleBlocks:  map[geom.V3s16]struct{}{},
		knownObjects: map[uint16]struct{}{},
		wantedRange:  1,
	}
	c.state.Store(uint32(Created))
	return c
}

func (c *Client) State() State { return State(c.state.Load()) }

// Transition advances the handshake by exactly one step, or to
// Disconnecting from any state.
func (c *Client) Transition(to State) error {
	cur := c.State()
	if to == Disconnecting {
		c.state.Store(uint32(Disconnecting))
		return nil
	}
	if cur == Disconnecting || to != cur+1 {
		return fmt.Errorf("%w: %s -> %s", ErrRegression, cur, to)
	}
	c.state.Store(uint32(to))
	return nil
}

// Allow reports whether a command with minimum state min may be handled.
func (c *Client) Allow(min State) error {
	if cur := c.State(); cur < min {
		return fmt.Errorf("%w: have %s, need %s", ErrStateTooLow, cur, min)
	}
	return nil
}

// SetVersions records the negotiated versions. They cannot change once
// the handshake has completed.
func (c *Client) SetVersions(serVer uint8, protoVer uint16) error {
	if c.handshaked {
		return fmt.Errorf("%w: versions already negotiated", ErrRegression)
	}
	c.serVer = serVer
	c.protoVer = protoVer
	c.handshaked = true
	return nil
}

func (c *Client) SerializationVersion() uint8 { return c.serVer }
func (c *Client) ProtocolVersion() uint16     { return c.protoVer }

// WantedRange is in blocks.
func (c *Client) WantedRange() int { return c.wantedRange }

// SetWantedRange clamps r to [1, max].
func (c *Client) SetWantedRange(r, max int) {
	if r < 1 {
		r = 1
	}
	if max >= 1 && r > max {
		r = max
	}
	c.wantedRange = r
}

// CameraBlock is the block containing the camera.
func (c *Client) CameraBlock() geom.V3s16 {
	return geom.NodeToBlock(geom.WorldToNode(c.CameraPos))
}

func (c *Client) KnowsBlock(p geom.V3s16) bool {
	_, ok := c.knownBlocks[p]
	return ok
}

// BlockStale reports whether the client had p before it was invalidated.
func (c *Client) BlockStale(p geom.V3s16) bool {
	_, ok := c.staleBlocks[p]
	return ok
}

func (c *Client) MarkBlockSent(p geom.V3s16) {
	c.knownBlocks[p] = struct{}{}
	delete(c.staleBlocks, p)
}

// InvalidateBlock forgets p so it is sent again. It reports whether the
// client knew the block.
func (c *Client) InvalidateBlock(p geom.V3s16) bool {
	if _, ok := c.knownBlocks[p]; !ok {
		return false
	}
	delete(c.knownBlocks, p)
	c.staleBlocks[p] = struct{}{}
	return true
}

// ForgetBlock drops p after the client deleted it from its own cache.
func (c *Client) ForgetBlock(p geom.V3s16) {
	delete(c.knownBlocks, p)
	delete(c.staleBlocks, p)
}

func (c *Client) KnownBlockCount() int { return len(c.knownBlocks) }

func (c *Client) KnowsObject(id uint16) bool {
	_, ok := c.knownObjects[id]
	return ok
}

func (c *Client) AddKnownObject(id uint16)    { c.knownObjects[id] = struct{}{} }
func (c *Client) RemoveKnownObject(id uint16) { delete(c.knownObjects, id) }

// KnownObjects returns a copy of the known object ids.
func (c *Client) KnownObjects() []uint16 {
	out := make([]uint16, 0, len(c.knownObjects))
	for id := range c.knownObjects {
		out = append(out, id)
	}
	return out
}

// ResetBudget sets the number of blocks this client may receive this tick.
func (c *Client) ResetBudget(n int) { c.budget = n }

// TakeBudget consumes one unit of the per-tick send budget.
func (c *Client) TakeBudget() bool {
	if c.budget <= 0 {
		return false
	}
	c.budget--
	return true
}

func (c *Client) Budget() int { return c.budget }

// AddViolation counts one malformed or out-of-state packet and returns the
// running total.
func (c *Client) AddViolation() int {
	c.violations++
	return c.violations
}

func (c *Client) Violations() int { return c.violations }
