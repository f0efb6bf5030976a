package session

import (
	"errors"
	"testing"
	"time"

	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/transport"
)

func TestHandshakeTransitions(t *testing.T) {
	c := New(2, "addr", time.Now())
	for _, to := range []State{InitSent, DefinitionsSent, Active} {
		if err := c.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if c.State() != Active {
		t.Fatalf("state=%s", c.State())
	}
	if err := c.Transition(InitSent); !errors.Is(err, ErrRegression) {
		t.Fatalf("expected regression, got %v", err)
	}
	if err := c.Transition(Disconnecting); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := c.Transition(Active); !errors.Is(err, ErrRegression) {
		t.Fatalf("no way back from Disconnecting, got %v", err)
	}
}

func TestTransitionCannotSkip(t *testing.T) {
	c := New(2, "addr", time.Now())
	if err := c.Transition(Active); !errors.Is(err, ErrRegression) {
		t.Fatalf("skip accepted: %v", err)
	}
	if err := c.Transition(InitSent); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := c.Transition(InitSent); !errors.Is(err, ErrRegression) {
		t.Fatalf("repeat INIT accepted: %v", err)
	}
}

func TestAllow(t *testing.T) {
	c := New(2, "addr", time.Now())
	if err := c.Allow(Active); !errors.Is(err, ErrStateTooLow) {
		t.Fatalf("expected ErrStateTooLow, got %v", err)
	}
	if err := c.Allow(Created); err != nil {
		t.Fatalf("created gate: %v", err)
	}
}

func TestVersionsImmutable(t *testing.T) {
	c := New(2, "addr", time.Now())
	if err := c.SetVersions(29, 39); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := c.SetVersions(28, 37); err == nil {
		t.Fatalf("second set accepted")
	}
	if c.SerializationVersion() != 29 || c.ProtocolVersion() != 39 {
		t.Fatalf("versions changed")
	}
}

func TestKnownBlocksAndStaleness(t *testing.T) {
	c := New(2, "addr", time.Now())
	p := geom.V3s16{X: 1}
	if c.InvalidateBlock(p) {
		t.Fatalf("invalidating an unknown block reported true")
	}
	c.MarkBlockSent(p)
	if !c.KnowsBlock(p) || c.BlockStale(p) {
		t.Fatalf("sent block not known")
	}
	if !c.InvalidateBlock(p) || c.KnowsBlock(p) || !c.BlockStale(p) {
		t.Fatalf("invalidate did not mark stale")
	}
	c.MarkBlockSent(p)
	if c.BlockStale(p) {
		t.Fatalf("resend should clear staleness")
	}
	c.ForgetBlock(p)
	if c.KnowsBlock(p) || c.BlockStale(p) || c.KnownBlockCount() != 0 {
		t.Fatalf("forget left state behind")
	}
}

func TestWantedRangeClamp(t *testing.T) {
	c := New(2, "addr", time.Now())
	c.SetWantedRange(50, 12)
	if c.WantedRange() != 12 {
		t.Fatalf("upper clamp: %d", c.WantedRange())
	}
	c.SetWantedRange(0, 12)
	if c.WantedRange() != 1 {
		t.Fatalf("lower clamp: %d", c.WantedRange())
	}
}

func TestBudget(t *testing.T) {
	c := New(2, "addr", time.Now())
	c.ResetBudget(2)
	if !c.TakeBudget() || !c.TakeBudget() || c.TakeBudget() {
		t.Fatalf("budget not enforced")
	}
}

func TestTable(t *testing.T) {
	tb := NewTable()
	a := New(3, "a", time.Now())
	b := New(2, "b", time.Now())
	a.Name, b.Name = "alice", "bob"
	if !tb.Add(a) || !tb.Add(b) || tb.Add(a) {
		t.Fatalf("add semantics wrong")
	}
	_ = b.Transition(InitSent)

	snap := tb.Snapshot(Created)
	if len(snap) != 2 || snap[0].Peer != 2 {
		t.Fatalf("snapshot not ordered: %+v", snap)
	}
	if n := tb.CountAtLeast(InitSent); n != 1 {
		t.Fatalf("CountAtLeast=%d", n)
	}
	if _, ok := tb.ByName("alice", InitSent); ok {
		t.Fatalf("ByName ignored the state filter")
	}
	if c, ok := tb.GetMin(transport.PeerID(2), InitSent); !ok || c != b {
		t.Fatalf("GetMin failed")
	}
	if names := tb.Names(Created); len(names) != 2 || names[0] != "alice" {
		t.Fatalf("names=%v", names)
	}
	if _, ok := tb.Remove(3); !ok || tb.Len() != 1 {
		t.Fatalf("remove failed")
	}
}
