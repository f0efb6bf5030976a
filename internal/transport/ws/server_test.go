package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelsync.ai/internal/transport"
)

type handlerRecorder struct {
	added   chan transport.PeerID
	removed chan transport.PeerID
}

func newRecorder() *handlerRecorder {
	return &handlerRecorder{added: make(chan transport.PeerID, 4), removed: make(chan transport.PeerID, 4)}
}

func (h *handlerRecorder) PeerAdded(p transport.PeerID)           { h.added <- p }
func (h *handlerRecorder) PeerRemoved(p transport.PeerID, _ bool) { h.removed <- p }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func waitPeer(t *testing.T, ch chan transport.PeerID) transport.PeerID {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for peer event")
	}
	return 0
}

func TestServerRoundTrip(t *testing.T) {
	s := NewServer(Options{})
	h := newRecorder()
	s.SetHandler(h)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()
	peer := waitPeer(t, h.added)
	if peer != transport.FirstClientPeerID {
		t.Fatalf("first peer id = %d", peer)
	}

	if err := c.WriteMessage(websocket.BinaryMessage, EncodeFrame(1, true, []byte("abc"))); err != nil {
		t.Fatalf("client write: %v", err)
	}
	d, err := s.Receive(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if d.Peer != peer || d.Channel != 1 || string(d.Data) != "abc" {
		t.Fatalf("unexpected datagram %+v", d)
	}

	if err := s.Send(peer, 2, true, []byte("xyz")); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	ch, rel, payload, ok := DecodeFrame(msg)
	if !ok || ch != 2 || !rel || string(payload) != "xyz" {
		t.Fatalf("unexpected frame %v", msg)
	}

	if err := s.DisconnectPeer(peer); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := waitPeer(t, h.removed); got != peer {
		t.Fatalf("removed peer %d, want %d", got, peer)
	}
	if _, err := s.PeerAddress(peer); err != transport.ErrPeerNotFound {
		t.Fatalf("expected ErrPeerNotFound after removal, got %v", err)
	}
}

func TestRateLimitDropsFlood(t *testing.T) {
	s := NewServer(Options{PacketsPerSecond: 1, Burst: 2})
	h := newRecorder()
	s.SetHandler(h)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	c := dial(t, srv)
	defer c.Close()
	waitPeer(t, h.added)

	for i := 0; i < 10; i++ {
		_ = c.WriteMessage(websocket.BinaryMessage, EncodeFrame(0, true, []byte{byte(i)}))
	}
	got := 0
	for {
		if _, err := s.Receive(context.Background(), 200*time.Millisecond); err != nil {
			break
		}
		got++
	}
	if got < 1 || got > 3 {
		t.Fatalf("expected the burst to pass and the rest dropped, got %d", got)
	}
}

func TestDecodeFrameRejectsShort(t *testing.T) {
	if _, _, _, ok := DecodeFrame([]byte{1}); ok {
		t.Fatalf("short frame accepted")
	}
}

type peerEvent struct {
	peer  transport.PeerID
	added bool
}

// orderedHandler logs every callback in arrival order. onRemoved runs
// inside PeerRemoved, before the handler returns.
type orderedHandler struct {
	mu        sync.Mutex
	events    []peerEvent
	added     chan transport.PeerID
	onRemoved func(transport.PeerID)
}

func (h *orderedHandler) PeerAdded(p transport.PeerID) {
	h.mu.Lock()
	h.events = append(h.events, peerEvent{peer: p, added: true})
	h.mu.Unlock()
	h.added <- p
}

func (h *orderedHandler) PeerRemoved(p transport.PeerID, _ bool) {
	h.mu.Lock()
	h.events = append(h.events, peerEvent{peer: p})
	h.mu.Unlock()
	if h.onRemoved != nil {
		h.onRemoved(p)
	}
}

func TestPeerIDNotReusedBeforeRemovalIsReported(t *testing.T) {
	s := NewServer(Options{})
	h := &orderedHandler{added: make(chan transport.PeerID, 8)}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	// A client reconnecting while the old peer is still being torn down.
	var once sync.Once
	var c2 *websocket.Conn
	reconnected := make(chan transport.PeerID, 1)
	h.onRemoved = func(transport.PeerID) {
		once.Do(func() {
			c, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				t.Errorf("redial: %v", err)
				reconnected <- 0
				return
			}
			c2 = c
			select {
			case p := <-h.added:
				reconnected <- p
			case <-time.After(2 * time.Second):
				t.Errorf("reconnect not announced while removal in progress")
				reconnected <- 0
			}
		})
	}
	s.SetHandler(h)

	c1 := dial(t, srv)
	first := waitPeer(t, h.added)
	_ = c1.Close()

	var second transport.PeerID
	select {
	case second = <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatalf("removal never reported")
	}
	if c2 != nil {
		defer c2.Close()
	}
	if second == 0 || second == first {
		t.Fatalf("reconnect got peer %d while %d was still being removed", second, first)
	}

	c3 := dial(t, srv)
	defer c3.Close()
	if third := waitPeer(t, h.added); third != first {
		t.Fatalf("released id not reused: got %d, want %d", third, first)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	want := []peerEvent{{first, true}, {first, false}, {second, true}, {first, true}}
	if len(h.events) != len(want) {
		t.Fatalf("events = %+v", h.events)
	}
	for i := range want {
		if h.events[i] != want[i] {
			t.Fatalf("events = %+v, want %+v", h.events, want)
		}
	}
}
