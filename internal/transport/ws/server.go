// Package ws carries client datagrams over websocket binary messages.
// Each message is one frame: u8 channel, u8 flags, payload.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/transport"
)

const flagReliable = 0x01

var ErrQueueFull = errors.New("ws: peer send queue full")

type Options struct {
	QueueSize        int
	InboxSize        int
	PeerTimeout      time.Duration
	PacketsPerSecond float64
	Burst            int
	Logger           *logging.Logger
	Metrics          metrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 512
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 4096
	}
	if o.PeerTimeout <= 0 {
		o.PeerTimeout = 30 * time.Second
	}
	if o.PacketsPerSecond <= 0 {
		o.PacketsPerSecond = 500
	}
	if o.Burst <= 0 {
		o.Burst = int(o.PacketsPerSecond)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoop()
	}
}

type Server struct {
	opts Options
	log  *logging.Logger

	upgrader websocket.Upgrader
	inbox    chan transport.Datagram

	mu      sync.Mutex
	ids     *transport.IDAllocator
	peers   map[transport.PeerID]*peerConn
	handler transport.Handler
	closed  bool
}

type peerConn struct {
	id     transport.PeerID
	connID string
	addr   string
	conn   *websocket.Conn
	out    chan []byte

	limiter *rate.Limiter
	cancel  context.CancelFunc
}

func NewServer(opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		inbox: make(chan transport.Datagram, opts.InboxSize),
		ids:   transport.NewIDAllocator(),
		peers: make(map[transport.PeerID]*peerConn),
	}
}

func (s *Server) SetHandler(h transport.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		p, err := s.register(conn, r.RemoteAddr, cancel)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(time.Second))
			return
		}
		s.log.Verbosef("ws: peer %d connected from %s (conn %s)", p.id, p.addr, p.connID)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					_ = conn.Close()
					return
				case b := <-p.out:
					if b == nil {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
						cancel()
						_ = conn.Close()
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		timeout := false
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.PeerTimeout))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				var ne net.Error
				timeout = errors.As(err, &ne) && ne.Timeout()
				break
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			ch, _, payload, ok := DecodeFrame(msg)
			if !ok {
				s.opts.Metrics.PacketDropped("bad_frame")
				continue
			}
			if !p.limiter.Allow() {
				s.opts.Metrics.PacketDropped("rate_limit")
				continue
			}
			select {
			case s.inbox <- transport.Datagram{Peer: p.id, Channel: ch, Data: payload}:
			default:
				s.opts.Metrics.PacketDropped("inbox_full")
			}
		}

		// Cleanup.
		cancel()
		s.remove(p.id, timeout)
	}
}

func (s *Server) register(conn *websocket.Conn, addr string, cancel context.CancelFunc) (*peerConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}
	id, ok := s.ids.Acquire()
	if !ok {
		return nil, errors.New("no free peer id")
	}
	p := &peerConn{
		id:      id,
		connID:  uuid.NewString(),
		addr:    addr,
		conn:    conn,
		out:     make(chan []byte, s.opts.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(s.opts.PacketsPerSecond), s.opts.Burst),
		cancel:  cancel,
	}
	s.peers[id] = p
	if s.handler != nil {
		s.handler.PeerAdded(id)
	}
	return p, nil
}

// remove drops the peer and reports it. The id stays reserved until the
// handler has seen PeerRemoved, so a new connection cannot be announced
// under it first.
func (s *Server) remove(id transport.PeerID, timeout bool) {
	s.mu.Lock()
	if _, ok := s.peers[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.peers, id)
	h := s.handler
	s.mu.Unlock()

	s.log.Verbosef("ws: peer %d removed (timeout=%v)", id, timeout)
	if h != nil {
		h.PeerRemoved(id, timeout)
	}

	s.mu.Lock()
	s.ids.Release(id)
	s.mu.Unlock()
}

func (s *Server) lookup(id transport.PeerID) (*peerConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

// Send never blocks. A full queue drops unreliable data; for reliable data
// the peer is too slow to keep up and gets disconnected.
func (s *Server) Send(peer transport.PeerID, channel uint8, reliable bool, data []byte) error {
	p, ok := s.lookup(peer)
	if !ok {
		return transport.ErrPeerNotFound
	}
	b := EncodeFrame(channel, reliable, data)
	select {
	case p.out <- b:
		return nil
	default:
	}
	if !reliable {
		return nil
	}
	s.log.Warnf("ws: peer %d send queue full, disconnecting", peer)
	p.cancel()
	return ErrQueueFull
}

func (s *Server) Receive(ctx context.Context, timeout time.Duration) (transport.Datagram, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-s.inbox:
		return d, nil
	case <-timer.C:
		return transport.Datagram{}, transport.ErrNoIncomingData
	case <-ctx.Done():
		return transport.Datagram{}, ctx.Err()
	}
}

func (s *Server) TryReceive() (transport.Datagram, error) {
	select {
	case d := <-s.inbox:
		return d, nil
	default:
		return transport.Datagram{}, transport.ErrNoIncomingData
	}
}

// DisconnectPeer closes the connection after everything already queued
// for the peer has been written.
func (s *Server) DisconnectPeer(peer transport.PeerID) error {
	p, ok := s.lookup(peer)
	if !ok {
		return transport.ErrPeerNotFound
	}
	select {
	case p.out <- nil:
	default:
		p.cancel()
	}
	return nil
}

func (s *Server) PeerAddress(peer transport.PeerID) (string, error) {
	p, ok := s.lookup(peer)
	if !ok {
		return "", transport.ErrPeerNotFound
	}
	return p.addr, nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.cancel()
	}
	return nil
}

func EncodeFrame(channel uint8, reliable bool, data []byte) []byte {
	b := make([]byte, 2+len(data))
	b[0] = channel
	if reliable {
		b[1] = flagReliable
	}
	copy(b[2:], data)
	return b
}

func DecodeFrame(b []byte) (channel uint8, reliable bool, payload []byte, ok bool) {
	if len(b) < 2 {
		return 0, false, nil, false
	}
	return b[0], b[1]&flagReliable != 0, b[2:], true
}
