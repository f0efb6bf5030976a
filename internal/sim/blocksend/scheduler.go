// Package blocksend decides which map blocks each active client receives
// in a step.
package blocksend

import (
	"sort"

	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

// Candidate is a block a client should receive, as proposed by a
// CandidateSource.
type Candidate struct {
	Pos      geom.V3s16
	Distance int
	// Stale marks a block the client had before it was invalidated.
	Stale bool
}

// Transfer is one queued block send.
type Transfer struct {
	Peer transport.PeerID
	Candidate
	seq int
}

// Less orders transfers: closer first, never-sent before stale, then
// insertion order.
func (t Transfer) Less(o Transfer) bool {
	if t.Distance != o.Distance {
		return t.Distance < o.Distance
	}
	if t.Stale != o.Stale {
		return !t.Stale
	}
	return t.seq < o.seq
}

type CandidateSource interface {
	Candidates(c *session.Client, limit int) []Candidate
}

type BlockSource interface {
	GetBlock(pos geom.V3s16) (*mapblock.Block, bool)
}

type Sender interface {
	Send(peer transport.PeerID, pkt *protocol.Packet)
}

type Config struct {
	MaxUsers                           int
	MaxSimultaneousBlockSendsPerClient int
}

type Scheduler struct {
	cfg        Config
	clients    *session.Table
	candidates CandidateSource
	blocks     BlockSource
	send       Sender
	log        *logging.Logger
	metrics    metrics.Metrics
}

func New(cfg Config, clients *session.Table, candidates CandidateSource, blocks BlockSource, send Sender, log *logging.Logger, m metrics.Metrics) *Scheduler {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Scheduler{
		cfg:        cfg,
		clients:    clients,
		candidates: candidates,
		blocks:     blocks,
		send:       send,
		log:        log,
		metrics:    m,
	}
}

// MaxBlocksToSend is the global per-step cap. The per-client share shrinks
// as more users can connect.
func (s *Scheduler) MaxBlocksToSend(players int) int {
	return (players+s.cfg.MaxUsers)*s.cfg.MaxSimultaneousBlockSendsPerClient/4 + 1
}

type Stats struct {
	Queued  int
	Sent    int
	Skipped int
	Limit   int
}

// SendBlocks runs one scheduling pass over the active clients.
func (s *Scheduler) SendBlocks(players int) Stats {
	clients := s.clients.Snapshot(session.Active)
	perClient := s.cfg.MaxSimultaneousBlockSendsPerClient

	var queue []Transfer
	for _, c := range clients {
		c.ResetBudget(perClient)
		for _, cand := range s.candidates.Candidates(c, perClient) {
			queue = append(queue, Transfer{Peer: c.Peer, Candidate: cand, seq: len(queue)})
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].Less(queue[j]) })

	st := Stats{Queued: len(queue), Limit: s.MaxBlocksToSend(players)}
	for _, t := range queue {
		if st.Sent >= st.Limit {
			break
		}
		b, ok := s.blocks.GetBlock(t.Pos)
		if !ok {
			st.Skipped++
			continue
		}
		c, ok := s.clients.GetMin(t.Peer, session.Active)
		if !ok || c.KnowsBlock(t.Pos) || !c.TakeBudget() {
			continue
		}
		if err := s.sendBlock(c, b); err != nil {
			s.log.Errorf("blocksend: block %v to peer %d: %v", t.Pos, t.Peer, err)
			continue
		}
		st.Sent++
	}
	s.metrics.BlocksSent(st.Sent)
	return st
}

func (s *Scheduler) sendBlock(c *session.Client, b *mapblock.Block) error {
	data, err := mapblock.Serialize(b, c.SerializationVersion(), true)
	if err != nil {
		return err
	}
	s.send.Send(c.Peer, protocol.BlockData(b.Pos, data))
	c.MarkBlockSent(b.Pos)
	return nil
}
