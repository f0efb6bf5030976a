package mapedit

import (
	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/transport"
)

// Distances in nodes beyond which a client gets its block invalidated
// instead of the single-node update.
const (
	FarNodes        = 30
	FarNodesBusy    = 5
	MetaFarNodes    = 100
	BusyQueueLength = 4
)

type Sender interface {
	Send(peer transport.PeerID, pkt *protocol.Packet)
}

type MetaSource interface {
	NodeMetadata(p geom.V3s16) *mapblock.Metadata
}

// Journal records drained events. Append errors are logged, never fatal.
type Journal interface {
	Append(events []Event) error
}

type Dispatcher struct {
	clients *session.Table
	send    Sender
	meta    MetaSource
	journal Journal
	log     *logging.Logger
	metrics metrics.Metrics
}

func NewDispatcher(clients *session.Table, send Sender, meta MetaSource, log *logging.Logger, m metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Dispatcher{clients: clients, send: send, meta: meta, log: log, metrics: m}
}

// SetJournal attaches an optional journal.
func (d *Dispatcher) SetJournal(j Journal) { d.journal = j }

// Stats summarizes one Dispatch call.
type Stats struct {
	Events      int
	Sent        int
	Invalidated int
}

// Dispatch fans out one drained batch. Node changes go to near clients
// that hold the block; everyone else has the block invalidated. Public
// metadata changes are coalesced per position and sent after the batch.
func (d *Dispatcher) Dispatch(events []Event) Stats {
	st := Stats{Events: len(events)}
	if len(events) == 0 {
		return st
	}

	far := float32(FarNodes)
	if len(events) >= BusyQueueLength {
		far = FarNodesBusy
	}
	clients := d.clients.Snapshot(session.Active)

	var metaUpdates []geom.V3s16
	for _, e := range events {
		d.metrics.MapEdit(e.Kind.String())
		switch e.Kind {
		case KindAddNode, KindSwapNode:
			pkt := protocol.AddNode(e.Pos, e.Node.Param0, e.Node.Param1, e.Node.Param2, e.Kind == KindSwapNode)
			d.sendNodeChange(clients, e, pkt, far, &st)
		case KindRemoveNode:
			d.sendNodeChange(clients, e, protocol.RemoveNode(e.Pos), far, &st)
		case KindMetadataChanged:
			if e.Private {
				continue
			}
			metaUpdates = moveToBack(metaUpdates, e.Pos)
		case KindBulk:
			for _, c := range clients {
				for _, b := range e.Blocks {
					if c.InvalidateBlock(b) {
						st.Invalidated++
					}
				}
			}
		default:
			d.log.Warnf("mapedit: unknown event kind %d", e.Kind)
		}
	}

	if len(metaUpdates) > 0 {
		d.sendMetadata(clients, metaUpdates, &st)
	}
	if len(events) >= 5 {
		d.log.Verbosef("mapedit: %d events dispatched, %d invalidations", len(events), st.Invalidated)
	}
	if d.journal != nil {
		if err := d.journal.Append(events); err != nil {
			d.log.Warnf("mapedit: journal append: %v", err)
		}
	}
	d.metrics.BlocksInvalidated(st.Invalidated)
	return st
}

func (d *Dispatcher) sendNodeChange(clients []*session.Client, e Event, pkt *protocol.Packet, farNodes float32, st *Stats) {
	block := geom.NodeToBlock(e.Pos)
	at := geom.NodeToWorld(e.Pos)
	maxd := farNodes * geom.BS
	for _, c := range clients {
		if !c.KnowsBlock(block) || c.CameraPos.Distance(at) > maxd {
			if c.InvalidateBlock(block) {
				st.Invalidated++
			}
			continue
		}
		d.send.Send(c.Peer, pkt)
		st.Sent++
	}
}

func (d *Dispatcher) sendMetadata(clients []*session.Client, positions []geom.V3s16, st *Stats) {
	maxd := float32(MetaFarNodes) * geom.BS
	for _, c := range clients {
		if protocol.IsLegacy(c.ProtocolVersion()) {
			for _, p := range positions {
				if c.InvalidateBlock(geom.NodeToBlock(p)) {
					st.Invalidated++
				}
			}
			continue
		}

		var list []mapblock.MetaEntry
		for _, p := range positions {
			meta := d.meta.NodeMetadata(p)
			block := geom.NodeToBlock(p)
			if meta == nil {
				// Removed metadata cannot be expressed as an update.
				if c.InvalidateBlock(block) {
					st.Invalidated++
				}
				continue
			}
			if !c.KnowsBlock(block) || c.CameraPos.Distance(geom.NodeToWorld(p)) > maxd {
				if c.InvalidateBlock(block) {
					st.Invalidated++
				}
				continue
			}
			list = append(list, mapblock.MetaEntry{Pos: p, Meta: meta})
		}
		if len(list) == 0 {
			continue
		}
		d.send.Send(c.Peer, protocol.NodeMetaChanged(mapblock.SerializeMetaList(list)))
		st.Sent++
	}
}

// moveToBack removes p from list and appends it, so the latest change to a
// position decides its place in the send order.
func moveToBack(list []geom.V3s16, p geom.V3s16) []geom.V3s16 {
	for i, q := range list {
		if q == p {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	return append(list, p)
}
