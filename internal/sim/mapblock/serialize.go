package mapblock

import (
	"errors"
	"fmt"
	"sort"

	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/encoding"
	"voxelsync.ai/internal/sim/geom"
)

const (
	flagNotGenerated = 0x08

	contentWidth = 2
	paramsWidth  = 2
	metaVersion  = 2
)

var ErrBadVersion = errors.New("mapblock: unsupported serialization version")

// Serialize encodes b for the given serialization version. network
// omits the disk-only timestamp. Versions at or above SerFmtVerZstd
// compress the whole body; older ones compress the node and metadata
// sections separately.
func Serialize(b *Block, version uint8, network bool) ([]byte, error) {
	if version < protocol.SerFmtVerLowest || version > protocol.SerFmtVerHighest {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}

	header := protocol.NewWriter(8)
	var flags uint8
	if !b.Generated {
		flags |= flagNotGenerated
	}
	header.U8(flags)
	header.U16(0xFFFF) // lighting complete
	if version >= protocol.SerFmtVerZstd && !network {
		header.U32(b.Timestamp)
	}
	header.U8(contentWidth)
	header.U8(paramsWidth)

	nodes := encodeNodes(b)
	meta := encodeMeta(b, network)

	out := protocol.NewWriter(1 + header.Len() + len(nodes) + len(meta))
	out.U8(version)
	if version >= protocol.SerFmtVerZstd {
		body := make([]byte, 0, header.Len()+len(nodes)+len(meta))
		body = append(body, header.Bytes()...)
		body = append(body, nodes...)
		body = append(body, meta...)
		out.Raw(encoding.Compress(body))
		return out.Bytes(), nil
	}
	out.Raw(header.Bytes())
	out.String32(string(encoding.Compress(nodes)))
	out.String32(string(encoding.Compress(meta)))
	if !network {
		out.U32(b.Timestamp)
	}
	return out.Bytes(), nil
}

// Deserialize reverses Serialize for a block at pos.
func Deserialize(pos geom.V3s16, data []byte, network bool) (*Block, error) {
	if len(data) < 1 {
		return nil, protocol.ErrShortPacket
	}
	version := data[0]
	if version < protocol.SerFmtVerLowest || version > protocol.SerFmtVerHighest {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	b := New(pos)

	if version >= protocol.SerFmtVerZstd {
		body, err := encoding.Decompress(data[1:])
		if err != nil {
			return nil, err
		}
		r := protocol.NewReader(body)
		flags := r.U8()
		r.U16()
		if !network {
			b.Timestamp = r.U32()
		}
		if err := readWidths(r); err != nil {
			return nil, err
		}
		b.Generated = flags&flagNotGenerated == 0
		decodeNodes(b, r)
		decodeMeta(b, r)
		return b, r.Err()
	}

	r := protocol.NewReader(data[1:])
	flags := r.U8()
	r.U16()
	if err := readWidths(r); err != nil {
		return nil, err
	}
	b.Generated = flags&flagNotGenerated == 0
	nodes, err := encoding.Decompress([]byte(r.String32()))
	if err != nil {
		return nil, err
	}
	meta, err := encoding.Decompress([]byte(r.String32()))
	if err != nil {
		return nil, err
	}
	if !network {
		b.Timestamp = r.U32()
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	nr := protocol.NewReader(nodes)
	decodeNodes(b, nr)
	mr := protocol.NewReader(meta)
	decodeMeta(b, mr)
	if nr.Err() != nil {
		return nil, nr.Err()
	}
	return b, mr.Err()
}

func readWidths(r *protocol.Reader) error {
	cw, pw := r.U8(), r.U8()
	if r.Err() != nil {
		return r.Err()
	}
	if cw != contentWidth || pw != paramsWidth {
		return fmt.Errorf("mapblock: unsupported widths content=%d params=%d", cw, pw)
	}
	return nil
}

func encodeNodes(b *Block) []byte {
	w := protocol.NewWriter(NodeCount * 4)
	for i := range b.Nodes {
		w.U16(b.Nodes[i].Param0)
	}
	for i := range b.Nodes {
		w.U8(b.Nodes[i].Param1)
	}
	for i := range b.Nodes {
		w.U8(b.Nodes[i].Param2)
	}
	return w.Bytes()
}

func decodeNodes(b *Block, r *protocol.Reader) {
	for i := range b.Nodes {
		b.Nodes[i].Param0 = r.U16()
	}
	for i := range b.Nodes {
		b.Nodes[i].Param1 = r.U8()
	}
	for i := range b.Nodes {
		b.Nodes[i].Param2 = r.U8()
	}
}

func encodeMeta(b *Block, network bool) []byte {
	idx := make([]int, 0, len(b.Meta))
	for i := range b.Meta {
		idx = append(idx, int(i))
	}
	sort.Ints(idx)

	w := protocol.NewWriter(64)
	w.U8(metaVersion)
	w.U16(uint16(len(idx)))
	for _, i := range idx {
		w.U16(uint16(i))
		writeMetadata(w, b.Meta[uint16(i)], network)
	}
	return w.Bytes()
}

func decodeMeta(b *Block, r *protocol.Reader) {
	if r.U8() != metaVersion && r.Err() == nil {
		return
	}
	n := int(r.U16())
	for i := 0; i < n && r.Err() == nil; i++ {
		idx := r.U16()
		m := readMetadata(r)
		if !m.Empty() {
			b.Meta[idx] = m
		}
	}
}

// writeMetadata skips private fields when network is set.
func writeMetadata(w *protocol.Writer, m *Metadata, network bool) {
	keys := m.sortedKeys()
	if network {
		kept := keys[:0]
		for _, k := range keys {
			if !m.Private[k] {
				kept = append(kept, k)
			}
		}
		keys = kept
	}
	w.U32(uint32(len(keys)))
	for _, k := range keys {
		w.String16(k)
		w.String32(m.Fields[k])
		w.Bool(m.Private[k])
	}
}

func readMetadata(r *protocol.Reader) *Metadata {
	m := NewMetadata()
	n := int(r.U32())
	for i := 0; i < n && r.Err() == nil; i++ {
		k := r.String16()
		v := r.String32()
		m.Set(k, v, r.Bool())
	}
	return m
}

// MetaEntry is one node's metadata at an absolute position.
type MetaEntry struct {
	Pos  geom.V3s16
	Meta *Metadata
}

// SerializeMetaList builds the compressed NODEMETA_CHANGED body. A nil or
// empty Meta tells the client to clear that node's metadata.
func SerializeMetaList(entries []MetaEntry) []byte {
	w := protocol.NewWriter(64)
	w.U8(metaVersion)
	w.U16(uint16(len(entries)))
	for _, e := range entries {
		w.V3S16(e.Pos)
		if e.Meta == nil {
			w.U32(0)
			continue
		}
		writeMetadata(w, e.Meta, true)
	}
	return encoding.Compress(w.Bytes())
}

// DeserializeMetaList reverses SerializeMetaList.
func DeserializeMetaList(data []byte) ([]MetaEntry, error) {
	raw, err := encoding.Decompress(data)
	if err != nil {
		return nil, err
	}
	r := protocol.NewReader(raw)
	r.U8()
	n := int(r.U16())
	out := make([]MetaEntry, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		pos := r.V3S16()
		out = append(out, MetaEntry{Pos: pos, Meta: readMetadata(r)})
	}
	return out, r.Err()
}
