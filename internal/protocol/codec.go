package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"voxelsync.ai/internal/sim/geom"
)

// Packet is one decoded or to-be-sent message: opcode plus payload.
type Packet struct {
	Command uint16
	Payload []byte
}

// Bytes returns the wire form: u16 opcode followed by the payload.
func (p *Packet) Bytes() []byte {
	b := make([]byte, 2+len(p.Payload))
	binary.BigEndian.PutUint16(b, p.Command)
	copy(b[2:], p.Payload)
	return b
}

// Decode splits a received datagram into opcode and payload.
func Decode(data []byte) (Packet, error) {
	if len(data) < 2 {
		return Packet{}, ErrShortPacket
	}
	return Packet{Command: binary.BigEndian.Uint16(data), Payload: data[2:]}, nil
}

// Writer appends big-endian fields to a growing buffer.
type Writer struct {
	buf []byte
}

func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

// Packet wraps the written bytes as the payload of cmd.
func (w *Writer) Packet(cmd uint16) *Packet {
	return &Packet{Command: cmd, Payload: w.buf}
}

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

func (w *Writer) U16(v uint16)  { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *Writer) S16(v int16)   { w.U16(uint16(v)) }
func (w *Writer) U32(v uint32)  { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *Writer) S32(v int32)   { w.U32(uint32(v)) }
func (w *Writer) U64(v uint64)  { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *Writer) S64(v int64)   { w.U64(uint64(v)) }
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

func (w *Writer) V3S16(v geom.V3s16) {
	w.S16(v.X)
	w.S16(v.Y)
	w.S16(v.Z)
}

func (w *Writer) V3F(v geom.V3f) {
	w.F32(v.X)
	w.F32(v.Y)
	w.F32(v.Z)
}

// String16 writes a u16 length prefix and the bytes. Longer strings are
// truncated to the prefix limit.
func (w *Writer) String16(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.U16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) String32(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Reader consumes big-endian fields. The first short read latches an error;
// later reads return zero values, so callers check Err once at the end.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPacket, n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool { return r.U8() != 0 }

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) S16() int16 { return int16(r.U16()) }

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) S32() int32 { return int32(r.U32()) }

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) S64() int64   { return int64(r.U64()) }
func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }

func (r *Reader) V3S16() geom.V3s16 {
	return geom.V3s16{X: r.S16(), Y: r.S16(), Z: r.S16()}
}

func (r *Reader) V3F() geom.V3f {
	return geom.V3f{X: r.F32(), Y: r.F32(), Z: r.F32()}
}

func (r *Reader) String16() string {
	n := int(r.U16())
	return string(r.take(n))
}

func (r *Reader) String32() string {
	n := r.U32()
	if n > math.MaxInt32 {
		r.err = ErrStringTooLong
		return ""
	}
	return string(r.take(int(n)))
}

// Rest returns every unread byte.
func (r *Reader) Rest() []byte {
	return r.take(r.Remaining())
}
