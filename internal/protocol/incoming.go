package protocol

import (
	"voxelsync.ai/internal/sim/geom"
)

// InitRequest is TOSERVER_INIT.
type InitRequest struct {
	MaxSerVer   uint8
	Compression uint16
	MinProtoVer uint16
	MaxProtoVer uint16
	PlayerName  string
}

func ParseInit(payload []byte) (InitRequest, error) {
	r := NewReader(payload)
	req := InitRequest{
		MaxSerVer:   r.U8(),
		Compression: r.U16(),
		MinProtoVer: r.U16(),
		MaxProtoVer: r.U16(),
		PlayerName:  r.String16(),
	}
	return req, r.Err()
}

func (req InitRequest) Encode() *Packet {
	w := NewWriter(9 + len(req.PlayerName))
	w.U8(req.MaxSerVer)
	w.U16(req.Compression)
	w.U16(req.MinProtoVer)
	w.U16(req.MaxProtoVer)
	w.String16(req.PlayerName)
	return w.Packet(ToServerInit)
}

// PlayerPos is TOSERVER_PLAYERPOS. Positions and speeds arrive scaled by
// 100, angles by 100 and the field of view by 80.
type PlayerPos struct {
	Position    geom.V3f
	Speed       geom.V3f
	Pitch       float32
	Yaw         float32
	Keys        uint32
	FOV         float32
	WantedRange uint8
}

func ParsePlayerPos(payload []byte) (PlayerPos, error) {
	r := NewReader(payload)
	var p PlayerPos
	p.Position = readV3S32(r, 100)
	p.Speed = readV3S32(r, 100)
	p.Pitch = float32(r.S32()) / 100
	p.Yaw = float32(r.S32()) / 100
	p.Keys = r.U32()
	p.FOV = float32(r.U8()) / 80
	p.WantedRange = r.U8()
	return p, r.Err()
}

func (p PlayerPos) Encode() *Packet {
	w := NewWriter(34)
	writeV3S32(w, p.Position, 100)
	writeV3S32(w, p.Speed, 100)
	w.S32(int32(p.Pitch * 100))
	w.S32(int32(p.Yaw * 100))
	w.U32(p.Keys)
	w.U8(uint8(p.FOV * 80))
	w.U8(p.WantedRange)
	return w.Packet(ToServerPlayerPos)
}

func readV3S32(r *Reader, scale float32) geom.V3f {
	return geom.V3f{
		X: float32(r.S32()) / scale,
		Y: float32(r.S32()) / scale,
		Z: float32(r.S32()) / scale,
	}
}

func writeV3S32(w *Writer, v geom.V3f, scale float32) {
	w.S32(int32(v.X * scale))
	w.S32(int32(v.Y * scale))
	w.S32(int32(v.Z * scale))
}

// ParseBlockList reads the u8-counted position list of GOTBLOCKS and
// DELETEDBLOCKS.
func ParseBlockList(payload []byte) ([]geom.V3s16, error) {
	r := NewReader(payload)
	n := int(r.U8())
	out := make([]geom.V3s16, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, r.V3S16())
	}
	return out, r.Err()
}

// BlockList encodes GOTBLOCKS/DELETEDBLOCKS; at most 255 positions fit.
func BlockList(cmd uint16, blocks []geom.V3s16) *Packet {
	if len(blocks) > 255 {
		blocks = blocks[:255]
	}
	w := NewWriter(1 + 6*len(blocks))
	w.U8(uint8(len(blocks)))
	for _, b := range blocks {
		w.V3S16(b)
	}
	return w.Packet(cmd)
}

func ParseChatMessage(payload []byte) (string, error) {
	r := NewReader(payload)
	s := r.String16()
	return s, r.Err()
}

func ChatMessageRequest(text string) *Packet {
	w := NewWriter(2 + len(text))
	w.String16(text)
	return w.Packet(ToServerChatMessage)
}

func ParseRemovedSounds(payload []byte) ([]int32, error) {
	r := NewReader(payload)
	n := int(r.U16())
	out := make([]int32, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, r.S32())
	}
	return out, r.Err()
}

func RemovedSounds(ids []int32) *Packet {
	w := NewWriter(2 + 4*len(ids))
	w.U16(uint16(len(ids)))
	for _, id := range ids {
		w.S32(id)
	}
	return w.Packet(ToServerRemovedSounds)
}

// Empty builds a payload-less packet such as INIT2 or CLIENT_READY.
func Empty(cmd uint16) *Packet {
	return &Packet{Command: cmd}
}
