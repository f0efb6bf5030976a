// Package geom holds the integer/float vector types shared by the map,
// the wire codec and the synchronizers.
package geom

import "math"

// BS is the size of one node in world units.
const BS = 10.0

// BlockSize is the edge length of a map block in nodes.
const BlockSize = 16

type V3s16 struct {
	X, Y, Z int16
}

type V3f struct {
	X, Y, Z float32
}

func (a V3s16) Add(b V3s16) V3s16 { return V3s16{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a V3s16) Sub(b V3s16) V3s16 { return V3s16{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

// Manhattan returns |dx|+|dy|+|dz|.
func (a V3s16) Manhattan(b V3s16) int {
	return abs(int(a.X)-int(b.X)) + abs(int(a.Y)-int(b.Y)) + abs(int(a.Z)-int(b.Z))
}

// Chebyshev returns max(|dx|,|dy|,|dz|).
func (a V3s16) Chebyshev(b V3s16) int {
	m := abs(int(a.X) - int(b.X))
	if d := abs(int(a.Y) - int(b.Y)); d > m {
		m = d
	}
	if d := abs(int(a.Z) - int(b.Z)); d > m {
		m = d
	}
	return m
}

func (a V3f) Add(b V3f) V3f          { return V3f{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a V3f) Sub(b V3f) V3f          { return V3f{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a V3f) Scale(f float32) V3f    { return V3f{a.X * f, a.Y * f, a.Z * f} }
func (a V3f) Length() float32        { return float32(math.Sqrt(float64(a.X*a.X + a.Y*a.Y + a.Z*a.Z))) }
func (a V3f) Distance(b V3f) float32 { return a.Sub(b).Length() }

// NodeToBlock returns the position of the block containing node p.
func NodeToBlock(p V3s16) V3s16 {
	return V3s16{floorDiv(p.X), floorDiv(p.Y), floorDiv(p.Z)}
}

// BlockOrigin returns the lowest node position inside block b.
func BlockOrigin(b V3s16) V3s16 {
	return V3s16{b.X * BlockSize, b.Y * BlockSize, b.Z * BlockSize}
}

// NodeToWorld converts a node position to world units (node center).
func NodeToWorld(p V3s16) V3f {
	return V3f{float32(p.X) * BS, float32(p.Y) * BS, float32(p.Z) * BS}
}

// WorldToNode rounds a world position to the node containing it.
func WorldToNode(v V3f) V3s16 {
	return V3s16{round16(v.X / BS), round16(v.Y / BS), round16(v.Z / BS)}
}

// BlockCenter returns the world position of the center of block b.
func BlockCenter(b V3s16) V3f {
	o := NodeToWorld(BlockOrigin(b))
	half := float32(BlockSize) * BS / 2
	return V3f{o.X + half, o.Y + half, o.Z + half}
}

type Box struct {
	Min, Max V3s16
}

func (b Box) Contains(p V3s16) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func (b Box) Empty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z
}

func floorDiv(v int16) int16 {
	if v >= 0 {
		return v / BlockSize
	}
	return -((-v + BlockSize - 1) / BlockSize)
}

func round16(f float32) int16 {
	r := math.Floor(float64(f) + 0.5)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
