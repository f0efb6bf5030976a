package blocksend

import (
	"sort"

	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/session"
)

// mapLimitBlocks bounds block coordinates to the playable world.
const mapLimitBlocks = 31007 / geom.BlockSize

// ShellSource proposes unknown blocks on cube shells around the camera
// block, nearest shell first, out to min(wanted range, MaxDistance).
type ShellSource struct {
	MaxDistance int

	shells [][]geom.V3s16
}

func NewShellSource(maxDistance int) *ShellSource {
	s := &ShellSource{MaxDistance: maxDistance}
	s.shells = make([][]geom.V3s16, maxDistance+1)
	for d := 0; d <= maxDistance; d++ {
		s.shells[d] = shell(d)
	}
	return s
}

func (s *ShellSource) Candidates(c *session.Client, limit int) []Candidate {
	center := c.CameraBlock()
	maxd := c.WantedRange()
	if maxd > s.MaxDistance {
		maxd = s.MaxDistance
	}
	var out []Candidate
	for d := 0; d <= maxd && len(out) < limit; d++ {
		for _, off := range s.shells[d] {
			p, ok := offset(center, off)
			if !ok || c.KnowsBlock(p) {
				continue
			}
			out = append(out, Candidate{Pos: p, Distance: d, Stale: c.BlockStale(p)})
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// shell lists the offsets at Chebyshev distance d, ordered by Manhattan
// distance so face neighbours come before corners.
func shell(d int) []geom.V3s16 {
	if d == 0 {
		return []geom.V3s16{{}}
	}
	var out []geom.V3s16
	for x := -d; x <= d; x++ {
		for y := -d; y <= d; y++ {
			for z := -d; z <= d; z++ {
				if abs(x) != d && abs(y) != d && abs(z) != d {
					continue
				}
				out = append(out, geom.V3s16{X: int16(x), Y: int16(y), Z: int16(z)})
			}
		}
	}
	zero := geom.V3s16{}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Manhattan(zero) < out[j].Manhattan(zero)
	})
	return out
}

func offset(center, off geom.V3s16) (geom.V3s16, bool) {
	x, y, z := int(center.X)+int(off.X), int(center.Y)+int(off.Y), int(center.Z)+int(off.Z)
	if abs(x) > mapLimitBlocks || abs(y) > mapLimitBlocks || abs(z) > mapLimitBlocks {
		return geom.V3s16{}, false
	}
	return geom.V3s16{X: int16(x), Y: int16(y), Z: int16(z)}, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
