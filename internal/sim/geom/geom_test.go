package geom

import "testing"

func TestNodeToBlock(t *testing.T) {
	cases := []struct {
		in, want V3s16
	}{
		{V3s16{0, 0, 0}, V3s16{0, 0, 0}},
		{V3s16{15, 16, 31}, V3s16{0, 1, 1}},
		{V3s16{-1, -16, -17}, V3s16{-1, -1, -2}},
	}
	for _, c := range cases {
		if got := NodeToBlock(c.in); got != c.want {
			t.Fatalf("NodeToBlock(%v)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestWorldToNodeRoundTrip(t *testing.T) {
	p := V3s16{3, -7, 120}
	if got := WorldToNode(NodeToWorld(p)); got != p {
		t.Fatalf("round trip: got %v want %v", got, p)
	}
	if got := WorldToNode(V3f{14.9, -4.9, 0}); got != (V3s16{1, 0, 0}) {
		t.Fatalf("rounding: got %v", got)
	}
}

func TestBoxContains(t *testing.T) {
	b := Box{Min: V3s16{-1, -1, -1}, Max: V3s16{1, 1, 1}}
	if !b.Contains(V3s16{1, 0, -1}) || b.Contains(V3s16{2, 0, 0}) {
		t.Fatalf("unexpected containment")
	}
	if b.Empty() || !(Box{Min: V3s16{1, 0, 0}}).Empty() {
		t.Fatalf("unexpected emptiness")
	}
}
