// Command replay reads the map edit journal and reports what it recorded,
// optionally limited to a node box.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	editlog "voxelsync.ai/internal/persistence/log"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapedit"
)

func main() {
	var (
		dir     = flag.String("journal", "./world/journal", "journal directory containing mapedits-*.jsonl.zst")
		boxFlag = flag.String("box", "", "node box filter: x1,y1,z1:x2,y2,z2 (optional)")
		verbose = flag.Bool("v", false, "print every matching event")
	)
	flag.Parse()

	var filter *geom.Box
	if *boxFlag != "" {
		b, err := parseBox(*boxFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "box:", err)
			os.Exit(2)
		}
		filter = &b
	}

	files, err := editlog.ListJournalFiles(*dir, "mapedits")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *dir)
		os.Exit(1)
	}

	var out io.Writer = io.Discard
	if *verbose {
		out = os.Stdout
	}
	r := newReport(filter, out)
	for _, path := range files {
		if err := r.file(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	r.print(os.Stdout)
}

type report struct {
	filter *geom.Box
	out    io.Writer

	files   int
	entries int
	lastSeq uint64
	kinds   map[mapedit.Kind]int
	blocks  map[geom.V3s16]struct{}
}

func newReport(filter *geom.Box, out io.Writer) *report {
	return &report{
		filter: filter,
		out:    out,
		kinds:  map[mapedit.Kind]int{},
		blocks: map[geom.V3s16]struct{}{},
	}
}

// file folds one journal file into the report. Sequence numbers restart at
// 1 whenever the server restarts and must otherwise increase.
func (r *report) file(path string) error {
	r.files++
	return editlog.ReadJournal(path, func(e editlog.JournalEntry) error {
		if e.Seq != 1 && e.Seq <= r.lastSeq {
			return fmt.Errorf("%s: seq %d after %d", filepath.Base(path), e.Seq, r.lastSeq)
		}
		r.lastSeq = e.Seq
		r.entries++
		for _, ev := range e.Events {
			if r.filter != nil && !overlaps(*r.filter, ev.Area()) {
				continue
			}
			r.kinds[ev.Kind]++
			for _, b := range ev.ModifiedBlocks() {
				r.blocks[b] = struct{}{}
			}
			fmt.Fprintf(r.out, "%s seq=%d %s pos=%d,%d,%d blocks=%d\n",
				e.Time, e.Seq, ev.Kind, ev.Pos.X, ev.Pos.Y, ev.Pos.Z, len(ev.ModifiedBlocks()))
		}
		return nil
	})
}

func (r *report) print(w io.Writer) {
	kinds := make([]mapedit.Kind, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, r.kinds[k]))
	}
	fmt.Fprintf(w, "journal ok: files=%d entries=%d blocks=%d %s\n",
		r.files, r.entries, len(r.blocks), strings.Join(parts, " "))
}

func overlaps(a, b geom.Box) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	return a.Min.X <= b.Max.X && b.Min.X <= a.Max.X &&
		a.Min.Y <= b.Max.Y && b.Min.Y <= a.Max.Y &&
		a.Min.Z <= b.Max.Z && b.Min.Z <= a.Max.Z
}

func parseBox(s string) (geom.Box, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return geom.Box{}, errors.New("want x1,y1,z1:x2,y2,z2")
	}
	a, err := parseV3(lo)
	if err != nil {
		return geom.Box{}, err
	}
	b, err := parseV3(hi)
	if err != nil {
		return geom.Box{}, err
	}
	return geom.Box{
		Min: geom.V3s16{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max: geom.V3s16{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)},
	}, nil
}

func parseV3(s string) (geom.V3s16, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return geom.V3s16{}, fmt.Errorf("bad position %q", s)
	}
	var v [3]int16
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return geom.V3s16{}, fmt.Errorf("bad position %q: %w", s, err)
		}
		v[i] = int16(n)
	}
	return geom.V3s16{X: v[0], Y: v[1], Z: v[2]}, nil
}
