package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	editlog "voxelsync.ai/internal/persistence/log"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapblock"
	"voxelsync.ai/internal/sim/mapedit"
)

func writeJournal(t *testing.T, dir string, batches ...[]mapedit.Event) {
	t.Helper()
	j := editlog.NewEditJournal(dir)
	j.Writer().Now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	for _, b := range batches {
		if err := j.Append(b); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestReportFiltersByBox(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir,
		[]mapedit.Event{mapedit.AddNode(geom.V3s16{X: 1}, mapblock.Node{Param0: 5})},
		[]mapedit.Event{
			mapedit.RemoveNode(geom.V3s16{X: 200}),
			mapedit.Bulk([]geom.V3s16{{}, {X: 1}}),
		},
	)
	box, err := parseBox("0,0,0:15,15,15")
	if err != nil {
		t.Fatalf("parseBox: %v", err)
	}
	files, err := editlog.ListJournalFiles(dir, "mapedits")
	if err != nil || len(files) != 1 {
		t.Fatalf("files = %v err=%v", files, err)
	}

	var events bytes.Buffer
	r := newReport(&box, &events)
	if err := r.file(files[0]); err != nil {
		t.Fatalf("file: %v", err)
	}
	if r.entries != 2 || r.kinds[mapedit.KindAddNode] != 1 || r.kinds[mapedit.KindBulk] != 1 || r.kinds[mapedit.KindRemoveNode] != 0 {
		t.Fatalf("report = %+v", r)
	}
	if len(r.blocks) != 2 {
		t.Fatalf("blocks = %v", r.blocks)
	}
	if strings.Count(events.String(), "\n") != 2 {
		t.Fatalf("events output:\n%s", events.String())
	}

	var summary bytes.Buffer
	r.print(&summary)
	if !strings.Contains(summary.String(), "add_node=1 bulk=1") {
		t.Fatalf("summary = %q", summary.String())
	}
}

func TestParseBoxNormalizesCorners(t *testing.T) {
	b, err := parseBox("5,-1,3:-2,4,3")
	if err != nil {
		t.Fatalf("parseBox: %v", err)
	}
	if b.Min != (geom.V3s16{X: -2, Y: -1, Z: 3}) || b.Max != (geom.V3s16{X: 5, Y: 4, Z: 3}) {
		t.Fatalf("box = %+v", b)
	}
	for _, bad := range []string{"1,2,3", "1,2:3,4,5", "a,b,c:1,2,3", "1,2,40000:0,0,0"} {
		if _, err := parseBox(bad); err == nil {
			t.Fatalf("parseBox(%q) succeeded", bad)
		}
	}
}
