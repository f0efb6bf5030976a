// Package log writes the compressed map edit journal.
package log

import (
	"sync/atomic"
	"time"

	"voxelsync.ai/internal/sim/mapedit"
)

// JournalEntry is one line of the journal: the events drained in one
// server step.
type JournalEntry struct {
	Seq    uint64          `json:"seq"`
	Time   string          `json:"time"`
	Events []mapedit.Event `json:"events"`
}

// EditJournal implements mapedit.Journal.
type EditJournal struct {
	w   *JSONLZstdWriter
	seq atomic.Uint64
}

func NewEditJournal(dir string) *EditJournal {
	return &EditJournal{w: NewJSONLZstdWriter(dir, "mapedits")}
}

// Writer exposes the underlying writer for rotation hooks.
func (j *EditJournal) Writer() *JSONLZstdWriter { return j.w }

func (j *EditJournal) Append(events []mapedit.Event) error {
	if len(events) == 0 {
		return nil
	}
	return j.w.Write(JournalEntry{
		Seq:    j.seq.Add(1),
		Time:   j.w.Now().UTC().Format(time.RFC3339Nano),
		Events: events,
	})
}

func (j *EditJournal) Close() error { return j.w.Close() }
