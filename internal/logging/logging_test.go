package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "", 0), LevelAction)
	l.Verbosef("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Actionf("player %s joins", "alice")
	l.Errorf("boom")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("below-minimum lines written: %q", out)
	}
	if !strings.Contains(out, "ACTION: player alice joins") || !strings.Contains(out, "ERROR: boom") {
		t.Fatalf("missing lines: %q", out)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Warnf("nothing %s", "happens")
	if l.Enabled(LevelError) {
		t.Fatalf("nil logger reports enabled")
	}
	if l.Std() == nil {
		t.Fatalf("nil logger must still return a std logger")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"verbose": LevelVerbose, "": LevelInfo, "WARN": LevelWarning, "error": LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "[srv] ", 0), LevelInfo).With("ws: ")
	l.Infof("up")
	if got := buf.String(); got != "[srv] ws: INFO: up\n" {
		t.Fatalf("got %q", got)
	}
}
