package core

import (
	"testing"
	"time"

	"pkt.systems/tether/schema"
)

func TestLogBufferCoalescesWithinWindow(t *testing.T) {
	b := &logBuffer{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 5 * time.Second

	if _, created := b.Append("1", "hel", schema.LogSourceStdout, start, window); !created {
		t.Fatalf("expected first append to create an entry")
	}
	entry, created := b.Append("2", "lo", schema.LogSourceStdout, start.Add(4*time.Second), window)
	if created || entry.Text != "hello" {
		t.Fatalf("expected coalesced entry, got %+v created=%v", entry, created)
	}
	// window is measured from the refreshed timestamp
	if _, created := b.Append("3", "!", schema.LogSourceStdout, start.Add(8*time.Second), window); created {
		t.Fatalf("expected append within refreshed window to coalesce")
	}
	if _, created := b.Append("4", "err", schema.LogSourceStderr, start.Add(9*time.Second), window); !created {
		t.Fatalf("expected source change to start a new entry")
	}
	if _, created := b.Append("5", "late", schema.LogSourceStderr, start.Add(20*time.Second), window); !created {
		t.Fatalf("expected gap beyond window to start a new entry")
	}
	entries := b.Snapshot()
	if len(entries) != 3 || entries[0].Text != "hello!" || entries[0].ID != "1" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestLogBufferUserEntriesNeverCoalesce(t *testing.T) {
	b := &logBuffer{}
	now := time.Now()
	b.Append("1", "ls", schema.LogSourceUser, now, time.Minute)
	b.Append("2", "pwd", schema.LogSourceUser, now, time.Minute)
	if got := b.Snapshot(); len(got) != 2 {
		t.Fatalf("expected two user entries, got %+v", got)
	}
}

func TestLogBufferRespectsMaxEntries(t *testing.T) {
	b := &logBuffer{maxEntries: 2}
	now := time.Now()
	b.Append("1", "a", schema.LogSourceUser, now, 0)
	b.Append("2", "b", schema.LogSourceUser, now, 0)
	b.Append("3", "c", schema.LogSourceUser, now, 0)
	got := b.Snapshot()
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Fatalf("unexpected entries %+v", got)
	}
}
