package core

import (
	"time"

	"pkt.systems/tether/schema"
)

const defaultMaxEntries = 2000

// logBuffer is an ordered list of log entries. Streamed chunks from the same
// source within the coalescing window extend the last entry.
type logBuffer struct {
	entries    []schema.LogEntry
	maxEntries int
}

// Append adds text from source at now. It returns the entry as stored and
// whether a new entry was created.
func (b *logBuffer) Append(id string, text string, source schema.LogSource, now time.Time, window time.Duration) (schema.LogEntry, bool) {
	if n := len(b.entries); n > 0 && window > 0 && source != schema.LogSourceUser {
		last := &b.entries[n-1]
		if last.Source == source && now.Sub(last.Timestamp) <= window {
			last.Text += text
			last.Timestamp = now
			return *last, false
		}
	}
	entry := schema.LogEntry{ID: id, Timestamp: now, Text: text, Source: source}
	b.entries = append(b.entries, entry)
	maxEntries := b.maxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if len(b.entries) > maxEntries {
		b.entries = append([]schema.LogEntry(nil), b.entries[len(b.entries)-maxEntries:]...)
	}
	return entry, true
}

// Replace swaps the contents for an authoritative snapshot.
func (b *logBuffer) Replace(entries []schema.LogEntry) {
	maxEntries := b.maxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	b.entries = append([]schema.LogEntry(nil), entries...)
}

// Reset drops every entry.
func (b *logBuffer) Reset() {
	b.entries = nil
}

// Snapshot returns a copy of the entries.
func (b *logBuffer) Snapshot() []schema.LogEntry {
	return append([]schema.LogEntry(nil), b.entries...)
}
