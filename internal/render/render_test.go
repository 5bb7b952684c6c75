package render

import (
	"reflect"
	"strings"
	"testing"

	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/schema"
)

func TestParseInlinePlain(t *testing.T) {
	got := ParseInline("hello")
	want := []Span{{Text: "hello"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected spans: %#v", got)
	}
}

func TestParseInlineBoldItalicCode(t *testing.T) {
	got := ParseInline("a **bold** and *ital* and `co*de`")
	want := []Span{
		{Text: "a "},
		{Text: "bold", Bold: true},
		{Text: " and "},
		{Text: "ital", Italic: true},
		{Text: " and "},
		{Text: "co*de", Code: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected spans: %#v", got)
	}
}

func TestParseInlineUnmatchedAndEscaped(t *testing.T) {
	got := ParseInline(`2 ** 3 \*x\* *y`)
	want := []Span{{Text: "2 ** 3 *x* *y"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected spans: %#v", got)
	}
}

func TestStyledColor(t *testing.T) {
	spans := ParseInline("run `make`")
	if got := Styled(spans, false); got != "run make" {
		t.Fatalf("plain render = %q", got)
	}
	if got := Styled(spans, true); got != "run "+ansiCode+"make"+ansiReset {
		t.Fatalf("color render = %q", got)
	}
}

func TestEntryMarksUserAndStderr(t *testing.T) {
	r := New(false)
	got := r.Entry(schema.OutputTerminal, schema.LogEntry{Text: "ls\n-la", Source: schema.LogSourceUser})
	if !reflect.DeepEqual(got, []string{"$ ls", "  -la"}) {
		t.Fatalf("unexpected user lines %q", got)
	}
	got = r.Entry(schema.OutputTerminal, schema.LogEntry{Text: "boom\n", Source: schema.LogSourceStderr})
	if !reflect.DeepEqual(got, []string{"! boom"}) {
		t.Fatalf("unexpected stderr lines %q", got)
	}
}

func TestEntryStylesAIOutputOnly(t *testing.T) {
	r := New(false)
	if got := r.Entry(schema.OutputAI, schema.LogEntry{Text: "**done**", Source: schema.LogSourceStdout}); got[0] != "done" {
		t.Fatalf("expected markdown stripped, got %q", got)
	}
	if got := r.Entry(schema.OutputTerminal, schema.LogEntry{Text: "**raw**", Source: schema.LogSourceStdout}); got[0] != "**raw**" {
		t.Fatalf("expected terminal output untouched, got %q", got)
	}
}

func TestEventLogAppendPrefixesEveryLine(t *testing.T) {
	r := New(false)
	lines := r.Event(eventbus.Event{
		Type:      eventbus.EventLogAppend,
		SessionID: "s1",
		Target:    schema.OutputTerminal,
		Entry:     &schema.LogEntry{Text: "a\nb", Source: schema.LogSourceStdout},
	})
	if !reflect.DeepEqual(lines, []string{"[s1 terminal] a", "[s1 terminal] b"}) {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestEventThinsCountdown(t *testing.T) {
	r := New(false)
	count := 0
	for _, n := range []int{30, 29, 20, 11, 3, 0} {
		count += len(r.Event(eventbus.Event{Type: eventbus.EventCountdown, Countdown: n}))
	}
	if count != 3 {
		t.Fatalf("expected 3 countdown lines, got %d", count)
	}
}

func TestSessionsStarsSelection(t *testing.T) {
	r := New(false)
	lines := r.Sessions([]schema.Session{
		{ID: "s1", Name: "alpha", State: schema.SessionIdle, InputMode: schema.InputModeAI, Tabs: []schema.Tab{{ID: "t1"}, {ID: "t2"}}},
		{ID: "s2", Name: "beta", State: schema.SessionBusy, InputMode: schema.InputModeTerminal},
	}, "s1", "t2")
	if !strings.HasPrefix(lines[0], "* s1") || !strings.HasPrefix(lines[2], "    * t2") || !strings.HasPrefix(lines[3], "  s2") {
		t.Fatalf("unexpected session lines %q", lines)
	}
}

func TestQueuedIncludesLastError(t *testing.T) {
	line := Queued(schema.QueuedCommand{ID: "c1", SessionID: "s1", Command: "hi", InputMode: schema.InputModeAI, Attempts: 2, LastError: "send rejected"})
	if line != `c1 s1 [ai] "hi" attempts=2 err=send rejected` {
		t.Fatalf("unexpected queued line %q", line)
	}
}
