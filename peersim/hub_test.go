package peersim

import (
	"testing"

	"pkt.systems/tether/schema"
)

func TestHubReplayAfterSeq(t *testing.T) {
	hub := NewHub(3, nil)
	for i := 0; i < 5; i++ {
		hub.Publish(schema.Event{Type: schema.EventSessionStateChange, SessionID: "s1"})
	}
	if hub.Seq() != 5 {
		t.Fatalf("expected seq 5, got %d", hub.Seq())
	}
	replay := hub.Replay(3)
	if len(replay) != 2 || replay[0].Seq != 4 || replay[1].Seq != 5 {
		t.Fatalf("unexpected replay %+v", replay)
	}
	if got := hub.Replay(0); len(got) != 3 || got[0].Seq != 3 {
		t.Fatalf("expected history trimmed to 3, got %+v", got)
	}
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub(10, nil)
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubB()
	hub.Publish(schema.Event{Type: schema.EventTheme, Theme: "nord"})
	for _, ch := range []<-chan schema.Event{a, b} {
		event := <-ch
		if event.Theme != "nord" || event.Seq != 1 {
			t.Fatalf("unexpected event %+v", event)
		}
	}
	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	hub.Publish(schema.Event{Type: schema.EventTheme, Theme: "dracula"})
	if event := <-b; event.Seq != 2 {
		t.Fatalf("unexpected event %+v", event)
	}
}
