package schema

import (
	"testing"
	"time"
)

func TestNormalizeClientConfigDefaults(t *testing.T) {
	cfg, err := NormalizeClientConfig(ClientConfig{PeerURL: "http://peer"})
	if err != nil {
		t.Fatalf("NormalizeClientConfig: %v", err)
	}
	if cfg.QueueCapacity != DefaultQueueCapacity || cfg.MaxRetries != DefaultMaxRetries {
		t.Fatalf("unexpected queue defaults %+v", cfg)
	}
	if cfg.SettleDelay != DefaultSettleDelay || cfg.FreshnessWindow != DefaultFreshnessWindow {
		t.Fatalf("unexpected timing defaults %+v", cfg)
	}
	cfg, err = NormalizeClientConfig(ClientConfig{PeerURL: "http://peer", QueueCapacity: 2, SettleDelay: time.Second})
	if err != nil {
		t.Fatalf("NormalizeClientConfig: %v", err)
	}
	if cfg.QueueCapacity != 2 || cfg.SettleDelay != time.Second {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}

func TestNormalizeClientConfigRequiresPeer(t *testing.T) {
	if _, err := NormalizeClientConfig(ClientConfig{}); err == nil {
		t.Fatalf("expected error without peer url")
	}
}

func TestNormalizeThemeName(t *testing.T) {
	got, ok := NormalizeThemeName("  Solarized_Dark Pro ")
	if !ok || got != "solarized-dark-pro" {
		t.Fatalf("unexpected theme %q ok=%v", got, ok)
	}
	if _, ok := NormalizeThemeName("   "); ok {
		t.Fatalf("expected blank theme to be rejected")
	}
}

func TestSessionPatchApplyLeavesNilFields(t *testing.T) {
	session := Session{ID: "s1", Name: "alpha", InputMode: InputModeAI, Cwd: "/src", ActiveTabID: "t1"}
	mode := InputModeTerminal
	tab := TabID("t2")
	patch := &SessionPatch{InputMode: &mode, ActiveTabID: &tab, LastResponse: &LastResponse{Text: "done"}}
	patch.Apply(&session)
	if session.InputMode != InputModeTerminal || session.ActiveTabID != "t2" {
		t.Fatalf("patch not applied: %+v", session)
	}
	if session.Name != "alpha" || session.Cwd != "/src" {
		t.Fatalf("nil fields overwritten: %+v", session)
	}
	patch.LastResponse.Text = "mutated"
	if session.LastResponse == nil || session.LastResponse.Text != "done" {
		t.Fatalf("expected patch payload to be copied, got %+v", session.LastResponse)
	}
	var nilPatch *SessionPatch
	nilPatch.Apply(&session)
}

func TestSessionCloneIsDeep(t *testing.T) {
	session := Session{ID: "s1", Tabs: []Tab{{ID: "t1", Usage: &UsageStats{}}}}
	clone := session.Clone()
	clone.Tabs[0].ID = "t9"
	if session.Tabs[0].ID != "t1" {
		t.Fatalf("clone shares tab slice")
	}
	if clone.Tabs[0].Usage == session.Tabs[0].Usage {
		t.Fatalf("clone shares usage pointer")
	}
	if !session.HasTab("t1") || session.HasTab("t9") {
		t.Fatalf("unexpected HasTab result")
	}
}

func TestViewStatePatchApply(t *testing.T) {
	state := DefaultViewState()
	id := SessionID("s2")
	filter := HistoryFilterTerminal
	ViewStatePatch{ActiveSessionID: &id, HistoryFilter: &filter}.Apply(&state)
	if state.ActiveSessionID != "s2" || state.HistoryFilter != HistoryFilterTerminal {
		t.Fatalf("patch not applied: %+v", state)
	}
	if state.InputMode != InputModeAI {
		t.Fatalf("untouched field changed: %+v", state)
	}
	ViewStatePatch{}.Apply(nil)
}

func TestConnStateOpen(t *testing.T) {
	for _, state := range []ConnState{ConnConnected, ConnAuthenticating, ConnAuthenticated} {
		if !state.Open() {
			t.Fatalf("%s should be open", state)
		}
	}
	for _, state := range []ConnState{ConnDisconnected, ConnConnecting} {
		if state.Open() {
			t.Fatalf("%s should not be open", state)
		}
	}
}
