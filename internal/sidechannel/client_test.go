package sidechannel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pkt.systems/tether/internal/transport"
	"pkt.systems/tether/schema"
)

func TestFetchLogsSendsTabAndClient(t *testing.T) {
	var gotTab, gotClient string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s1/logs" {
			http.NotFound(w, r)
			return
		}
		gotTab = r.URL.Query().Get("tab_id")
		gotClient = r.Header.Get(transport.HeaderClientID)
		_ = json.NewEncoder(w).Encode(schema.LogSnapshot{
			AILogs: []schema.LogEntry{{ID: "1", Text: "hi", Source: schema.LogSourceStdout}},
		})
	}))
	defer server.Close()

	client, err := New(Options{BaseURL: server.URL, ClientID: func() schema.ClientID { return "c1" }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snapshot, err := client.FetchLogs(context.Background(), "s1", "t1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotTab != "t1" || gotClient != "c1" {
		t.Fatalf("unexpected request tab=%q client=%q", gotTab, gotClient)
	}
	if snapshot.SessionID != "s1" || snapshot.TabID != "t1" || len(snapshot.AILogs) != 1 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestInterruptMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"session not found"}`))
	}))
	defer server.Close()
	client, err := New(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = client.Interrupt(context.Background(), "ghost")
	if !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := client.Interrupt(context.Background(), ""); !errors.Is(err, schema.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}
