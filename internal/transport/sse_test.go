package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pkt.systems/tether/schema"
)

type streamServer struct {
	mu         sync.Mutex
	lastIDs    []string
	posted     []schema.Message
	postClient []string
}

func (s *streamServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.lastIDs = append(s.lastIDs, r.Header.Get("Last-Event-ID"))
		s.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		write := func(seq uint64, ev schema.Event) {
			data, _ := json.Marshal(ev)
			if seq > 0 {
				_, _ = fmt.Fprintf(w, "id: %d\n", seq)
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		}
		write(0, schema.Event{Type: schema.EventConnected, ClientID: "client-1"})
		_, _ = io.WriteString(w, "data: {broken\n\n")
		write(7, schema.Event{Type: schema.EventSessionOutput, SessionID: "s1", Data: "hello"})
		if flusher != nil {
			flusher.Flush()
		}
	})
	mux.HandleFunc(MessagesPath, func(w http.ResponseWriter, r *http.Request) {
		var msg schema.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode message: %v", err)
		}
		if msg.Type == schema.MessageCloseTab {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"tab not found"}`)
			return
		}
		s.mu.Lock()
		s.posted = append(s.posted, msg)
		s.postClient = append(s.postClient, r.Header.Get(HeaderClientID))
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func TestDialRecvSend(t *testing.T) {
	srv := &streamServer{}
	server := httptest.NewServer(srv.handler(t))
	defer server.Close()

	dialer, err := NewSSEDialer(Options{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, schema.GetSessions()); err != nil {
		t.Fatalf("send after handshake: %v", err)
	}

	first, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if first.Type != schema.EventConnected || first.ClientID != "client-1" {
		t.Fatalf("unexpected first event %+v", first)
	}
	second, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if second.Type != schema.EventSessionOutput || second.Seq != 7 || second.Data != "hello" {
		t.Fatalf("unexpected second event %+v", second)
	}
	if dialer.LastSeq() != 7 {
		t.Fatalf("expected last seq 7, got %d", dialer.LastSeq())
	}

	if err := conn.Send(ctx, schema.SendCommand("s1", "hello", schema.InputModeAI)); err != nil {
		t.Fatalf("send: %v", err)
	}
	err = conn.Send(ctx, schema.CloseTab("s1", "t9"))
	apiErr := AsAPIError(err)
	if apiErr == nil || apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "tab not found" {
		t.Fatalf("expected decoded api error, got %v", err)
	}

	srv.mu.Lock()
	if len(srv.posted) != 2 || srv.posted[0].Type != schema.MessageGetSessions || srv.posted[1].Command != "hello" ||
		srv.postClient[0] != "client-1" || srv.postClient[1] != "client-1" {
		t.Fatalf("unexpected posts %+v %+v", srv.posted, srv.postClient)
	}
	srv.mu.Unlock()

	if _, err := conn.Recv(ctx); err == nil {
		t.Fatalf("expected end of stream")
	}

	again, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	_ = again.Close()
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.lastIDs) != 2 || srv.lastIDs[0] != "" || srv.lastIDs[1] != "7" {
		t.Fatalf("expected resume header on redial, got %v", srv.lastIDs)
	}
}

func TestDialRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	dialer, err := NewSSEDialer(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	_, err = dialer.Dial(context.Background())
	if apiErr := AsAPIError(err); apiErr == nil || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestNewSSEDialerValidatesURL(t *testing.T) {
	if _, err := NewSSEDialer(Options{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewSSEDialer(Options{BaseURL: "ws://peer"}); err == nil {
		t.Fatalf("expected error for non-http url")
	}
}

func TestDialWaitsForConnectedFrame(t *testing.T) {
	const delay = 50 * time.Millisecond
	var posted sync.WaitGroup
	posted.Add(1)
	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		flusher.Flush()
		time.Sleep(delay)
		_, _ = io.WriteString(w, `data: {"type":"connected","clientId":"late"}`+"\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc(MessagesPath, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(HeaderClientID); got != "late" {
			t.Errorf("expected client id late, got %q", got)
		}
		w.WriteHeader(http.StatusAccepted)
		posted.Done()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dialer, err := NewSSEDialer(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	conn, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("dial returned before the connected frame (%s)", elapsed)
	}
	if err := conn.Send(ctx, schema.GetSessions()); err != nil {
		t.Fatalf("send right after dial: %v", err)
	}
	posted.Wait()
	first, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if first.Type != schema.EventConnected || first.ClientID != "late" {
		t.Fatalf("expected buffered connected frame, got %+v", first)
	}
}

func TestDialRejectsStreamWithoutConnectedFrame(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"type":"theme","theme":"nord"}`+"\n\n")
	}))
	defer server.Close()
	dialer, err := NewSSEDialer(Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	if _, err := dialer.Dial(context.Background()); !errors.Is(err, schema.ErrNotConnected) {
		t.Fatalf("expected handshake error, got %v", err)
	}
}
