package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"pkt.systems/tether"
	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/internal/netstate"
	"pkt.systems/tether/internal/render"
	"pkt.systems/tether/schema"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  /sessions              list sessions
  /select <id> [tab]     focus a session
  /tab <id>              focus a tab in the active session
  /newtab                open a tab
  /close [tab]           close a tab (default: active tab)
  /mode ai|terminal      switch input mode of the active session
  /interrupt             interrupt the active session
  /logs                  print the active log buffers
  /queue                 list queued commands
  /pause, /resume        hold or release delivery of queued commands
  /retry                 reconnect now
  /online, /offline      toggle simulated connectivity (--offline only)
  /quit                  exit
anything else is sent to the active session`

type repl struct {
	client      *tether.Client
	manual      *netstate.Manual
	interactive bool
	render      *render.Renderer

	mu  sync.Mutex
	out io.Writer
}

func newREPL(client *tether.Client, manual *netstate.Manual, out io.Writer, interactive bool) *repl {
	return &repl{client: client, manual: manual, out: out, interactive: interactive, render: render.New(interactive)}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *repl) prompt() {
	if r.interactive {
		r.printf("> ")
	}
}

// handle executes one input line. It returns errQuit to end the session.
func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		r.send(line)
		return nil
	}
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	mirror := r.client.Mirror()
	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		r.printf("%s\n", helpText)
	case "/sessions":
		r.printSessions()
	case "/select":
		if len(args) == 0 {
			r.printf("usage: /select <id> [tab]\n")
			return nil
		}
		var tab schema.TabID
		if len(args) > 1 {
			tab = schema.TabID(args[1])
		}
		if _, ok := mirror.Session(schema.SessionID(args[0])); !ok {
			r.printf("unknown session %s\n", args[0])
			return nil
		}
		r.reportSent(mirror.SelectSession(schema.SessionID(args[0]), tab))
	case "/tab":
		if len(args) == 0 {
			r.printf("usage: /tab <id>\n")
			return nil
		}
		if !r.requireSession() {
			return nil
		}
		r.reportSent(mirror.SelectTab(schema.TabID(args[0])))
	case "/newtab":
		if !r.requireSession() {
			return nil
		}
		r.reportSent(mirror.NewTab())
	case "/close":
		if !r.requireSession() {
			return nil
		}
		_, tab := mirror.Selection()
		if len(args) > 0 {
			tab = schema.TabID(args[0])
		}
		if tab == "" {
			r.printf("no tab to close\n")
			return nil
		}
		r.reportSent(mirror.CloseTab(tab))
	case "/mode":
		mode := schema.InputMode("")
		if len(args) > 0 {
			mode = schema.InputMode(strings.ToLower(args[0]))
		}
		if !mode.Valid() {
			r.printf("usage: /mode ai|terminal\n")
			return nil
		}
		if !r.requireSession() {
			return nil
		}
		id, _ := mirror.Selection()
		r.reportSent(r.client.SwitchMode(id, mode))
	case "/interrupt":
		id, _ := mirror.Selection()
		if err := mirror.Interrupt(ctx, id); err != nil {
			r.printf("interrupt failed: %v\n", err)
			return nil
		}
		r.printf("interrupt sent\n")
	case "/logs":
		logs := mirror.Logs()
		r.printLines(r.render.Logs(logs))
		if logs.SessionID != "" {
			views := r.client.ViewState()
			views.DebouncedSaveScroll(schema.ScrollAILogs, float64(len(logs.AILogs)))
			views.DebouncedSaveScroll(schema.ScrollShellLogs, float64(len(logs.ShellLogs)))
		}
	case "/queue":
		r.printQueue()
	case "/pause":
		r.client.Queue().Pause()
		r.printf("queue paused, %d pending\n", r.client.Queue().Len())
	case "/resume":
		queue := r.client.Queue()
		queue.Resume()
		queue.Kick()
		r.printf("queue resumed, %d pending\n", queue.Len())
	case "/retry":
		r.client.Retry()
	case "/online", "/offline":
		if r.manual == nil {
			r.printf("connectivity is probed; start with --offline to control it\n")
			return nil
		}
		r.manual.Set(name == "/online")
	default:
		r.printf("unknown command %s (try /help)\n", name)
	}
	return nil
}

func (r *repl) send(command string) {
	queued, err := r.client.SendCommand("", command, "")
	switch {
	case err != nil:
		r.printf("send failed: %v\n", err)
	case queued:
		r.printf("[queued] %d pending\n", r.client.Queue().Len())
	}
}

func (r *repl) requireSession() bool {
	if id, _ := r.client.Mirror().Selection(); id == "" {
		r.printf("%v\n", schema.ErrNoActiveSession)
		return false
	}
	return true
}

func (r *repl) reportSent(ok bool) {
	if !ok {
		r.printf("not connected; change applied locally only\n")
	}
}

func (r *repl) printLines(lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range lines {
		_, _ = fmt.Fprintln(r.out, line)
	}
}

func (r *repl) printSessions() {
	mirror := r.client.Mirror()
	active, activeTab := mirror.Selection()
	r.printLines(r.render.Sessions(mirror.Sessions(), active, activeTab))
}

func (r *repl) printQueue() {
	queue := r.client.Queue()
	items := queue.Items()
	switch {
	case queue.Paused():
		r.printf("queue paused\n")
	case queue.Processing():
		r.printf("queue draining\n")
	}
	if len(items) == 0 {
		r.printf("queue empty\n")
		return
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, render.Queued(item))
	}
	r.printLines(lines)
}

func (r *repl) printEvent(event eventbus.Event) {
	r.printLines(r.render.Event(event))
}
