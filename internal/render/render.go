// Package render turns client events and log buffers into terminal lines.
package render

import (
	"fmt"
	"strings"

	"pkt.systems/tether/internal/eventbus"
	"pkt.systems/tether/schema"
)

const (
	userMarker   = "$ "
	stderrMarker = "! "
)

// Renderer formats events as plain or ANSI-styled text lines.
type Renderer struct {
	color bool
}

// New returns a renderer. Color enables ANSI styling of AI output.
func New(color bool) *Renderer {
	return &Renderer{color: color}
}

// Event converts a bus event into zero or more lines. Countdown ticks are
// thinned to every tenth second plus the last three.
func (r *Renderer) Event(event eventbus.Event) []string {
	switch event.Type {
	case eventbus.EventLogAppend:
		if event.Entry == nil {
			return nil
		}
		return prefixLines(fmt.Sprintf("[%s %s] ", event.SessionID, event.Target), r.Entry(event.Target, *event.Entry))
	case eventbus.EventConnection:
		return []string{fmt.Sprintf("[conn] %s", event.Conn)}
	case eventbus.EventConnectivity:
		if event.Online {
			return []string{"[net] online"}
		}
		return []string{"[net] offline"}
	case eventbus.EventCountdown:
		if event.Countdown > 0 && (event.Countdown%10 == 0 || event.Countdown <= 3) {
			return []string{fmt.Sprintf("[conn] reconnecting in %ds", event.Countdown)}
		}
		return nil
	case eventbus.EventQueue:
		return []string{fmt.Sprintf("[queue] %d pending", event.QueueLen)}
	case eventbus.EventCommandFailed:
		if event.Command == nil {
			return nil
		}
		return []string{"[queue] dropped " + Queued(*event.Command)}
	case eventbus.EventResponseComplete:
		return []string{fmt.Sprintf("[%s] response complete", event.SessionID)}
	case eventbus.EventSessions:
		return []string{fmt.Sprintf("[sync] %d sessions", len(event.Sessions))}
	case eventbus.EventSelection:
		return []string{fmt.Sprintf("[focus] %s/%s", event.SessionID, event.TabID)}
	case eventbus.EventTheme:
		return []string{fmt.Sprintf("[theme] %s", event.Theme)}
	case eventbus.EventBatchRun:
		if event.BatchRun == nil {
			return nil
		}
		b := event.BatchRun
		return []string{fmt.Sprintf("[%s] batch %d/%d running=%t", b.SessionID, b.CompletedTasks, b.TotalTasks, b.Running)}
	case eventbus.EventError:
		if event.Message == "" {
			return []string{"[error] unknown"}
		}
		return []string{"[error] " + event.Message}
	default:
		return nil
	}
}

// Entry renders one log entry. AI output gets inline markdown styling.
func (r *Renderer) Entry(target schema.OutputTarget, entry schema.LogEntry) []string {
	lines := splitLines(strings.TrimRight(entry.Text, "\n"))
	if len(lines) == 0 {
		return nil
	}
	switch entry.Source {
	case schema.LogSourceUser:
		return markLines(userMarker, lines)
	case schema.LogSourceStderr:
		return markLines(stderrMarker, lines)
	}
	if target == schema.OutputAI {
		for i, line := range lines {
			lines[i] = Styled(ParseInline(line), r.color)
		}
	}
	return lines
}

// Logs renders both buffers of a log snapshot under headers.
func (r *Renderer) Logs(snapshot schema.LogSnapshot) []string {
	if snapshot.SessionID == "" {
		return []string{schema.ErrNoActiveSession.Error()}
	}
	out := []string{fmt.Sprintf("-- %s/%s ai (%d) --", snapshot.SessionID, snapshot.TabID, len(snapshot.AILogs))}
	for _, entry := range snapshot.AILogs {
		out = append(out, r.Entry(schema.OutputAI, entry)...)
	}
	out = append(out, fmt.Sprintf("-- %s terminal (%d) --", snapshot.SessionID, len(snapshot.ShellLogs)))
	for _, entry := range snapshot.ShellLogs {
		out = append(out, r.Entry(schema.OutputTerminal, entry)...)
	}
	return out
}

// Sessions renders the session list, starring the active session and tab.
func (r *Renderer) Sessions(sessions []schema.Session, active schema.SessionID, activeTab schema.TabID) []string {
	if len(sessions) == 0 {
		return []string{"no sessions"}
	}
	var out []string
	for _, session := range sessions {
		isActive := session.ID == active
		out = append(out, fmt.Sprintf("%s %s %s [%s, %s]", star(isActive), session.ID, session.Name, session.State, session.InputMode))
		for _, tab := range session.Tabs {
			out = append(out, fmt.Sprintf("    %s %s %s [%s]", star(isActive && tab.ID == activeTab), tab.ID, tab.Name, tab.State))
		}
	}
	return out
}

// Queued renders one queued command on a single line.
func Queued(cmd schema.QueuedCommand) string {
	line := fmt.Sprintf("%s %s [%s] %q attempts=%d", cmd.ID, cmd.SessionID, cmd.InputMode, cmd.Command, cmd.Attempts)
	if cmd.LastError != "" {
		line += " err=" + cmd.LastError
	}
	return line
}

func star(on bool) string {
	if on {
		return "*"
	}
	return " "
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func markLines(marker string, lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		if i == 0 {
			out[i] = marker + line
			continue
		}
		out[i] = strings.Repeat(" ", len(marker)) + line
	}
	return out
}

func prefixLines(prefix string, lines []string) []string {
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return lines
}
