// Package logx holds pslog helpers that annotate loggers with session context.
package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tether/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	tabKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// Or returns log, or the context logger of a background context when log is nil.
func Or(log pslog.Logger) pslog.Logger {
	if log != nil {
		return log
	}
	return pslog.Ctx(context.Background())
}

// WithSession annotates the context logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSessionTab annotates the context logger with session and tab identifiers.
func WithSessionTab(ctx context.Context, sessionID schema.SessionID, tabID schema.TabID) pslog.Logger {
	log := WithSession(ctx, sessionID)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithCommand annotates the logger with queued command metadata.
func WithCommand(log pslog.Logger, cmd schema.QueuedCommand) pslog.Logger {
	if cmd.ID != "" {
		log = log.With("command_id", cmd.ID)
	}
	if cmd.SessionID != "" {
		log = log.With("session", cmd.SessionID)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithSessionLogger attaches the logger and session/tab markers to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID, tabID schema.TabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTab(ContextWithSession(ctx, sessionID), tabID)
}
