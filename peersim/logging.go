package peersim

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"pkt.systems/pslog"
	"pkt.systems/tether/internal/logx"
	"pkt.systems/tether/internal/transport"
	"pkt.systems/tether/schema"
)

// statusWriter records what a handler wrote. It forwards Flush so SSE
// streams keep working behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLogger is router middleware. Routes are logged by template so
// per-session paths group together; streams log at Info when they end,
// failures at Warn and everything else at Debug.
func requestLogger(base pslog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			logger := base.With("method", r.Method, "route", route, "remote", r.RemoteAddr)
			if id := r.Header.Get(transport.HeaderClientID); id != "" {
				logger = logger.With("client", id)
			}
			session := schema.SessionID(mux.Vars(r)["id"])
			tab := schema.TabID(r.URL.Query().Get("tab_id"))
			if session != "" {
				logger = logger.With("session", session)
				if tab != "" {
					logger = logger.With("tab", tab)
				}
			}
			r = r.WithContext(logx.ContextWithSessionLogger(r.Context(), logger, session, tab))

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			fields := []any{"status", sw.status, "bytes", sw.bytes, "duration_ms", time.Since(start).Milliseconds()}
			switch {
			case sw.status >= http.StatusBadRequest:
				logger.Warn("peer request failed", fields...)
			case route == transport.StreamPath:
				logger.Info("peer stream closed", fields...)
			default:
				logger.Debug("peer request", fields...)
			}
		})
	}
}
