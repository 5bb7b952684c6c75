package peersim

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"pkt.systems/pslog"
)

const shutdownTimeout = 5 * time.Second

// serve binds addr before returning control to the accept loop so bind
// errors surface directly. Streams are cut by cancelling BaseContext.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	logger := pslog.Ctx(ctx)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	baseCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return baseCtx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	logger.Info("mock peer listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		cancelStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mock peer shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
