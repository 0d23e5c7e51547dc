package myhttp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/xerrors"
)

type ServeConfig struct {
	KeepAlive      bool
	MaxConnections int
	// Lameduck keeps the listener open after ctx is done so load balancers can drain.
	Lameduck               time.Duration
	TerminationGracePeriod time.Duration
}

// Serve handles connections on listener until ctx is done, then shuts the server down
// gracefully. It returns early if the server itself fails.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, c ServeConfig) error {
	server := &http.Server{
		Handler: handler,
	}
	server.SetKeepAlivesEnabled(c.KeepAlive)

	if c.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, c.MaxConnections)
	}

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return xerrors.Errorf("failed to serve HTTP: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down", "lameduck", c.Lameduck)
	time.Sleep(c.Lameduck)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.TerminationGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("failed to shutdown server: %w", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}
