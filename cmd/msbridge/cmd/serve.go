package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arloliu/go-msbridge/logger"
	"github.com/arloliu/go-msbridge/remote"
)

const (
	listenFlag       = "listen"
	writeTimeoutFlag = "write-timeout"

	instrumentPath = "/instrument"
	metricsPath    = "/metrics"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a replayed recording as a remote instrument.",
		Long: `serve exposes the replayed recording over websocket at ` + instrumentPath + ` and its
counters in the Prometheus text format at ` + metricsPath + `. The replay runs in real time.`,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.String(listenFlag, ":7600", "Address to listen on.")
	flags.Duration(writeTimeoutFlag, remote.DefaultWriteTimeout, "Deadline of a single websocket write.")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	common, err := loadCommonConfig(v)
	if err != nil {
		return err
	}

	l, flush := common.newLogger()
	defer func() {
		if ferr := flush(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim, err := common.openSimulator(ctx, l)
	if err != nil {
		return err
	}
	defer sim.Close()

	reg := prometheus.NewRegistry()
	if err := registerMetrics(reg, sim); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	srv, err := remote.NewServer(sim,
		remote.WithLogger(l),
		remote.WithWriteTimeout(v.GetDuration(writeTimeoutFlag)),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", v.GetString(listenFlag))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	return serveHTTP(ctx, ln, newServeMux(srv, reg), l)
}

func newServeMux(srv *remote.Server, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(instrumentPath, srv)
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return mux
}

// serveHTTP serves handler on ln until ctx is done, then shuts the server down.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, l logger.Logger) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()
	l.Info("serving remote instrument", "addr", ln.Addr().String(), "instrument", instrumentPath, "metrics", metricsPath)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown, the deferred
	// remote.Server.Close disconnects them
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	l.Info("server stopped")

	return nil
}
