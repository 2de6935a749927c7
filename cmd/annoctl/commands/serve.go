package commands

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"annocore/internal/adapters/changeshttp"
	"annocore/internal/core"
	"annocore/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownGrace = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the HTTP change endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serveHandler assembles the HTTP handler for l: the change routes plus
// /metrics when enabled.
func (a *app) serveHandler(l *local, reg *prometheus.Registry) http.Handler {
	h := changeshttp.NewHandler(l.svc, l.files, core.NewZapLogger(logger.Named("http")),
		changeshttp.WithSubmitLimit(a.cfg.Server.SubmitRate, a.cfg.Server.SubmitBurst))
	if !a.cfg.Server.Metrics {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", h)
	return mux
}

func (a *app) serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	l, err := a.openLocal(ctx, core.WithMetrics(core.NewPrometheusMetricsRecorder(reg)))
	if err != nil {
		return err
	}
	defer l.close()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.serveHandler(l, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := logger.Named("serve")
	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", srv.Addr, "storage", a.cfg.Storage.Driver, "blob", a.cfg.Blob.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}
	log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
