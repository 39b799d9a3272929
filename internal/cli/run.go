package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/locket/internal/engine"
	"github.com/roach88/locket/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep a session open with padding and periodic sync",
		Long: `Open a long-lived session that writes dummy records at random intervals
and anchors pending events every sync.interval_seconds.

Runs until interrupted. With --metrics-addr Prometheus metrics are served
at /metrics.

Example:
  locket run
  locket run --metrics-addr 127.0.0.1:9464 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to register metrics", err)
	}

	s, err := opts.openSession(ctx, longLived, m)
	if err != nil {
		return err
	}
	defer opts.closeSession(s)

	s.OnStatusChange(func(syncing bool) {
		opts.Logger.Debug("sync status changed", "syncing", syncing)
	})
	s.OnSyncComplete(func(r engine.Report) {
		if r.Anchored > 0 {
			opts.Logger.Info("batch anchored", "anchored", r.Anchored, "tx_id", r.TxID)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	if opts.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, opts.MetricsAddr, reg, opts.Logger)
		})
	}

	remote := opts.Config.Anchor.URL
	if remote == "" {
		remote = "offline"
	}
	opts.Logger.Info("session running",
		"identity", s.Identity(),
		"data_dir", opts.Config.DataDir,
		"remote", remote,
		"padding", opts.Config.PaddingEnabled(),
		"sync_interval", opts.Config.SyncInterval(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Session open. Press Ctrl-C to stop.")

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "session error", err)
	}

	opts.Logger.Info("session stopped gracefully")
	return nil
}

// serveMetrics serves reg on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
