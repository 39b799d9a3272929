package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/locket/internal/gateway"
	"github.com/roach88/locket/internal/metrics"
)

// GatewayOptions holds flags for the gateway command.
type GatewayOptions struct {
	*RootOptions
	Listen   string
	InMemory bool
}

// NewGatewayCommand creates the gateway command.
func NewGatewayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GatewayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve the anchoring control-plane",
		Long: `Serve the control-plane HTTP API over an append-only ledger stored in
gateway.data_dir.

Routes: POST /api/anchor, POST /api/anchor/batch, GET /api/verify/{assetId},
GET /health and GET /metrics.

Example:
  locket gateway
  locket gateway --listen :3000 --in-memory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides gateway.listen)")
	cmd.Flags().BoolVar(&opts.InMemory, "in-memory", false, "keep the ledger in memory only")

	return cmd
}

func runGateway(opts *GatewayOptions, cmd *cobra.Command) error {
	cfg := opts.Config.Gateway
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.InMemory {
		cfg.InMemory = true
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := gateway.OpenLedger(gateway.LedgerConfig{
		Path:       cfg.DataDir,
		InMemory:   cfg.InMemory,
		SyncWrites: opts.Config.GatewaySyncWrites(),
		Logger:     opts.Logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			opts.Logger.Error("error closing ledger", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to register metrics", err)
	}

	srv := gateway.NewServer(ledger,
		gateway.WithLogger(opts.Logger),
		gateway.WithMetrics(m, reg),
		gateway.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	opts.Logger.Info("gateway starting", "listen", cfg.Listen, "in_memory", cfg.InMemory, "data_dir", cfg.DataDir)
	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		return WrapExitError(ExitFailure, "gateway error", err)
	}
	return nil
}
