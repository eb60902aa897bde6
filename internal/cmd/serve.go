package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dendrascience/dendra-blockstore/config"
	"github.com/dendrascience/dendra-blockstore/metrics"
	"github.com/dendrascience/dendra-blockstore/server"
	"github.com/dendrascience/dendra-blockstore/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewServeCmd creates and returns the serve subcommand. It opens the store
// and answers worker requests until interrupted.
func NewServeCmd() *cobra.Command {
	var (
		fresh         bool
		network       string
		address       string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storage server",
		Long: `Run the storage server on the configured socket.

With --fresh the storage directory is wiped and formatted first. Otherwise the
existing store is attached and owner counts are rebuilt from object metadata;
block size, block count and digest then come from the store, and a configured
digest that differs from the store's is an error. When metrics_listen is set, counters are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, func(c *config.Config) {
				if network != "" {
					c.Listen.Network = network
				}
				if address != "" {
					c.Listen.Address = address
				}
				if metricsListen != "" {
					c.MetricsListen = metricsListen
				}
			})
			if err != nil {
				return err
			}
			logger.Info("djbs starting", version.LogAttrs()...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, cfg, logger, fresh)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					logger.Error("closing store", "error", err)
				}
			}()

			m := metrics.NewMetrics(st)
			srv := server.New(st, server.Config{
				Network:          cfg.Listen.Network,
				Address:          cfg.Listen.Address,
				MaxPayload:       uint32(cfg.MaxPayload),
				HandshakeTimeout: server.DefaultConfig().HandshakeTimeout,
				WriteTimeout:     server.DefaultConfig().WriteTimeout,
			}, logger, m)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			if cfg.MetricsListen != "" {
				g.Go(func() error { return serveMetrics(ctx, cfg.MetricsListen, m) })
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("serving: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "Wipe and format the store before serving")
	cmd.Flags().StringVar(&network, "network", "", "Listener network: unix or tcp (overrides config)")
	cmd.Flags().StringVar(&address, "listen", "", "Listener address (overrides config)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "host:port for /metrics (overrides config)")

	return cmd
}

// serveMetrics runs the /metrics endpoint until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
