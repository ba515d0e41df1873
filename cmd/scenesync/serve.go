package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/scenesync/internal/presentation/tui"
	httpAdapter "github.com/aretw0/scenesync/pkg/adapters/http"
	"github.com/aretw0/scenesync/pkg/adapters/websocket"
	"github.com/aretw0/scenesync/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the replication server",
	Long: `Serves documents over HTTP: JSON patches, SSE change streams, a WebSocket
replication endpoint per document and Prometheus metrics on /metrics.
With the redis store, documents also replicate across server instances.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err := observability.NewMetrics(reg)
		if err != nil {
			return err
		}
		hooks := metrics.Hooks().Merge(observability.LogHooks(logger))

		docs := st.manager(hooks)
		handler := httpAdapter.NewHandler(docs,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithMount("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			httpAdapter.WithDocMount("/ws", websocket.Handler(docs,
				websocket.WithLogger(logger),
				websocket.WithCheckOrigin(func(*http.Request) bool { return true }),
			)),
		)

		srv := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: handler,
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(cmd.OutOrStdout())
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("scenesync server listening", "address", srv.Addr, "store", cfg.Store.Driver)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "err", err)
				_ = srv.Close()
			}
		}

		// Persist and release every open document.
		if err := docs.CloseAll(context.Background()); err != nil {
			return fmt.Errorf("closing documents: %w", err)
		}
		logger.Info("scenesync server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides http.addr)")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}
