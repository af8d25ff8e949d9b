package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sehha.app/diagnosis-assistant/internal/api"
	"sehha.app/diagnosis-assistant/internal/config"
	"sehha.app/diagnosis-assistant/internal/report"
)

const shutdownTimeout = 30 * time.Second

var serveFlags struct {
	port string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the idle-session sweeper (default)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.port, "port", "", "HTTP port (overrides HTTP_PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.AppConfig
	if serveFlags.port != "" {
		cfg.HTTPPort = serveFlags.port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	handler := api.NewAPIHandler(eng.service, eng.db, report.NewRenderer(cfg.ReportFontPath))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // knowledge answers may wait on an LLM
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting server. Press Ctrl+C to quit.", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		return eng.sessions.Run(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server exiting gracefully")
	return nil
}
