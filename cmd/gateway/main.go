// Capability gateway - negotiates W3C automation-session capabilities into
// canonical, driver-consumable form and validates extension arguments.
// Designed for Cloud Run deployment with stateless operation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caps-gateway/internal/config"
	"caps-gateway/internal/extargs"
	"caps-gateway/internal/handler"
	"caps-gateway/internal/middleware"
	"caps-gateway/internal/negotiation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("version", config.Version),
		slog.Int("constraints", len(cfg.Gateway.Constraints)),
		slog.Int("default_capabilities", len(cfg.Gateway.DefaultCapabilities)),
	)

	// Extension args are configuration input: parse failures abort startup
	// rather than being tolerated at request time.
	parser := extargs.NewParser(nil, nil)
	for _, source := range []struct{ name, blob string }{
		{"driver", cfg.Gateway.DriverArgs},
		{"plugin", cfg.Gateway.PluginArgs},
	} {
		args, err := parser.ParseExtensionArgs(source.blob, source.name)
		if err != nil {
			return fmt.Errorf("parsing %s args: %w", source.name, err)
		}
		if len(args) > 0 {
			logger.Info("extension args loaded",
				slog.String("extension", source.name),
				slog.Int("count", len(args)),
			)
		}
	}

	negotiator := negotiation.NewNegotiator(nil, logger)
	h := handler.New(negotiator, parser, cfg.Gateway.Constraints, cfg.Gateway.DefaultCapabilities, logger)

	mux := http.NewServeMux()
	mux.Handle("/mcp", h.NewMCPHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Recovery outermost so panics in logging are still caught
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
func initLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
