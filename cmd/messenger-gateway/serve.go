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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/messenger-gateway/internal/app"
	"github.com/fpang/messenger-gateway/internal/config"
	"github.com/fpang/messenger-gateway/internal/handler"
	"github.com/fpang/messenger-gateway/internal/logging"
)

var (
	addrFlag string
	modeFlag string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook HTTP server",
	Long: `Serve listens for Messenger webhooks on /webhook and dispatches each
event to its page's handler. On SIGINT or SIGTERM the server stops
accepting requests and waits for in-flight handlers before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&modeFlag, "mode", "", "Dispatch mode: async or sync (overrides dispatch.mode)")
}

func runServe(cmd *cobra.Command, args []string) error {
	initStart := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if modeFlag != "" {
		cfg.Dispatch.Mode = modeFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Gateway,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	startupLogger(cfg, a).InitDuration(time.Since(initStart)).Log()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Listening for webhooks")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown did not complete")
	}
	if err := a.Dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Abandoning in-flight handlers")
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func startupLogger(cfg *config.Config, a *app.App) *logging.StartupLogger {
	mode := config.ModeAsync
	if a.Sync {
		mode = config.ModeSync
	}
	s := logging.NewStartupLogger("messenger-gateway").
		Mode("server").
		CommitHash(commitHash).
		BuildTime(buildTime).
		Pages(a.Registry.Kinds()).
		Config("addr", cfg.Server.Addr).
		Config("dispatchMode", mode).
		Config("maxConcurrency", fmt.Sprint(cfg.Dispatch.MaxConcurrency)).
		Config("handlerTimeout", cfg.Dispatch.HandlerTimeout.String()).
		Config("metrics", cfg.Metrics.Backend).
		Config("graphBaseUrl", cfg.Graph.BaseURL).
		Feature("forward", cfg.UsesHandler(string(handler.KindForward))).
		Feature("assistant", cfg.UsesHandler(string(handler.KindAssistant)))
	for _, p := range cfg.Pages {
		if p.Handler == string(handler.KindForward) {
			s.EventBus(p.ID, busName(p.EventBus))
		}
	}
	return s
}

func busName(bus string) string {
	if bus == "" {
		return "default"
	}
	return bus
}
