// Package serve implements the serve command: the long-running daemon mode
// that owns the actor registry and exposes the /health and /metrics admin
// endpoints for the process's lifetime. Delivering forge webhooks to the
// running engine is out of scope (spec.md's webhook-host Non-goal); a
// caller embedding this engine wires its own event source to
// bot.Engine.HandleEvent.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nx/robocat/internal/bot"
	"github.com/nx/robocat/internal/config"
	"github.com/nx/robocat/internal/httpapi"
	"github.com/nx/robocat/internal/secrets"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd(configFile *string, secretsDir *string, repoDir *string, adminAddr *string, parallelism *int) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Run the event-driven engine as a long-lived daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sec, err := secrets.Load(*secretsDir)
			if err != nil {
				return fmt.Errorf("load secrets: %w", err)
			}
			if *parallelism > 0 {
				cfg.Parallelism = *parallelism
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := bot.New(ctx, cfg, sec, *repoDir)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			server := &http.Server{
				Addr:    *adminAddr,
				Handler: httpapi.NewRouter(func() httpapi.Stats { return e.Stats() }),
			}
			go func() {
				slog.Info("serve: admin endpoint listening", "addr", *adminAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("serve: admin server failed", "error", err)
				}
			}()

			slog.Info("serve: engine ready", "bot_handle", cfg.BotHandle, "repo", cfg.Repo.Org+"/"+cfg.Repo.Name)
			<-ctx.Done()

			slog.Info("serve: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
