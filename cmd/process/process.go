// Package process implements the process command: run exactly one engine
// cycle against a single merge request and exit, bypassing the actor
// registry's async dispatch so the caller gets a definite outcome.
package process

import (
	"fmt"
	"strconv"

	"github.com/nx/robocat/internal/actor"
	"github.com/nx/robocat/internal/bot"
	"github.com/nx/robocat/internal/config"
	"github.com/nx/robocat/internal/event"
	"github.com/nx/robocat/internal/secrets"
	"github.com/spf13/cobra"
)

// NewProcessCmd creates the process command.
func NewProcessCmd(configFile *string, secretsDir *string, repoDir *string, parallelism *int) *cobra.Command {
	return &cobra.Command{
		Use:          "process <mr-id>",
		Short:        "Run one engine cycle against a single merge request and exit",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mrID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("mr-id must be an integer: %w", err)
			}

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

			ctx := cmd.Context()
			e, err := bot.New(ctx, cfg, sec, *repoDir)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			outcome := e.HandleEventSync(ctx, mrID, event.KindMRUpdated, "cli-process")
			switch outcome.Kind {
			case actor.Failed:
				return fmt.Errorf("cycle failed: %w", outcome.Err)
			case actor.Deferred:
				fmt.Printf("mr %d: deferred (%s)\n", mrID, outcome.Reason)
			default:
				fmt.Printf("mr %d: cycle completed\n", mrID)
			}
			return nil
		},
	}
}
