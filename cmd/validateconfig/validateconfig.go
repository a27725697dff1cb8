// Package validateconfig implements the validate-config command: load and
// schema-validate the process configuration file without starting the
// engine, the equivalent of the original's config_check mode.
package validateconfig

import (
	"fmt"

	"github.com/nx/robocat/internal/config"
	"github.com/spf13/cobra"
)

// NewValidateConfigCmd creates the validate-config command.
func NewValidateConfigCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:          "validate-config",
		Short:        "Load and validate the process configuration file",
		Long:         `validate-config parses the YAML configuration file, rejects unknown keys, and checks every required field without starting the engine.`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configFile)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Printf("config OK: repo=%s/%s bot_handle=%s supported_projects=%d enabled_rules=%d\n",
				cfg.Repo.Org, cfg.Repo.Name, cfg.BotHandle, len(cfg.Jira.SupportedProjects()), len(cfg.EnabledRules))
			return nil
		},
	}
}
