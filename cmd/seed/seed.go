// Package seed provides the CLI endpoint to the "seed" command.
package seed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fwellner/unbound-admin/internal/server"
	"github.com/fwellner/unbound-admin/internal/settings"
)

// Command returns the "seed" command used to import settings from a legacy
// options document. Existing settings are never overwritten.
func Command() *cobra.Command {
	var optionsPath string

	cmd := &cobra.Command{
		Use:   "seed [config-file]",
		Short: "Seed the settings store from an options document",
		Example: `
# Seed from the default location
unbound-admin seed

# Seed from a specific file
unbound-admin seed --options /config/options.json config.toml`,
		Long: `Imports an existing options.json document into the settings store. The import only happens when no
settings document exists yet, making the command safe to run on every startup.`,
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			config := server.DefaultConfig()

			if len(args) > 0 {
				config, err = server.LoadConfig(args[0])
				if err != nil {
					return fmt.Errorf("failed to load configuration file: %w", err)
				}
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			store := settings.NewStore(filepath.Join(config.Data.Dir, "settings.json"), logger)

			if err = store.Seed(optionsPath); err != nil {
				return fmt.Errorf("failed to seed settings: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&optionsPath, "options", "/data/options.json", "path to the options document to import")

	return cmd
}
