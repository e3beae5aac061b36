// Package serve provides the CLI endpoint to the "serve" command.
package serve

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fwellner/unbound-admin/internal/server"
)

// Command returns the "serve" command used to start and run the admin service.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config-file]",
		Short: "Run the unbound admin service",
		Example: `
# Start with default configuration
unbound-admin serve

# Start with a configuration file.
unbound-admin serve config.toml`,
		Long: `Starts the admin service based on the provided configuration file.

If no configuration file is specified, the service listens on port 2137 across all interfaces, keeps its state under
/data and manages the unbound instance configured via /etc/unbound. Blocklists are refreshed once per day.`,
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

			return server.Run(cmd.Context(), config)
		},
	}
}
