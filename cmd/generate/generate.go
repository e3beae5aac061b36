// Package generate provides the CLI endpoint to the "generate" command.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fwellner/unbound-admin/internal/apply"
	"github.com/fwellner/unbound-admin/internal/server"
	"github.com/fwellner/unbound-admin/internal/settings"
	"github.com/fwellner/unbound-admin/internal/unbound"
)

// Command returns the "generate" command used to synthesise, validate and
// install the resolver configuration once, without starting the service.
func Command() *cobra.Command {
	var noReload bool

	cmd := &cobra.Command{
		Use:   "generate [config-file]",
		Short: "Synthesise and install the resolver configuration",
		Example: `
# Regenerate using default configuration
unbound-admin generate

# Regenerate without reloading the resolver
unbound-admin generate --no-reload config.toml`,
		Long: `Builds the resolver configuration from the persisted settings, validates it with unbound-checkconf and
installs it atomically. The resolver is reloaded unless --no-reload is given. Exits non-zero when the candidate
is rejected by the validator.`,
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

			if err = config.Validate(); err != nil {
				return fmt.Errorf("invalid server configuration: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			paths := unbound.DefaultPaths(config.Unbound.ConfDir, config.Data.Dir)
			store := settings.NewStore(filepath.Join(config.Data.Dir, "settings.json"), logger)

			var reloader apply.Reloader = unbound.Control{Binary: config.Unbound.Control}
			if noReload {
				reloader = noopReloader{}
			}

			applier := apply.New(paths, unbound.CheckConf{Binary: config.Unbound.Checkconf}, reloader, logger)
			builder := apply.NewBuilder(paths, config.Unbound.CustomConf)

			candidate, err := builder.Build(store.Load(), nil, nil)
			if err != nil {
				return err
			}

			result, err := applier.Apply(cmd.Context(), candidate)
			if err != nil {
				return err
			}

			switch result.Outcome {
			case apply.OutcomeRejected:
				return fmt.Errorf("configuration rejected: %s", result.Detail)
			case apply.OutcomeReloadFailed:
				return fmt.Errorf("configuration installed but reload failed: %s", result.Detail)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "configuration installed")
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&noReload, "no-reload", false, "install the configuration without reloading the resolver")

	return cmd
}

type noopReloader struct{}

func (noopReloader) Reload(context.Context) error { return nil }
