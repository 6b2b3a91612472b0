package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/manifest-packager/internal/config"
)

var (
	// writeConfig is the file the effective configuration is saved to.
	writeConfig string

	// configCmd prints or saves the effective configuration.
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration merged from defaults, the config file and PACKAGER_* environment variables as YAML, or save it with --write.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if writeConfig != "" {
				if err := config.Save(writeConfig, settings); err != nil {
					return err
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", writeConfig)

				return nil
			}

			data, err := config.Marshal(settings)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	configCmd.Flags().StringVar(&writeConfig, "write", "", "save the configuration to this file")
}
