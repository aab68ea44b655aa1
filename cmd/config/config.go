// Package config implements the config show and config init commands.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/potholewatch/potholewatch/internal/app"
	"github.com/potholewatch/potholewatch/internal/conf"
)

const (
	initName          = "init"
	defaultConfigFile = "config.yaml"
)

// Command creates the config command. configFile points at the root
// --config flag value.
func Command(ctx *app.Context, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML, credentials masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := ctx.Settings.Redacted()
			if err != nil {
				return fmt.Errorf("error rendering settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	initCmd := &cobra.Command{
		Use:   initName,
		Short: "Write the default config.yaml",
		Long:  "Write the embedded default configuration to --config, or ./config.yaml. An existing file is never overwritten.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configFile
			if path == "" {
				path = defaultConfigFile
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(showCmd, initCmd)
	return cmd
}

// SkipsInit reports whether cmd runs without loading settings.
func SkipsInit(cmd *cobra.Command) bool {
	return cmd.Name() == initName && cmd.Parent() != nil && cmd.Parent().Name() == "config"
}
