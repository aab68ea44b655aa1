// Package cmd wires the potholewatch command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/potholewatch/potholewatch/cmd/config"
	"github.com/potholewatch/potholewatch/cmd/history"
	"github.com/potholewatch/potholewatch/cmd/predict"
	"github.com/potholewatch/potholewatch/cmd/serve"
	"github.com/potholewatch/potholewatch/internal/app"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "potholewatch",
		Short:         "Pothole detection and civic reporting service",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       ctx.Build.GetVersion(),
	}
	rootCmd.SetVersionTemplate(ctx.Build.String() + "\n")

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/potholewatch, /etc/potholewatch)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding debug flag: %v", err))
	}

	configCmd := config.Command(ctx, &configFile)
	rootCmd.AddCommand(
		serve.Command(ctx),
		predict.Command(ctx),
		history.Command(ctx),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init must work before a valid configuration exists
		if config.SkipsInit(cmd) {
			return nil
		}
		return ctx.Init(configFile)
	}
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		ctx.Close()
	}

	return rootCmd
}
