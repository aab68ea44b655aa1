// Package serve implements the serve command.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/potholewatch/potholewatch/internal/app"
	"github.com/potholewatch/potholewatch/internal/logger"
)

// Command creates the serve command.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and event publishers",
		Long:  "Start the pothole detection API. Runs until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), ctx)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Listen address and port of the HTTP API")
	cmd.Flags().String("inference-url", "", "Base URL of the segmentation service")
	cmd.Flags().String("storage", "", "Persistent slot backend (memory, file, database, postgres, s3)")
	cmd.Flags().Bool("mqtt", false, "Publish prediction events to MQTT")

	for key, flag := range map[string]string{
		"webserver.listen": "listen",
		"inference.url":    "inference-url",
		"storage.backend":  "storage",
		"mqtt.enabled":     "mqtt",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

func run(parent context.Context, ctx *app.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(sigCtx, ctx.Settings, ctx.Build, ctx.Log)
	if err != nil {
		ctx.Log.Error("failed to start", logger.Error(err))
		return err
	}
	defer a.Close()

	return a.Run(sigCtx)
}
