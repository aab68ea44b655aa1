// Package predict implements a one-shot detection from the command line.
package predict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/potholewatch/potholewatch/internal/app"
	"github.com/potholewatch/potholewatch/internal/detection"
	"github.com/potholewatch/potholewatch/internal/inference"
	"github.com/potholewatch/potholewatch/internal/predictions"
	"github.com/potholewatch/potholewatch/internal/report"
)

type options struct {
	lat, lng float64
}

// Command creates the predict command.
func Command(ctx *app.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Detect potholes in an image and add it to the history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var loc *predictions.Location
			latSet, lngSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lng")
			if latSet != lngSet {
				return fmt.Errorf("--lat and --lng must be given together")
			}
			if latSet {
				loc = &predictions.Location{Lat: opts.lat, Lng: opts.lng}
			}
			return run(cmd, ctx, args[0], loc)
		},
	}

	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "Latitude of the photo")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "Longitude of the photo")
	return cmd
}

func run(cmd *cobra.Command, ctx *app.Context, path string, loc *predictions.Location) error {
	if err := detection.ValidateLocation(loc); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading image: %w", err)
	}

	session, err := app.OpenHistory(cmd.Context(), ctx.Settings, ctx.Log)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	client, err := inference.NewClient(&ctx.Settings.Inference, inference.WithLogger(ctx.Log.Module("inference")))
	if err != nil {
		return err
	}
	defer client.Close()

	svc := detection.NewService(client, session.Store, &ctx.Settings.Detection, ctx.Log.Module("detection"))
	rec, err := svc.Detect(cmd.Context(), detection.Upload{
		Filename: filepath.Base(path),
		Data:     data,
		Location: loc,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report.NewExport(&rec))
}
