// Package history implements commands that read the persisted prediction
// history.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/potholewatch/potholewatch/internal/app"
	"github.com/potholewatch/potholewatch/internal/errors"
	"github.com/potholewatch/potholewatch/internal/predictions"
	"github.com/potholewatch/potholewatch/internal/report"
)

// Command creates the history command and its subcommands.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the persisted prediction history",
	}
	cmd.AddCommand(listCommand(ctx), statsCommand(ctx), exportCommand(ctx))
	return cmd
}

// withHistory opens the persisted history for the duration of fn.
func withHistory(cmd *cobra.Command, ctx *app.Context, fn func(store *predictions.Store) error) error {
	session, err := app.OpenHistory(cmd.Context(), ctx.Settings, ctx.Log)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()
	return fn(session.Store)
}

func listCommand(ctx *app.Context) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List predictions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, ctx, func(store *predictions.Store) error {
				return writeList(cmd.OutOrStdout(), store.Snapshot(), limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of rows, 0 for all")
	return cmd
}

func writeList(out io.Writer, records []predictions.Record, limit int) error {
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tPOTHOLE\tCONFIDENCE\tLOCATION")
	for i := range records {
		r := &records[i]
		loc := "-"
		if r.Location != nil {
			loc = fmt.Sprintf("%.5f,%.5f", r.Location.Lat, r.Location.Lng)
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%.1f%%\t%s\n",
			r.ID, r.Timestamp.Local().Format(time.DateTime), r.IsPothole, r.Confidence*100, loc)
	}
	return tw.Flush()
}

func statsCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print history totals as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, ctx, func(store *predictions.Store) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(predictions.Summarize(store.Snapshot()))
			})
		},
	}
}

func exportCommand(ctx *app.Context) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export one prediction as json, pdf or png",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, ctx, func(store *predictions.Store) error {
				rec, ok := store.Lookup(args[0])
				if !ok {
					return errors.Newf("prediction %s not found", args[0]).
						Component("history").
						Category(errors.CategoryNotFound).
						Build()
				}
				data, ext, err := render(&rec, format)
				if err != nil {
					return err
				}
				if out == "" {
					out = report.Filename(&rec, ext)
				}
				if out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("error writing %s: %w", out, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", report.FormatJSON, "Export format: json, pdf or png")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file, - for stdout (default: pothole-report-<id>.<ext>)")
	return cmd
}

// render produces the export bytes and file extension for format.
func render(rec *predictions.Record, format string) ([]byte, string, error) {
	switch format {
	case report.FormatJSON:
		data, err := report.JSON(rec)
		return data, "json", err
	case report.FormatPDF:
		var buf bytes.Buffer
		if err := report.PDF(&buf, rec, time.Local); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "pdf", nil
	case report.FormatPNG, "image":
		mime, data, err := report.Image(rec)
		if err != nil {
			return nil, "", err
		}
		return data, report.Extension(mime), nil
	default:
		return nil, "", errors.Newf("unknown export format %q", format).
			Component("history").
			Category(errors.CategoryValidation).
			Build()
	}
}
