package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/report"
	"github.com/sells-group/deal-pipeline/pkg/notion"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send the weekly funnel report",
	Long:  "Compares a snapshot with the one before it, writes the funnel workbook and sends the summary to every configured sink.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		key, _ := cmd.Flags().GetString("key")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opts := []report.Option{report.WithSinks(reportSinks()...)}
		if cfg.Storage.ReportsFolderID != "" {
			objects, closeObjects, err := initObjects(ctx)
			if err != nil {
				return err
			}
			defer closeObjects()
			opts = append(opts, report.WithUploader(objects, cfg.Storage.ReportsFolderID))
		}

		r := report.NewReporter(st, cfg.Report.OutDir, opts...)
		return recordRun(ctx, st, "report", func() (any, error) {
			res, err := r.Run(ctx, key)
			if err != nil {
				return nil, err
			}
			fmt.Println(res.String())
			return res, nil
		})
	},
}

// reportSinks returns a sink per configured destination.
func reportSinks() []report.Sink {
	var sinks []report.Sink
	if cfg.Report.WebhookURL != "" {
		sinks = append(sinks, report.NewWebhookSink(cfg.Report.WebhookURL, cfg.Report.ChannelID))
	}
	if cfg.Notion.Token != "" && cfg.Notion.ReportDB != "" {
		sinks = append(sinks, report.NewNotionSink(notion.NewClient(cfg.Notion.Token), cfg.Notion.ReportDB))
	}
	if len(sinks) == 0 {
		zap.L().Warn("report: no sinks configured, workbook only")
	}
	return sinks
}

func init() {
	reportCmd.Flags().String("key", "", "snapshot key to report on, e.g. 2026-W10 (default latest)")
	rootCmd.AddCommand(reportCmd)
}
