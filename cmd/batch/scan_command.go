package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/app"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/staging"
)

func runScan(cmd *cobra.Command, ctx *commandContext) error {
	return ctx.withPipeline(cmd.Context(), app.BuildOptions{WithSource: true}, func(a *app.App) error {
		cfg := a.Config
		swept := staging.CleanStale(cmd.Context(), cfg.Staging.Root, cfg.Staging.StaleAfter, ctx.logger)
		if len(swept.Removed) > 0 {
			ctx.logger.WithField("removed", len(swept.Removed)).Info("Removed stale staging directories")
		}

		report, err := a.Orchestrator.Scan(cmd.Context())
		if report != nil {
			printScanReport(cmd, report)
		}
		if err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d of %d conversions failed", len(report.Failed), report.Candidates())
		}
		return nil
	})
}

func printScanReport(cmd *cobra.Command, report *pipeline.ScanReport) {
	out := cmd.OutOrStdout()

	rows := make([][]string, 0, report.Candidates())
	for _, result := range report.Converted {
		rows = append(rows, []string{result.SourceKey, "converted", result.MasterURL})
	}
	for _, key := range report.Skipped {
		rows = append(rows, []string{key, "skipped", ""})
	}
	failed := make([]string, 0, len(report.Failed))
	for key := range report.Failed {
		failed = append(failed, key)
	}
	sort.Strings(failed)
	for _, key := range failed {
		rows = append(rows, []string{key, "failed", report.Failed[key].Error()})
	}

	if len(rows) > 0 {
		fmt.Fprint(out, renderTable([]string{"Source", "Outcome", "Detail"}, rows, nil))
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Listed %d, converted %d, skipped %d, failed %d in %s\n",
		report.Listed, len(report.Converted), len(report.Skipped), len(report.Failed), report.Duration.Round(time.Millisecond))
}
