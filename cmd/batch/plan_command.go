package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/app"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/database"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

// conversionLookup finds the newest ledger entry for a base name
type conversionLookup interface {
	LastConversion(ctx context.Context, baseName string) (*models.ConversionResult, error)
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what a scan would convert",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg, ctx.logger, app.BuildOptions{WithSource: true})
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Orchestrator.Plan(cmd.Context())
			if err != nil {
				return err
			}

			var history conversionLookup
			if a.Repository != nil {
				history = a.Repository
			}
			printPlan(cmd, entries, history)
			return nil
		},
	}
}

// printPlan renders the plan. With a ledger configured it adds when each
// base name was last converted.
func printPlan(cmd *cobra.Command, entries []pipeline.PlanEntry, history conversionLookup) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No source videos found")
		return
	}

	headers := []string{"Source", "Base name", "Converted"}
	if history != nil {
		headers = append(headers, "Last converted")
	}

	pending := 0
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Converted {
			pending++
		}
		row := []string{entry.Key, entry.BaseName, yesNo(entry.Converted)}
		if history != nil {
			row = append(row, lastConverted(cmd.Context(), history, entry.BaseName))
		}
		rows = append(rows, row)
	}

	fmt.Fprint(out, renderTable(headers, rows, nil))
	fmt.Fprintf(out, "\n%d of %d videos pending conversion\n", pending, len(entries))
}

func lastConverted(ctx context.Context, history conversionLookup, baseName string) string {
	result, err := history.LastConversion(ctx, baseName)
	switch {
	case errors.Is(err, database.ErrConversionNotFound):
		return "-"
	case err != nil:
		return "unknown"
	default:
		return result.CompletedAt.Local().Format("2006-01-02 15:04")
	}
}
