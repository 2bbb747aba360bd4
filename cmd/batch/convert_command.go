package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/app"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "convert KEY [KEY...]",
		Short: "Convert specific source objects",
		Long: `Convert the given source object keys one at a time. Keys whose output
is already published are skipped, exactly as during a scan.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withPipeline(cmd.Context(), app.BuildOptions{WithSource: true}, func(a *app.App) error {
				out := cmd.OutOrStdout()
				var errs []error
				for _, key := range args {
					if err := cmd.Context().Err(); err != nil {
						return err
					}
					result, err := a.Orchestrator.ProcessKey(cmd.Context(), key)
					if err != nil {
						fmt.Fprintf(out, "%s: failed: %v\n", key, err)
						errs = append(errs, fmt.Errorf("%s: %w", key, err))
						continue
					}
					if result.Skipped {
						fmt.Fprintf(out, "%s: already converted (%s)\n", key, result.MasterURL)
						continue
					}
					fmt.Fprintf(out, "%s: %s\n", key, result.MasterURL)
				}
				return errors.Join(errs...)
			})
		},
	}
}
