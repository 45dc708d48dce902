package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ScriptSuite-server/analysis"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var featureKeys []string
	cmd := &cobra.Command{
		Use:   "analyze <project-id>",
		Short: "Run analyses for a project and wait for them to settle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			features, err := parseFeatures(featureKeys)
			if err != nil {
				return err
			}
			if len(features) == 0 {
				features = analysis.All()
			}
			agg := ctx.aggregator()
			rs, err := agg.RunSelected(cmd.Context(), args[0], features)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Analysis %d%% complete, %d failed\n", agg.CompletionPercentage(), len(rs.Failed()))
			return writeJSON(cmd.OutOrStdout(), analysis.NewReport(args[0], rs))
		},
	}
	cmd.Flags().StringSliceVar(&featureKeys, "feature", nil, "Analysis feature key (repeatable, default all)")
	return cmd
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "report <project-id>",
		Short: "Show stored analysis results for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := ctx.client().FetchAnalysis(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			agg := ctx.aggregator()
			if err := agg.Load(args[0], rs); err != nil {
				return err
			}
			for _, f := range analysis.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", f.Key(), agg.Status(f))
			}
			return nil
		},
	}
}
