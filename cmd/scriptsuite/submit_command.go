package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"ScriptSuite-server/analysis"
	"ScriptSuite-server/intake"
)

type submitOptions struct {
	fields       map[intake.Field]*string
	targetGenres []string
	scriptPath   string
	flow         string
	features     []string
	analyze      bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	opts := submitOptions{fields: map[intake.Field]*string{}}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Walk the intake steps and create a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, ctx, opts)
		},
	}

	flags := cmd.Flags()
	for _, f := range []intake.Field{
		intake.FieldTitle, intake.FieldLogline, intake.FieldSynopsis, intake.FieldGenre,
		intake.FieldBudgetRange, intake.FieldFundingGoal, intake.FieldTimeline, intake.FieldScriptText,
	} {
		opts.fields[f] = flags.String(flagName(f), "", fmt.Sprintf("Project %s", f))
	}
	flags.StringSliceVar(&opts.targetGenres, "target-genre", nil, "Target genre (repeatable)")
	flags.StringVar(&opts.scriptPath, "script", "", "Path to the screenplay PDF")
	flags.StringVar(&opts.flow, "flow", "production", "Intake flow: production or script")
	flags.StringSliceVar(&opts.features, "feature", nil, "Analysis feature key to run after creation (default all)")
	flags.BoolVar(&opts.analyze, "analyze", false, "Run the selected analyses once the project exists")
	return cmd
}

func flagName(f intake.Field) string {
	b := []byte(f)
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

func flowRules(name string, limits intake.FileLimits) (intake.Rules, error) {
	var rules intake.Rules
	switch name {
	case "production", "":
		rules = intake.ProductionRules
	case "script":
		rules = intake.ScriptAnalysisRules
	default:
		return intake.Rules{}, fmt.Errorf("unknown flow %q (want production or script)", name)
	}
	rules.Files = limits
	return rules, nil
}

func runSubmit(cmd *cobra.Command, ctx *commandContext, opts submitOptions) error {
	cfg := ctx.cfg
	rules, err := flowRules(opts.flow, intake.FileLimits{MaxBytes: cfg.Upload.MaxBytes, AcceptedType: cfg.Upload.AcceptedType})
	if err != nil {
		return err
	}
	features, err := parseFeatures(opts.features)
	if err != nil {
		return err
	}

	ctrl := intake.NewController(rules, ctx.client(), ctx.log)
	for f, v := range opts.fields {
		if *v == "" {
			continue
		}
		// Field problems resurface from Advance with every other one.
		_ = ctrl.SetField(f, *v)
	}
	ctrl.SetTargetGenres(opts.targetGenres)
	if err := ctrl.Advance(); err != nil {
		return err
	}

	if opts.scriptPath != "" {
		file, err := openScriptFile(opts.scriptPath)
		if err != nil {
			return err
		}
		if err := ctrl.SelectFile(file); err != nil {
			return err
		}
	}
	if err := ctrl.Advance(); err != nil {
		return err
	}
	if err := ctrl.SelectFeatures(features); err != nil {
		return err
	}

	projectID, err := ctrl.Submit(cmd.Context())
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s\n", projectID)
	if !opts.analyze {
		return nil
	}

	agg := ctx.aggregator()
	rs, err := ctrl.Analyze(cmd.Context(), agg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Analysis %d%% complete, %d failed\n", agg.CompletionPercentage(), len(rs.Failed()))
	return writeJSON(cmd.OutOrStdout(), analysis.NewReport(projectID, rs))
}

func openScriptFile(path string) (intake.ScriptFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return intake.ScriptFile{}, fmt.Errorf("inspect script: %w", err)
	}
	if info.IsDir() {
		return intake.ScriptFile{}, fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return intake.ScriptFile{}, fmt.Errorf("detect script type: %w", err)
	}
	return intake.ScriptFile{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MIMEType: mt.String(),
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}
