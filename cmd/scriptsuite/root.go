package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"ScriptSuite-server/analysis"
	"ScriptSuite-server/client"
	"ScriptSuite-server/config"
	"ScriptSuite-server/logger"
)

// commandContext resolves config, logger and API client once per invocation.
type commandContext struct {
	configPath *string
	serverURL  *string

	cfg *config.Config
	log *logger.Logger
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg := config.Default()
	if *c.configPath != "" {
		loaded, err := config.Load(*c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	c.cfg, c.log = cfg, log
	return cfg, nil
}

func (c *commandContext) client() *client.Client {
	return client.New(*c.serverURL, c.log, client.WithPollInterval(c.cfg.Analysis.PollInterval))
}

func (c *commandContext) aggregator() *analysis.Aggregator {
	return analysis.NewAggregator(c.client(), c.log, c.cfg.Analysis.Concurrency)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var serverFlag string

	ctx := &commandContext{configPath: &configFlag, serverURL: &serverFlag}

	rootCmd := &cobra.Command{
		Use:           "scriptsuite",
		Short:         "Create projects and run script analyses against a ScriptSuite server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "http://127.0.0.1:8080", "ScriptSuite server base URL")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newReportCommand(ctx))
	return rootCmd
}

func parseFeatures(keys []string) ([]analysis.Feature, error) {
	var out []analysis.Feature
	for _, raw := range keys {
		for _, key := range strings.Split(raw, ",") {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			f, err := analysis.ParseFeature(key)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
