package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/garnizeh/mockprep/api"
	"github.com/garnizeh/mockprep/internal/ai"
	"github.com/garnizeh/mockprep/internal/config"
	"github.com/garnizeh/mockprep/pkg/ollama"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const app = "mockprep"

type rootOptions struct {
	configPath string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           app,
		Short:         "mockprep turns recorded mock interviews into structured feedback",
		Version:       fmt.Sprintf("%s (built %s)", version, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config; missing files are ignored")

	cmd.AddCommand(
		newServeCmd(opts),
		newWorkerCmd(opts),
		newMigrateCmd(opts),
		newProcessCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(opts),
		newDeadLettersCmd(opts),
		newAICheckCmd(opts),
	)

	return cmd
}

func (o *rootOptions) load() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	o.cfg = cfg
	o.logger = cfg.Logger(os.Stderr).With(slog.String("app", app))
	slog.SetDefault(o.logger)
	ai.SetLogger(o.logger)
	api.SetLogger(o.logger)
	ollama.SetLogger(o.logger)
	return nil
}
