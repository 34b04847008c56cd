package main

import (
	"fmt"
	"strings"

	"github.com/garnizeh/mockprep/pkg/ollama"
	"github.com/spf13/cobra"
)

func newAICheckCmd(opts *rootOptions) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "ai-check",
		Short: "Check the configured text backend and optionally send it a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			a := &application{cfg: opts.cfg, logger: opts.logger}
			defer a.Close()

			backend, err := a.textBackend(ctx)
			if err != nil {
				return err
			}
			if backend == nil {
				fmt.Fprintln(out, "AI provider is none; deterministic fallbacks are used.")
				return nil
			}

			if c, ok := backend.(*ollama.Client); ok {
				if err := c.Health(ctx); err != nil {
					return err
				}
				models, err := c.ListModels(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(models))
				for _, m := range models {
					names = append(names, m.Name)
				}
				fmt.Fprintf(out, "ollama at %s: %s\n", opts.cfg.AI.Ollama.BaseURL, strings.Join(names, ", "))
			}

			if prompt == "" {
				fmt.Fprintf(out, "%s backend ready.\n", opts.cfg.AI.Provider)
				return nil
			}
			text, err := backend.Generate(ctx, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt to send to the backend")
	return cmd
}
