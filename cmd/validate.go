// File: cmd/validate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepbooklabs/stepbook-cli/internal/llmclient"
	"github.com/stepbooklabs/stepbook-cli/internal/observability"
	"github.com/stepbooklabs/stepbook-cli/internal/validator"
)

// newValidateCmd creates the `validate` command.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <task-dir>",
		Short: "Validates a task's step narration against its screenshots using the vision model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			tk, err := openTask(args[0])
			if err != nil {
				return err
			}

			client, err := llmclient.NewAnthropicClient(cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("set STEPBOOK_LLM_API_KEY or ANTHROPIC_API_KEY: %w", err)
			}

			result, err := validator.New(client, cfg.LLM.Concurrency, logger).Run(ctx, tk)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Validated %d steps (%d succeeded, %d failed). Run ID: %s\n",
				result.TotalSteps, result.SuccessfulValidations, result.FailedValidations, result.RunID)
			fmt.Fprintf(cmd.OutOrStdout(), "Validated narration written to %s\n", result.OutputPath)

			if result.FailedValidations > 0 {
				return fmt.Errorf("%d of %d steps failed validation", result.FailedValidations, result.TotalSteps)
			}
			return nil
		},
	}
}
