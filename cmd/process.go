// File: cmd/process.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/internal/commands"
	"github.com/stepbooklabs/stepbook-cli/internal/llmclient"
	"github.com/stepbooklabs/stepbook-cli/internal/notebook"
	"github.com/stepbooklabs/stepbook-cli/internal/observability"
	"github.com/stepbooklabs/stepbook-cli/internal/reconcile"
	"github.com/stepbooklabs/stepbook-cli/internal/screenshots"
	"github.com/stepbooklabs/stepbook-cli/internal/task"
	"github.com/stepbooklabs/stepbook-cli/internal/validator"
	"github.com/stepbooklabs/stepbook-cli/internal/verify"
)

// newProcessCmd creates the `process` command, which runs the full pipeline:
// convert, fetch, validate, reconcile, verify.
func newProcessCmd() *cobra.Command {
	processCmd := &cobra.Command{
		Use:   "process [task-dir...]",
		Short: "Runs the full pipeline over one or more tasks (all tasks under the data dir when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			skipValidation, _ := cmd.Flags().GetBool("skip-validation")

			taskDirs := args
			if len(taskDirs) == 0 {
				discovered, err := task.Discover(cfg.Data.Dir)
				if err != nil {
					return err
				}
				if len(discovered) == 0 {
					return fmt.Errorf("no task directories found under %s", cfg.Data.Dir)
				}
				taskDirs = discovered
			}

			var failed int
			for _, dir := range taskDirs {
				if err := processTask(ctx, cmd.OutOrStdout(), dir, skipValidation); err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					logger.Error("Task processing failed", zap.String("task", dir), zap.Error(err))
					failed++
					continue
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", failed, len(taskDirs))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d tasks.\n", len(taskDirs))
			return nil
		},
	}

	processCmd.Flags().Bool("skip-validation", false, "Skip the vision-model validation stage")
	return processCmd
}

// processTask runs all pipeline stages for a single task directory.
func processTask(ctx context.Context, out io.Writer, dir string, skipValidation bool) error {
	logger := observability.GetLogger()

	tk, err := openTask(dir)
	if err != nil {
		return err
	}
	logger.Info("Processing task", zap.String("task", tk.ID))

	// 1. Convert events to commands.
	eventLog, err := tk.LoadEvents()
	if err != nil {
		return err
	}
	converted := commands.ConvertAll(eventLog.Events)
	if err := commands.WriteFile(tk.CommandsPath(), converted.Commands); err != nil {
		return err
	}

	// 2. Download screenshots.
	fetcher := screenshots.New(cfg.Fetch, logger)
	summary, err := fetcher.FetchAll(ctx, eventLog.Events, tk.ScreenshotsDir())
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		logger.Warn("Continuing with partial screenshots",
			zap.String("task", tk.ID), zap.Int("failed", summary.Failed))
	}

	// 3. Validate narration.
	narrationPath := tk.NarrationPath()
	if !skipValidation {
		client, err := llmclient.NewAnthropicClient(cfg.LLM, logger)
		if err != nil {
			return fmt.Errorf("set STEPBOOK_LLM_API_KEY or ANTHROPIC_API_KEY (or use --skip-validation): %w", err)
		}
		result, err := validator.New(client, cfg.LLM.Concurrency, logger).Run(ctx, tk)
		if err != nil {
			return err
		}
		narrationPath = result.OutputPath
	}

	// 4. Reconcile the notebook.
	nbPath, err := tk.NotebookPath()
	if err != nil {
		return err
	}
	nb, err := notebook.LoadFile(nbPath)
	if err != nil {
		return err
	}
	narration, err := task.LoadNarration(narrationPath)
	if err != nil {
		return err
	}

	engine := reconcile.New(logger)
	if err := engine.Reconcile(nb, reconcile.Inputs{
		Narration:      narration,
		ScreenshotsDir: tk.ScreenshotsDir(),
		Commands:       converted.Commands,
	}); err != nil {
		return err
	}

	outPath := task.OutputNotebookPath(nbPath)
	if err := nb.WriteFile(outPath); err != nil {
		return err
	}

	// 5. Verify the result.
	report := verify.Verify(nb)
	report.AuditCommands(len(converted.Commands))
	fmt.Fprintf(out, "%s -> %s\n", tk.ID, outPath)
	printReport(out, report)
	if !report.Passed() {
		return fmt.Errorf("task %s failed structure verification", tk.ID)
	}
	return nil
}
