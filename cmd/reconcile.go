// File: cmd/reconcile.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/api/schemas"
	"github.com/stepbooklabs/stepbook-cli/internal/commands"
	"github.com/stepbooklabs/stepbook-cli/internal/notebook"
	"github.com/stepbooklabs/stepbook-cli/internal/observability"
	"github.com/stepbooklabs/stepbook-cli/internal/reconcile"
	"github.com/stepbooklabs/stepbook-cli/internal/task"
	"github.com/stepbooklabs/stepbook-cli/internal/verify"
)

// newReconcileCmd creates the `reconcile` command.
func newReconcileCmd() *cobra.Command {
	reconcileCmd := &cobra.Command{
		Use:   "reconcile <task-dir>",
		Short: "Rebuilds a task's notebook with validated narration, screenshots and commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			tk, err := openTask(args[0])
			if err != nil {
				return err
			}

			nbPath, err := tk.NotebookPath()
			if err != nil {
				return err
			}
			nb, err := notebook.LoadFile(nbPath)
			if err != nil {
				return err
			}

			narration, narrationPath, err := resolveNarration(cmd, tk)
			if err != nil {
				return err
			}

			cmds, err := loadOptionalCommands(tk)
			if err != nil {
				return err
			}

			logger.Info("Reconciling notebook",
				zap.String("task", tk.ID),
				zap.String("notebook", nbPath),
				zap.String("narration", narrationPath),
				zap.Int("commands", len(cmds)),
				zap.Int("narrated_steps", len(narration)),
			)

			engine := reconcile.New(logger)
			if err := engine.Reconcile(nb, reconcile.Inputs{
				Narration:      narration,
				ScreenshotsDir: tk.ScreenshotsDir(),
				Commands:       cmds,
			}); err != nil {
				return err
			}

			outPath, _ := cmd.Flags().GetString("output")
			if outPath == "" {
				outPath = task.OutputNotebookPath(nbPath)
			}
			if err := nb.WriteFile(outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reconciled notebook written to %s\n", outPath)

			report := verify.Verify(nb)
			if len(cmds) > 0 {
				report.AuditCommands(len(cmds))
			}
			printReport(cmd.OutOrStdout(), report)
			if !report.Passed() {
				return fmt.Errorf("reconciled notebook failed structure verification")
			}
			return nil
		},
	}

	reconcileCmd.Flags().StringP("output", "o", "", "Output notebook path (default <stem>_updated.ipynb)")
	reconcileCmd.Flags().String("narration", "", "Narration file to use (default: validated narration, falling back to the raw file)")
	return reconcileCmd
}

// resolveNarration picks the narration source: an explicit flag wins, then
// the validated narration from a prior `validate` run, then the raw file.
// No source at all aborts the run before any output is written.
func resolveNarration(cmd *cobra.Command, tk *task.Task) (schemas.NarrationMap, string, error) {
	if path, _ := cmd.Flags().GetString("narration"); path != "" {
		m, err := task.LoadNarration(path)
		return m, path, err
	}

	for _, path := range []string{tk.ValidatedNarrationPath(), tk.NarrationPath()} {
		if _, err := os.Stat(path); err == nil {
			m, err := task.LoadNarration(path)
			return m, path, err
		}
	}
	return nil, "", fmt.Errorf("no narration map found: neither %s nor %s exists",
		tk.ValidatedNarrationPath(), tk.NarrationPath())
}

// loadOptionalCommands reads the generated command script if present.
func loadOptionalCommands(tk *task.Task) ([]string, error) {
	if _, err := os.Stat(tk.CommandsPath()); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return commands.LoadFile(tk.CommandsPath())
}

// printReport writes the verification outcome.
func printReport(w io.Writer, report *verify.Report) {
	fmt.Fprintf(w, "Structure verification: %s (%d steps)\n", report.Status(), report.StepCount)
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  issue: %s\n", issue)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
