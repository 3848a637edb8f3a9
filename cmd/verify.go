// File: cmd/verify.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stepbooklabs/stepbook-cli/internal/notebook"
	"github.com/stepbooklabs/stepbook-cli/internal/verify"
)

// newVerifyCmd creates the `verify` command.
func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <notebook.ipynb | task-dir>",
		Short: "Checks a notebook's step structure and reports issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nbPath := args[0]
			if !strings.HasSuffix(nbPath, ".ipynb") {
				tk, err := openTask(args[0])
				if err != nil {
					return err
				}
				nbPath, err = tk.NotebookPath()
				if err != nil {
					return err
				}
			}

			nb, err := notebook.LoadFile(nbPath)
			if err != nil {
				return err
			}

			report := verify.Verify(nb)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", nbPath)
			printReport(cmd.OutOrStdout(), report)
			if !report.Passed() {
				return fmt.Errorf("notebook failed structure verification with %d issues", len(report.Issues))
			}
			return nil
		},
	}
}
