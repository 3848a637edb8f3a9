// File: cmd/convert.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/internal/commands"
	"github.com/stepbooklabs/stepbook-cli/internal/observability"
)

// newConvertCmd creates the `convert` command.
func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <task-dir>",
		Short: "Converts a task's recorded event log into a pyautogui command script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			tk, err := openTask(args[0])
			if err != nil {
				return err
			}

			eventLog, err := tk.LoadEvents()
			if err != nil {
				return err
			}

			result := commands.ConvertAll(eventLog.Events)
			if err := commands.WriteFile(tk.CommandsPath(), result.Commands); err != nil {
				return err
			}

			statFields := make([]zap.Field, 0, len(result.Stats)+2)
			statFields = append(statFields,
				zap.String("path", tk.CommandsPath()),
				zap.Int("commands", len(result.Commands)))
			for eventType, count := range result.Stats {
				statFields = append(statFields, zap.Int(string(eventType), count))
			}
			logger.Info("Command script written", statFields...)

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d commands to %s\n", len(result.Commands), tk.CommandsPath())
			return nil
		},
	}
}
