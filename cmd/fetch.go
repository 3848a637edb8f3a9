// File: cmd/fetch.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/internal/observability"
	"github.com/stepbooklabs/stepbook-cli/internal/screenshots"
)

// newFetchCmd creates the `fetch` command.
func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <task-dir>",
		Short: "Downloads every event's screenshot for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			tk, err := openTask(args[0])
			if err != nil {
				return err
			}

			eventLog, err := tk.LoadEvents()
			if err != nil {
				return err
			}

			fetcher := screenshots.New(cfg.Fetch, logger)
			summary, err := fetcher.FetchAll(ctx, eventLog.Events, tk.ScreenshotsDir())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d/%d screenshots to %s (%d failed, %d skipped)\n",
				summary.Downloaded, summary.Requested, tk.ScreenshotsDir(), summary.Failed, summary.Skipped)

			if summary.Failed > 0 {
				for _, fe := range summary.Errors {
					logger.Warn("Screenshot not downloaded",
						zap.Int("event", fe.EventIndex), zap.String("reason", fe.Reason))
				}
				return fmt.Errorf("%d of %d screenshots failed to download", summary.Failed, summary.Requested)
			}
			return nil
		},
	}
}
