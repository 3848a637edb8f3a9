// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stepbooklabs/stepbook-cli/internal/config"
	"github.com/stepbooklabs/stepbook-cli/internal/observability"
	"github.com/stepbooklabs/stepbook-cli/internal/task"
)

var (
	cfgFile string
	cfg     *config.Config
)

// NewRootCommand builds the base command with all subcommands attached. A
// fresh instance is created per execution so flag state never leaks between
// runs.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stepbook-cli",
		Short: "Stepbook reconciles recorded UI sessions into annotated step notebooks.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			if err := initializeConfig(); err != nil {
				return err
			}

			loaded, err := config.Load(viper.GetViper())
			if err != nil {
				// Initialize a fallback logger if config loading fails.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "stepbook-cli"})
				return err
			}
			cfg = loaded

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting stepbook-cli", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "root directory holding task_<n> folders (overrides config/env)")
	cobra.CheckErr(viper.BindPFlag("data.dir", rootCmd.PersistentFlags().Lookup("data-dir")))
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newConvertCmd(),
		newFetchCmd(),
		newValidateCmd(),
		newReconcileCmd(),
		newVerifyCmd(),
		newProcessCmd(),
	)
	return rootCmd
}

// Execute runs the CLI with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// GetLogger falls back to a no-op before initialization, so also
		// print to stderr for early failures.
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STEPBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}
	return nil
}

// openTask resolves a task argument. A bare task_<n> name is looked up under
// the configured data directory; anything else is treated as a path.
func openTask(arg string) (*task.Task, error) {
	logger := observability.GetLogger()

	if _, err := os.Stat(arg); err == nil {
		return task.Open(arg, logger)
	}
	if strings.HasPrefix(arg, "task_") && cfg != nil {
		return task.Open(filepath.Join(cfg.Data.Dir, arg), logger)
	}
	return task.Open(arg, logger)
}
