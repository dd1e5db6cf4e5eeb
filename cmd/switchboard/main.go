package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/switchboard/pkg/config"
	"github.com/jingkaihe/switchboard/pkg/logger"
	"github.com/jingkaihe/switchboard/pkg/presenter"
)

// exitCodeError ends the process with code without printing anything more.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var (
	cfg            config.Config
	tracerShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Select the right agent for a task and run its workflow",
	Long: `switchboard routes a natural-language task to the agent whose triggers and
focus areas fit it best, plans that agent's workflow, and runs the steps inside
the agent's will / will-not boundaries, handing off to related agents when a
step is out of scope.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded

		if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
			return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
		}
		logger.SetLogFormat(cfg.LogFormat)

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialise tracing")
			return nil
		}
		tracerShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if tracerShutdown != nil {
			return tracerShutdown(context.WithoutCancel(cmd.Context()))
		}
		return nil
	},
}

func init() {
	if err := config.Init(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "fmt", "Log format (fmt or json)")
	flags.StringSlice("agents-dir", nil, "Directories (globs allowed) holding agent definitions")
	flags.StringSlice("skills-dir", nil, "Directories (globs allowed) holding skill definitions")
	flags.StringSlice("catalog", nil, "YAML catalog files to load in addition to the directories")
	flags.String("store", "sqlite", "Plan store backend (sqlite or file)")
	flags.String("store-path", "", "Plan store location (database file or directory)")
	flags.String("profile", "", "Configuration profile to apply")

	bindFlags(flags, map[string]string{
		"log_level":           "log-level",
		"log_format":          "log-format",
		"registry.agent_dirs": "agents-dir",
		"registry.skill_dirs": "skills-dir",
		"registry.files":      "catalog",
		"store.backend":       "store",
		"store.path":          "store-path",
		"profile":             "profile",
	})

	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reloadRegistryCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var exit *exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		presenter.Error(err, "")
		os.Exit(1)
	}
}
