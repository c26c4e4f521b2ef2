package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"licensekit/internal/app"
	"licensekit/internal/config"
	"licensekit/internal/infrastructure"
)

// exitError carries a process exit code without printing anything extra
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			stop()
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	home       string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "licensectl",
		Short: "Issue, track and validate offline licenses",
		Long: `licensectl manages the offline license lifecycle: signing keys, hardware
fingerprints, license generation, the issuer registry and validation.

Relative paths are resolved against LICENSEKIT_HOME (or --home) and fall back
to the working directory. Settings are read from licensekit.yaml and
LICENSEKIT_* environment variables; a .env file in the working directory is
loaded first when present.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       app.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// one trace id per invocation ties its log lines together
			cmd.SetContext(infrastructure.EnsureTraceID(cmd.Context()))
			_ = godotenv.Load()
			if flags.configFile != "" {
				if err := os.Setenv(config.ConfigFileEnv, flags.configFile); err != nil {
					return err
				}
			}
			if flags.home != "" {
				if err := os.Setenv(config.HomeEnv, flags.home); err != nil {
					return err
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.home, "home", "", "base directory for keys, registry and licenses")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(RunKeygenCommand(flags))
	rootCmd.AddCommand(RunGenerateCommand(flags))
	rootCmd.AddCommand(RunListCommand(flags))
	rootCmd.AddCommand(RunShowCommand(flags))
	rootCmd.AddCommand(RunRevokeCommand(flags))
	rootCmd.AddCommand(RunExportBlacklistCommand(flags))
	rootCmd.AddCommand(RunStatsCommand(flags))
	rootCmd.AddCommand(RunExportCommand(flags))
	rootCmd.AddCommand(RunFingerprintCommand(flags))
	rootCmd.AddCommand(RunValidateCommand(flags))
	rootCmd.AddCommand(RunServeCommand(flags))
	rootCmd.AddCommand(RunVersionCommand(app.Version))

	return rootCmd
}

// openApp loads the configuration and wires the application. mutate lets a
// command apply its own flags on top of the loaded config.
func openApp(cmd *cobra.Command, flags *globalFlags, mutate func(*config.Config)) (*app.Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if mutate != nil {
		mutate(cfg)
	}
	return app.New(cmd.Context(), cfg)
}

func closeApp(cmd *cobra.Command, a *app.Application) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		cmd.PrintErrln("warning:", err)
	}
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of licensectl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
