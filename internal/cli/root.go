// Package cli is the dbagent command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dbagent/internal/app"
	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/logging"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version string
	Commit  string
}

// globalFlags are the persistent flags every command reads.
type globalFlags struct {
	build      BuildInfo
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
}

func Run(build BuildInfo) ExitCode {
	if err := newRootCmd(build).Execute(); err != nil {
		return exitCodeError
	}

	return exitCodeSuccess
}

func newRootCmd(build BuildInfo) *cobra.Command {
	flags := &globalFlags{build: build}

	rootCmd := &cobra.Command{
		Use:          "dbagent",
		Short:        "Answer questions about SQL and MongoDB data in plain language.",
		Version:      fmt.Sprintf("%s (%s)", build.Version, build.Commit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "path to a JSON configuration file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded into the environment when present")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: console, json (overrides config)")

	rootCmd.AddCommand(
		NewAskCmd(flags).Command(),
		NewPlanCmd(flags).Command(),
		NewChatCmd(flags).Command(),
		NewSchemaCmd(flags).Command(),
		NewServeCmd(flags).Command(),
		NewSlackCmd(flags).Command(),
		NewSeedCmd(flags).Command(),
		NewHistoryCmd(flags).Command(),
	)
	return rootCmd
}

// load resolves the configuration and the root logger. Flags win over the
// environment, which wins over the file.
func (f *globalFlags) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(f.configFile, f.envFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if f.logLevel != "" {
		cfg.System.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.System.LogFormat = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(cfg.System.LogLevel, cfg.System.LogFormat, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	metrics.BuildInfo.WithLabelValues(f.build.Version, f.build.Commit).Set(1)
	return cfg, log, nil
}

// withConfig runs f with a signal-aware context and the loaded configuration.
func withConfig(flags *globalFlags, f func(ctx context.Context, cfg *config.Config, log zerolog.Logger, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, log, err := flags.load()
		if err != nil {
			return err
		}
		return f(ctx, cfg, log, cmd, args)
	}
}

// withApp is withConfig plus a fully assembled App, closed on return.
func withApp(flags *globalFlags, f func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return withConfig(flags, func(ctx context.Context, cfg *config.Config, log zerolog.Logger, cmd *cobra.Command, args []string) error {
		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		return f(ctx, a, cmd, args)
	})
}

// question joins the positional arguments into one question.
func question(args []string) (string, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return "", fmt.Errorf("a question is required")
	}
	return q, nil
}
