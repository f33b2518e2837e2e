// Package cmd implements the rulebook command-line interface.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solatis/rulebook/internal/core/config"
)

// Version is the rulebook release version.
const Version = "0.1.0"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string

	logger *slog.Logger
}

// NewRootCommand builds the rulebook command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "rulebook",
		Short:         "Rulebook predicate rule engine",
		Long:          `Rulebook compiles declarative rule catalogs into predicates and evaluates items against them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
			if err != nil {
				return err
			}
			g.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "config file path")
	root.PersistentFlags().StringVar(&g.dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "json", "log format (json, text)")

	root.AddCommand(
		newServeCommand(g),
		newMigrateCommand(g),
		newCatalogCommand(g),
		newCheckCommand(g),
		newAPIKeyCommand(g),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command, reporting errors on stderr.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// loadConfig resolves configuration for cmd, honouring changed flags.
func (g *globals) loadConfig(cmd *cobra.Command) (*config.ServiceConfig, error) {
	cfg, err := config.LoadConfigWithFlags(g.configFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from --log-level and --log-format.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (expected json, text)", format)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rulebook version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "rulebook", Version)
		},
	}
}
