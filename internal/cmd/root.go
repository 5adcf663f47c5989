// Package cmd implements the refractory command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adamwoolhether/refractory/internal/config"
	"github.com/adamwoolhether/refractory/internal/output"
)

// Version info set by the main package.
var versionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// SetVersionInfo is called by the main package to set version information.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// app carries the state shared by subcommands once configuration is loaded.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	format output.Format
	logger *slog.Logger
}

// NewRootCmd builds the command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	var cfgFile string

	root := &cobra.Command{
		Use:   "refractory",
		Short: "Exercise a mixed synchronous/deferred call throttle",
		Long: `refractory gates calls so a target runs at most once per refractory period.
Calls inside the window get the last result and schedule one trailing call
with the newest arguments.

Use the subcommands to replay a call pattern or watch a JSON endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, cfgFile)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(cfg.Format)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.format = format
			a.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.StringP("format", "o", "table", "output format: table, json, yaml")
	pf.Duration("period", time.Second, "refractory period between actual invocations")

	for _, key := range []string{"log-level", "format", "period"} {
		_ = a.v.BindPFlag(key, pf.Lookup(key))
	}

	root.AddCommand(
		newSimulateCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)

	return root
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "refractory %s (commit %s, built %s)\n",
				versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
			return err
		},
	}
}
