// Package cmd provides the CLI commands for classidx.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/classidx/internal/codec"
	"github.com/Aman-CERP/classidx/internal/config"
	cierrors "github.com/Aman-CERP/classidx/internal/errors"
	"github.com/Aman-CERP/classidx/internal/extract"
	"github.com/Aman-CERP/classidx/internal/index"
	"github.com/Aman-CERP/classidx/internal/kvstore"
	"github.com/Aman-CERP/classidx/internal/logging"
	"github.com/Aman-CERP/classidx/internal/pass"
	"github.com/Aman-CERP/classidx/internal/profiling"
	"github.com/Aman-CERP/classidx/pkg/version"
)

// propsWriter is the index the CLI maintains: properties files in, string
// keys and values out.
type propsWriter = index.Writer[[]byte, string, string]

// app carries the global flags and the state PersistentPreRunE derives from them.
type app struct {
	dataDirFlag string
	configPath  string
	debug       bool
	profile     profiling.Options

	cfg        *config.Config
	projectDir string
	dataDir    string
	logger     *slog.Logger
	cleanup    func()
	profiler   *profiling.Session
}

// NewRootCmd creates the root command for the classidx CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "classidx",
		Short: "Persistent key-value indexes built from compiled inputs",
		Long: `classidx maintains small persistent key-value indexes that are filled
from source items (here: .properties files) during compilation passes.

Each index records whether it was closed cleanly. An index left open by a
crash, or whose store is damaged, is rebuilt from scratch on the next pass.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("classidx version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&a.dataDirFlag, "data-dir", "", "Data directory (default: <project>/.classidx)")
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: layered user and project config)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging to stderr and ~/.classidx/logs/")
	cmd.PersistentFlags().StringVar(&a.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&a.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&a.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		a.teardown()
		return nil
	}

	cmd.AddCommand(newInitCmd(a))
	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newWatchCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newVerifyCmd(a))
	cmd.AddCommand(newGetCmd(a))
	cmd.AddCommand(newKeysCmd(a))
	cmd.AddCommand(newRemoveCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newDoctorCmd(a))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd, a
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	root, a := newRootCmd()
	return execute(context.Background(), root, a, os.Stderr)
}

// execute runs root. Cobra skips PersistentPostRunE when a command fails, so
// the logger is released here as well.
func execute(ctx context.Context, root *cobra.Command, a *app, stderr io.Writer) error {
	defer a.teardown()
	err := root.ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, cierrors.FormatForUser(err, a.debug))
	}
	return err
}

// setup loads configuration and installs the logger.
func (a *app) setup() error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	a.projectDir = root

	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		a.cfg, err = config.Load(root)
	}
	if err != nil {
		return cierrors.ConfigError("cannot load configuration", err)
	}

	a.dataDir = a.dataDirFlag
	if a.dataDir == "" {
		a.dataDir = a.cfg.ResolveDataDir(root)
	}

	logCfg := logging.Config{
		Level:     a.cfg.Logging.Level,
		FilePath:  logging.DefaultLogPath(),
		MaxSizeMB: a.cfg.Logging.MaxSizeMB,
		MaxFiles:  a.cfg.Logging.MaxFiles,
	}
	if a.debug {
		logCfg.Level = "debug"
		logCfg.Stderr = os.Stderr
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		if a.debug {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		// The log file is best effort outside --debug.
		logger, cleanup = slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}
	}
	a.logger, a.cleanup = logger, cleanup
	slog.SetDefault(logger)

	a.logger.Debug("cli_started",
		slog.String("version", version.Version),
		slog.String("project", root),
		slog.String("data_dir", a.dataDir))

	if a.profile.Enabled() {
		if a.profiler, err = profiling.Start(a.profile); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) teardown() {
	if a.profiler != nil {
		if err := a.profiler.Stop(); err != nil {
			a.logger.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		a.profiler = nil
	}
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
}

// indexDir validates name and resolves its directory.
func (a *app) indexDir(name string) (string, error) {
	if err := index.ValidateName(name); err != nil {
		return "", err
	}
	return index.DirFor(a.dataDir, name), nil
}

// indexOptions maps the configuration onto index.Options.
func (a *app) indexOptions(name string) index.Options {
	return index.Options{
		Name:         name,
		OpenAttempts: a.cfg.Index.OpenAttempts,
		CacheSize:    a.cfg.Index.CacheSize,
		Workers:      a.cfg.Index.Workers,
		Store: kvstore.Options{
			BusyTimeout: a.cfg.BusyTimeout(),
			CacheSizeMB: a.cfg.Index.SQLiteCacheMB,
		},
		Logger: a.logger,
	}
}

// openIndex opens the named properties index for one session.
func (a *app) openIndex(ctx context.Context, name string) (*propsWriter, error) {
	dir, err := a.indexDir(name)
	if err != nil {
		return nil, err
	}
	return index.Open[[]byte, string, string](ctx, dir,
		codec.String{}, codec.String{}, extract.Properties{}, a.indexOptions(name))
}

// opener adapts openIndex to a pass. A failed open yields a nil Handle,
// never a typed nil.
func (a *app) opener(name string) pass.OpenFunc[[]byte] {
	return func(ctx context.Context) (pass.Handle[[]byte], error) {
		w, err := a.openIndex(ctx, name)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}
