package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/lattice-sprint/internal/config"
	"github.com/kingrea/lattice-sprint/internal/logbook"
	"github.com/kingrea/lattice-sprint/internal/logging"
	"github.com/kingrea/lattice-sprint/internal/sprintsync"
	"github.com/kingrea/lattice-sprint/internal/tui"
)

// options are the persistent flags shared by every command.
type options struct {
	projectDir string
	yes        bool
	logLevel   string
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	fs         afero.Fs
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "sprint-status",
		Short: "Reconcile the sprint-status tracking file",
		Long: `sprint-status keeps the sprint-status tracking file consistent with the epic
specification files, the review and validation artifacts of each story, and
the workflow runtime state. Recorded progress only ever moves forward unless a
story file states its status explicitly.

Examples:
  sprint-status generate          # add new stories from docs/epics*.md
  sprint-status repair --yes      # re-derive statuses from artifacts
  sprint-status validate          # report statuses that disagree with artifacts
  sprint-status sync              # apply .lattice/state/runtime-state.yaml
  sprint-status watch             # sync on every runtime-state change`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.projectDir, "project", "C", ".", "project directory")
	root.PersistentFlags().BoolVarP(&opts.yes, "yes", "y", false, "write without asking when divergence is high")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level for .lattice/logs/sprint.log (overrides logging.level)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.SetIn(opts.stdin)
	root.SetOut(opts.stdout)
	root.SetErr(opts.stderr)

	root.AddCommand(
		newInitCmd(opts),
		newGenerateCmd(opts),
		newRepairCmd(opts),
		newValidateCmd(opts),
		newSyncCmd(opts),
		newWatchCmd(opts),
		newLogCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// env is everything one command invocation needs.
type env struct {
	cfg     *config.Config
	logger  *logging.Logger
	journal *logbook.Logbook
	svc     *sprintsync.Service
}

func (e *env) Close() {
	if e != nil && e.logger != nil {
		_ = e.logger.Close()
	}
}

func openEnv(cmd *cobra.Command, opts *options) (*env, error) {
	cfg, err := config.Load(opts.projectDir, config.WithFs(opts.fs))
	if err != nil {
		return nil, err
	}
	level := cfg.Project.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	wf := cfg.Workflow()
	logger, err := logging.New(wf.SprintLogPath(), logging.Options{Level: level, Console: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}
	journal, err := logbook.New(wf.JournalPath())
	if err != nil {
		logger.Close()
		return nil, err
	}
	svc, err := sprintsync.New(cfg,
		sprintsync.WithFs(opts.fs),
		sprintsync.WithLogger(logger.Logger),
		sprintsync.WithJournal(journal),
		sprintsync.WithConfirm(confirmFor(cmd, opts, cfg.Project.Sprint.DivergenceThreshold)),
	)
	if err != nil {
		logger.Close()
		return nil, err
	}
	logger.Debug("configuration loaded",
		zap.String("project", cfg.ProjectDir),
		zap.String("source", cfg.Source),
		zap.String("status_file", cfg.StatusPath()),
		zap.String("log", logger.Path()))
	return &env{cfg: cfg, logger: logger, journal: journal, svc: svc}, nil
}

// confirmFor picks the divergence prompt: none with --yes, the table prompt
// on a terminal, a line prompt otherwise.
func confirmFor(cmd *cobra.Command, opts *options, threshold float64) sprintsync.ConfirmFunc {
	if opts.yes {
		return nil
	}
	if isTerminal(opts.stdin) && isTerminal(opts.stdout) {
		return tui.Confirm(opts.stdin, opts.stdout, threshold)
	}
	return tui.PlainConfirm(cmd.InOrStdin(), cmd.ErrOrStderr(), threshold)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &usageError{err: fmt.Errorf("%s takes no arguments, got %q", cmd.CommandPath(), args)}
	}
	return nil
}
