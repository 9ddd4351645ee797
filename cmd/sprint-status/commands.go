package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/lattice-sprint/internal/artifact"
	"github.com/kingrea/lattice-sprint/internal/config"
	"github.com/kingrea/lattice-sprint/internal/sprint/projector"
	"github.com/kingrea/lattice-sprint/internal/tui"
	"github.com/kingrea/lattice-sprint/internal/workflow"
)

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .lattice/ with a default config.yaml and the artifact directories",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := filepath.Abs(opts.projectDir)
			if err != nil {
				return fmt.Errorf("resolve project dir: %w", err)
			}
			if err := config.InitProjectDir(opts.fs, dir); err != nil {
				return err
			}
			cfg, err := config.Load(dir, config.WithFs(opts.fs))
			if err != nil {
				return err
			}
			store, err := artifact.NewStore(cfg.ArtifactLayout(), artifact.WithFs(opts.fs))
			if err != nil {
				return err
			}
			if err := store.EnsureDirs(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", filepath.Join(dir, config.LatticeDir))
			return nil
		},
	}
}

func newGenerateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Add stories from the epic specification files",
		Long: `generate parses the configured epic specification files, merges the
discovered stories into the tracking file and re-derives statuses from the
story artifacts. Existing progress is never moved backwards.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			out, err := e.svc.Generate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderOutcome(out))
			return nil
		},
	}
}

func newRepairCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Re-derive statuses from story artifacts",
		Long: `repair keeps the entries already in the tracking file and upgrades each one
from its story file, code-review synthesis and validation report. An
unparseable tracking file is treated as empty rather than rejected.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			out, err := e.svc.Repair(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderOutcome(out))
			return nil
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report statuses that disagree with the artifacts",
		Long: `validate never writes. It exits 1 when any ERROR finding is reported;
warnings alone exit 0.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			ver, err := e.svc.Validate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderReport(ver))
			if n := len(ver.Report.Errors()); n > 0 {
				return &findingsError{count: n}
			}
			return nil
		},
	}
}

func newSyncCmd(opts *options) *cobra.Command {
	var (
		epic      int
		story     string
		phase     string
		completed []string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Apply the workflow runtime state",
		Long: `sync projects the runtime state onto the tracking file. Without flags the
state is read from .lattice/state/runtime-state.yaml; --epic, --story and
--phase describe a snapshot directly instead.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			flags := cmd.Flags()
			explicit := flags.Changed("epic") || flags.Changed("story") || flags.Changed("phase") || flags.Changed("completed")
			if explicit {
				state := workflow.ProjectState{
					CurrentEpic:      epic,
					CurrentStory:     story,
					Phase:            workflow.Phase(phase),
					CompletedStories: completed,
				}
				out, err := e.svc.Sync(cmd.Context(), state)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), tui.RenderOutcome(out))
				return nil
			}
			out, err := e.svc.SyncFromState(cmd.Context())
			if errors.Is(err, workflow.ErrNoState) {
				return fmt.Errorf("%w (run the workflow first, or pass --story and --phase)", err)
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderOutcome(out))
			return nil
		},
	}
	cmd.Flags().IntVar(&epic, "epic", 0, "current epic number")
	cmd.Flags().StringVar(&story, "story", "", "current story key or dotted id (2.3)")
	cmd.Flags().StringVar(&phase, "phase", "", "current workflow phase, e.g. DEV_STORY")
	cmd.Flags().StringSliceVar(&completed, "completed", nil, "completed story keys or ids")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the runtime state changes",
		Long: `watch syncs once on start, then again after every change to
.lattice/state/runtime-state.yaml until interrupted. Sync failures are logged
and never stop the watcher.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hooks := projector.NewHooks(e.logger.Logger)
			hooks.Add("sprint-status", e.svc.SyncHook())
			source := workflow.NewStateFile(opts.fs, e.cfg.StatePath())
			onChange := func(ctx context.Context) {
				state, err := source.State()
				if err != nil {
					e.logger.Warn("runtime state unreadable", zap.String("path", source.Path()), zap.Error(err))
					return
				}
				if failed := hooks.Fire(ctx, state); failed == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "synced %s (%s)\n", state.CurrentStory, state.Phase)
				}
			}

			w, err := workflow.NewWatcher(source.Path(), debounce, e.logger.Logger, onChange)
			if err != nil {
				return err
			}
			onChange(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", source.Path())
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 250*time.Millisecond, "quiet period before a burst of changes is synced")
	return cmd
}

func newLogCmd(opts *options) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the most recent run journal entries",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lines < 1 {
				return &usageError{err: fmt.Errorf("--lines must be at least 1, got %d", lines)}
			}
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			tail, total := e.journal.Tail(lines)
			fmt.Fprint(cmd.OutOrStdout(), tui.RenderJournal(e.journal.Path(), tail, total))
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of entries to show")
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.projectDir, config.WithFs(opts.fs))
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			source := cfg.Source
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", source)
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
