package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hexaflow/hexaflow/internal/config"
	"github.com/hexaflow/hexaflow/internal/engine"
	"github.com/hexaflow/hexaflow/internal/event"
	"github.com/hexaflow/hexaflow/internal/logging"
	"github.com/hexaflow/hexaflow/internal/plan"
	"github.com/hexaflow/hexaflow/internal/task"
)

var runCmd = &cobra.Command{
	Use:   "run [plan-file]",
	Short: "Execute a plan file",
	Long: `Execute the tasks and stages declared in a YAML plan file.

Without a positional argument, the plan file from the configuration
(plan.file, default "hexaflow.yaml") is used.

Examples:
  # Run the default plan
  hexaflow run

  # Run a specific plan with four workers
  hexaflow run pipelines/nightly.yaml --max-concurrency 4

  # Run only the ingest tasks
  hexaflow run --only 'ingest-*'

  # Re-run automatically when the plan file changes
  hexaflow run --watch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runOnly    string
	runWatch   bool
	runVerbose bool
	runWorkers int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runOnly, "only", "", "Glob pattern restricting which task IDs run")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Re-run when the plan file changes")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print engine events as they happen")
	runCmd.Flags().IntVar(&runWorkers, "max-concurrency", 0, "Worker pool size, 1-16 (0 = config/auto)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	planPath := cfg.Plan.File
	if len(args) > 0 {
		planPath = args[0]
	}
	only := cfg.Plan.Only
	if runOnly != "" {
		only = runOnly
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runOnce(ctx, cfg, planPath, only); err != nil {
		if runWatch {
			// Watch mode keeps going; the next save may fix the plan.
			fmt.Fprintf(os.Stderr, "%s\n", errStyle.Render(err.Error()))
		} else {
			return err
		}
	}
	if !runWatch {
		return nil
	}

	return watchAndRerun(ctx, cfg, planPath, only)
}

// runOnce loads the plan, builds a fresh engine and executes it.
// Engines are single-run objects, so every invocation builds anew.
func runOnce(ctx context.Context, cfg *config.Config, planPath, only string) error {
	p, err := plan.Load(afero.NewOsFs(), planPath, only)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	workers := cfg.Engine.ResolveMaxConcurrency()
	if runWorkers != 0 {
		workers = runWorkers
	}
	if p.MaxConcurrency != 0 {
		workers = p.MaxConcurrency
	}

	eng := engine.New(
		engine.WithMaxConcurrency(workers),
		engine.WithLogger(logger),
	)

	if runVerbose {
		unsubscribe := eng.Subscribe("*", printEvent)
		defer unsubscribe()
	}

	if err := registerPlan(eng, cfg, p); err != nil {
		return err
	}

	summary, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(planPath, summary)
	return nil
}

// registerPlan submits the plan's tasks and stages to the engine,
// applying configured defaults to tasks that declare none.
func registerPlan(eng *engine.Engine, cfg *config.Config, p *plan.Plan) error {
	for _, t := range p.Tasks {
		if t.Timeout == 0 {
			t.Timeout = cfg.Engine.DefaultTimeout()
		}
		if t.MaxRetries == 0 {
			t.MaxRetries = cfg.Engine.DefaultMaxRetries
		}
		if _, err := eng.Submit(t); err != nil {
			return err
		}
	}
	for _, s := range p.Stages {
		if err := eng.DefineStage(s.ID, task.Strategy(s.Strategy), s.Tasks, s.Successors); err != nil {
			return err
		}
	}
	return nil
}

// buildLogger creates the run logger per the logging configuration.
func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// watchAndRerun re-executes the plan whenever its file is written.
// Editors often replace files via rename, so the watch is placed on the
// parent directory and filtered to the plan path.
func watchAndRerun(ctx context.Context, cfg *config.Config, planPath, only string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(planPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	fmt.Printf("Watching %s... (Ctrl+C to stop)\n", planPath)

	// Editors fire bursts of events per save; debounce before re-running.
	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(planPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			fmt.Printf("\nPlan changed, re-running %s\n", planPath)
			if err := runOnce(ctx, cfg, planPath, only); err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", errStyle.Render(err.Error()))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// printEvent writes one engine event to stdout. Events arrive on engine
// goroutines; printing is the only work done here.
func printEvent(e event.Event) {
	line := fmt.Sprintf("%s %s", dimStyle.Render(e.Timestamp().Format("15:04:05.000")), e.EventType())
	switch ev := e.(type) {
	case event.TaskStartedEvent:
		line += fmt.Sprintf(" task=%s strategy=%s attempt=%d", ev.TaskID, ev.Strategy, ev.Attempt)
	case event.TaskCompletedEvent:
		status := okStyle.Render("ok")
		if !ev.Success {
			status = errStyle.Render("failed")
		}
		line += fmt.Sprintf(" task=%s %s attempts=%d in %s", ev.TaskID, status, ev.Attempts, ev.Duration)
	case event.TaskRetriedEvent:
		line += fmt.Sprintf(" task=%s attempt=%d error=%q", ev.TaskID, ev.Attempt, ev.Error)
	case event.StageStartedEvent:
		line += fmt.Sprintf(" stage=%s strategy=%s tasks=%d", ev.StageID, ev.Strategy, ev.TaskCount)
	case event.StageCompletedEvent:
		line += fmt.Sprintf(" stage=%s failed=%d", ev.StageID, ev.Failed)
	case event.PipelineStalledEvent:
		line += fmt.Sprintf(" stuck=%v", ev.StuckTaskIDs)
	case event.RunCompletedEvent:
		line += fmt.Sprintf(" succeeded=%d failed=%d in %s", ev.Succeeded, ev.Failed, ev.Duration)
	case event.QueueDepthChangedEvent:
		line += fmt.Sprintf(" queued=%d active=%d", ev.Queued, ev.Active)
	}
	fmt.Println(line)
}

// printSummary renders the per-task outcome table for a finished run.
func printSummary(planPath string, summary *engine.RunResult) {
	fmt.Println()
	fmt.Println(headerStyle.Render(fmt.Sprintf("Run summary for %s", planPath)))

	ids := make([]string, 0, len(summary.Results))
	for id := range summary.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := summary.Results[id]
		status := okStyle.Render("ok")
		detail := fmt.Sprintf("strategy=%s attempts=%d duration=%s", r.Strategy, r.Attempts, r.Duration().Round(time.Millisecond))
		if !r.Success {
			status = errStyle.Render("failed")
			detail += fmt.Sprintf(" error=%q", r.Err)
		}
		fmt.Printf("  %-24s %s  %s\n", id, status, dimStyle.Render(detail))
	}

	totals := fmt.Sprintf("%d succeeded, %d failed in %s",
		summary.Succeeded, summary.Failed, summary.Duration.Round(time.Millisecond))
	if summary.Failed > 0 {
		fmt.Println(errStyle.Render(totals))
	} else {
		fmt.Println(okStyle.Render(totals))
	}
}
