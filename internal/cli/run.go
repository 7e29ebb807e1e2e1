package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/anchor/internal/metrics"
	"github.com/roach88/anchor/internal/multipolicy"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Once bool
}

// TickSummary is the outcome of one synchronization tick for one policy.
type TickSummary struct {
	PolicyID  string `json:"policy_id"`
	Outcome   string `json:"outcome"`
	Members   int    `json:"members"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Waiting   int    `json:"waiting"`
	Error     string `json:"error,omitempty"`
}

// TickSummaries renders as one line per policy.
type TickSummaries []TickSummary

func (s TickSummaries) RenderText(w io.Writer) error {
	if len(s) == 0 {
		_, err := fmt.Fprintln(w, "No synchronized policies.")
		return err
	}
	for _, t := range s {
		line := fmt.Sprintf("%s: %s (members=%d completed=%d failed=%d waiting=%d)",
			t.PolicyID, t.Outcome, t.Members, t.Completed, t.Failed, t.Waiting)
		if t.Error != "" {
			line += " error: " + t.Error
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run multi-policy synchronization",
		Long: `Run the synchronization scheduler for every published policy that has a
synchronization topic. Each policy ticks on the configured interval
(sync.interval); a tick that is still running when the next one is due
is skipped.

When metrics.addr is set, /metrics and /healthz are served on it.

Examples:
  anchor run --config anchor.yaml
  anchor run --db ./anchor.db --once --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "tick every policy once and exit")

	return cmd
}

func runScheduler(opts *RunOptions, cmd *cobra.Command) error {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing resources", "error", closeErr)
		}
	}()

	scheduler := multipolicy.NewScheduler(a.store, a.syncService, a.cfg.Sync.Interval)
	if opts.Once {
		return tickOnce(ctx, scheduler, formatter(cmd, opts.RootOptions))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	metricsErr := make(chan error, 1)
	if addr := a.cfg.Metrics.Addr; addr != "" {
		go func() {
			slog.Info("ops server listening", "addr", addr)
			metricsErr <- metrics.Serve(ctx, addr, metrics.NewRouter(a.metrics, a.health))
		}()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Synchronization running. Press Ctrl-C to stop.")
	if err := scheduler.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}

	select {
	case err := <-metricsErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitFailure, "ops server error", err)
		}
	default:
	}
	slog.Info("synchronization stopped")
	return nil
}

// tickOnce runs one tick per synchronized policy and reports the results.
func tickOnce(ctx context.Context, s *multipolicy.Scheduler, out *OutputFormatter) error {
	if err := s.Refresh(ctx); err != nil {
		return out.Fail("list policies", err)
	}
	services := s.Services()
	sort.Slice(services, func(i, j int) bool {
		return services[i].Policy().ID < services[j].Policy().ID
	})

	summaries := make(TickSummaries, 0, len(services))
	var failed bool
	for _, svc := range services {
		rep, err := svc.Tick(ctx)
		sum := TickSummary{
			PolicyID:  svc.Policy().ID,
			Outcome:   rep.Outcome,
			Members:   rep.Members,
			Completed: rep.Completed,
			Failed:    rep.Failed,
			Waiting:   rep.Waiting,
		}
		if err != nil {
			sum.Error = err.Error()
			failed = true
		}
		summaries = append(summaries, sum)
	}
	if err := out.Success(summaries); err != nil {
		return err
	}
	if failed {
		return NewExitError(ExitFailure, "synchronization tick failed")
	}
	return nil
}
