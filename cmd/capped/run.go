package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nomis52/capexec/buildinfo"
	"github.com/nomis52/capexec/capped"
	"github.com/nomis52/capexec/config"
	"github.com/nomis52/capexec/logging"
	"github.com/nomis52/capexec/metrics"
	"github.com/nomis52/capexec/server/runner"
	"github.com/nomis52/capexec/tasks"
	"github.com/spf13/cobra"
)

const pushTimeout = 10 * time.Second

type runArgs struct {
	configPath string
	maxPending string
	mode       string
	output     string
}

// staticConfig serves a config loaded once at startup.
type staticConfig struct {
	cfg *config.Config
}

func (s staticConfig) Config() *config.Config {
	return s.cfg
}

func runCmd() *cobra.Command {
	var args runArgs
	cmd := &cobra.Command{
		Use:   "run [flags] batch...",
		Short: "Run batches once and print the result of every task",
		Example: `  capped run -c batches.yaml nightly
  capped run -c batches.yaml --max-pending 1 --mode all_settled nightly cleanup`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, batches []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBatches(ctx, cmd.OutOrStdout(), args, batches)
		},
	}
	cmd.Flags().StringVarP(&args.configPath, "config", "c", "", "Path to batch config file")
	cmd.Flags().StringVar(&args.maxPending, "max-pending", "", "Override the cap on pending tasks of every batch")
	cmd.Flags().StringVar(&args.mode, "mode", "", "Override the completion mode of every batch (all or all_settled)")
	cmd.Flags().StringVarP(&args.output, "output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runBatches(ctx context.Context, out io.Writer, args runArgs, batches []string) error {
	if args.output != "text" && args.output != "json" {
		return fmt.Errorf("invalid output format %q: must be text or json", args.output)
	}
	if args.maxPending != "" {
		if _, err := capped.ParseMaxPending(args.maxPending); err != nil {
			return fmt.Errorf("--max-pending: %w", err)
		}
	}
	if args.mode != "" {
		if _, err := capped.ParsePolicy(args.mode); err != nil {
			return fmt.Errorf("--mode: %w", err)
		}
	}

	cfg, err := config.LoadConfig(args.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	props := buildinfo.Get()
	logger.Info("capped started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", args.configPath,
		"batches", batches,
	)

	var opts []runner.Option
	var registry *metrics.PushRegistry
	if cfg.Monitoring.VictoriaMetricsURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		registry = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.VictoriaMetricsURL,
			Prefix:   cfg.Monitoring.MetricsPrefix,
			Job:      cfg.Monitoring.JobName,
			Instance: hostname,
		})
		m, err := metrics.NewExecutorMetrics(registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		opts = append(opts, runner.WithMetrics(m))
	}

	r := runner.New(logger.Logger, staticConfig{cfg: &cfg}, opts...)
	status, runErr := r.RunSync(ctx, batches, runner.Overrides{
		MaxPending: config.MaxPending(args.maxPending),
		Mode:       args.mode,
	})
	if status.ID == "" {
		// The run never started.
		return runErr
	}

	if registry != nil {
		pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		if err := registry.Flush(pushCtx); err != nil {
			logger.Warn("failed to push metrics", "error", err)
		}
		cancel()
	}

	if err := printStatus(out, args.output, status); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func printStatus(w io.Writer, format string, status runner.RunStatus) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	for _, t := range status.Tasks {
		fmt.Fprintf(w, "%-32s %-10s %s\n", tasks.Key(t.Batch, t.Task), t.State, taskDetail(t))
	}
	for _, b := range status.Batches {
		line := fmt.Sprintf("batch %s: %d fulfilled, %d rejected (max_pending=%d, mode=%s)",
			b.Name, b.Fulfilled, b.Rejected, b.MaxPending, b.Mode)
		if b.Error != "" {
			line += ": " + b.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// taskDetail is the error of a failed task, else its extracted value or the
// first line of its output.
func taskDetail(t runner.TaskExecution) string {
	if t.Error != "" {
		return t.Error
	}
	if t.Value != nil {
		return fmt.Sprint(t.Value)
	}
	first, _, _ := strings.Cut(t.Output, "\n")
	return first
}
