package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/capacity"
	"github.com/baxromumarov/taskflow/stream"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a plan",
		Long:  "Run every task of a plan through the scheduler and print each envelope as it arrives. Exits non-zero if any task failed.",
		Args:  cobra.NoArgs,
		RunE:  runPlan,
	}

	flags := cmd.Flags()
	flags.String(planFlag, "", "path to the YAML plan")
	mustBindPFlag(planFlag, flags.Lookup(planFlag))

	flags.StringToInt64(capacityFlag, nil, "resource sizes overriding the plan, e.g. cpu=4,mem=8")

	flags.Int(retriesFlag, taskflow.DefaultRetryPolicy().MaxRetries, "retries per failed task")
	mustBindPFlag(retriesConf, flags.Lookup(retriesFlag))

	flags.Bool(backfillFlag, false, "start lower-ranked tasks that fit while the top task waits")
	mustBindPFlag(backfillConf, flags.Lookup(backfillFlag))

	flags.String(logLevelFlag, "info", "log level: none, debug, info, warn or error")
	mustBindPFlag(logLevelConf, flags.Lookup(logLevelFlag))

	flags.String(logFormatFlag, "text", "log format: text or json")
	mustBindPFlag(logFormatConf, flags.Lookup(logFormatFlag))

	return cmd
}

func runPlan(cmd *cobra.Command, _ []string) error {
	path := viper.GetString(planFlag)
	if path == "" {
		return errors.New("--plan is required")
	}
	plan, err := loadPlan(path)
	if err != nil {
		return err
	}

	logger, err := newLogger(viper.GetString(logFormatConf), viper.GetString(logLevelConf))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	retries := viper.GetInt(retriesConf)
	if retries < 0 {
		return fmt.Errorf("--%s must be non-negative, got %d", retriesFlag, retries)
	}
	overrides, err := cmd.Flags().GetStringToInt64(capacityFlag)
	if err != nil {
		return err
	}

	opts := []taskflow.Option{
		taskflow.WithLogger(logger),
		taskflow.WithRetry(taskflow.RetryPolicy{
			MaxRetries: retries,
			NewBackOff: taskflow.DefaultRetryPolicy().NewBackOff,
		}),
	}
	if viper.GetBool(backfillConf) {
		opts = append(opts, taskflow.WithBackfill())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := capacity.NewResources(plan.resources(overrides), capacity.WithName("plan"))
	runner := taskflow.NewScheduledPoolRunner[string, string](res, opts...)
	logger.Info("running plan",
		zap.String("plan", path),
		zap.String("run_id", runner.RunID()),
		zap.Int("tasks", len(plan.Tasks)),
		zap.Any("capacity", res.Size()),
	)

	start := time.Now()
	out := runner.Run(ctx, stream.FromSlice(plan.scheduled()))
	w := cmd.OutOrStdout()
	// The runner aborts the remaining tasks itself once ctx ends, so the
	// output is drained to the end regardless.
	if err := out.ForEach(context.Background(), func(env taskflow.Envelope[string, string]) error {
		return printEnvelope(w, env)
	}); err != nil {
		return err
	}

	st := runner.Stats()
	fmt.Fprintf(w, "%d final, %d error, %d aborted, %d retried in %s\n",
		st.Completed, st.Failed, st.Aborted, st.Retried, time.Since(start).Round(time.Millisecond))
	if st.Failed > 0 {
		return fmt.Errorf("%d task(s) failed", st.Failed)
	}
	return nil
}

func printEnvelope(w io.Writer, env taskflow.Envelope[string, string]) error {
	var detail string
	switch env.Type {
	case taskflow.Intermediate, taskflow.Final:
		detail = env.Value
	default:
		detail = taskflow.CauseOf(env.Err).Error()
	}
	_, err := fmt.Fprintf(w, "%-12s %-20s attempt=%d %s\n", env.Type, env.Key, env.Attempt, detail)
	return err
}

func newLogger(format, level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	switch format {
	case "json":
	case "text":
		cfg.Encoding = "console"
		cfg.DisableCaller = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	return cfg.Build()
}
