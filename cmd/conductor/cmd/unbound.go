package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"conductor/core/jobs"
	"conductor/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(cancelTestCmd)

	cancelTestCmd.Flags().Int64("a", 1, "first operand")
	cancelTestCmd.Flags().Int64("b", 2, "second operand")
	cancelTestCmd.Flags().Duration("delay", time.Second, "how long the job waits before answering")
	cancelTestCmd.Flags().Duration("cancel-after", 0, "cancel the job after this long (0 disables)")
}

type cancelTestOptions struct {
	a, b        int64
	delay       time.Duration
	cancelAfter time.Duration
}

var cancelTestCmd = &cobra.Command{
	Use:   "cancel-test",
	Short: "Run the unbound cancel_test job and print its outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "cancel-test")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		var opts cancelTestOptions
		opts.a, _ = cmd.Flags().GetInt64("a")
		opts.b, _ = cmd.Flags().GetInt64("b")
		opts.delay, _ = cmd.Flags().GetDuration("delay")
		opts.cancelAfter, _ = cmd.Flags().GetDuration("cancel-after")

		return runCancelTest(ctx, cmd.OutOrStdout(), jobs.NewWorker(cfg.Session.MailboxSize), opts)
	},
}

// runCancelTest starts w, runs one cancel_test job on it and prints the outcome.
func runCancelTest(ctx context.Context, out io.Writer, w *jobs.Worker, opts cancelTestOptions) error {
	started := make(chan error, 1)
	go func() { started <- w.Start(context.WithoutCancel(ctx)) }()
	api := w.API()

	const jobID = 1
	if opts.cancelAfter > 0 {
		timer := time.AfterFunc(opts.cancelAfter, func() {
			if err := api.CancelJob(jobID); err != nil {
				logger.Warn(ctx, "Failed to cancel job", zap.Error(err))
			}
		})
		defer timer.Stop()
	}

	outcome, runErr := api.CancelTest(ctx, jobID, jobs.CancelTest{A: opts.a, B: opts.b, Delay: opts.delay})
	if runErr == nil {
		logger.Debug(ctx, "Job finished", zap.Bool("cancelled", outcome.Cancelled))
		runErr = json.NewEncoder(out).Encode(outcome)
	}

	shutdownErr := api.Shutdown(context.WithoutCancel(ctx))
	return errors.Join(runErr, shutdownErr, <-started)
}
