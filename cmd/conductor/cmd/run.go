package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"conductor/cmd/conductor/internal/batch"
	"conductor/core/config"
	"conductor/core/events"
	"conductor/core/logger"
	"conductor/core/session"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("stats", false, "print operation stats before stopping the session")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while the batch runs")
}

type runOptions struct {
	stats       bool
	metricsAddr string
}

// eventLine is the JSON line printed for every event.
type eventLine struct {
	Type  string               `json:"type"`
	Event events.CallbackEvent `json:"event"`
}

type statsLine struct {
	Type  string          `json:"type"`
	Stats json.RawMessage `json:"stats"`
}

var runCmd = &cobra.Command{
	Use:   "run <batch.yaml>",
	Short: "Run a batch of operations in a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "run")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		reqs, err := batch.Load(args[0])
		if err != nil {
			return err
		}

		var opts runOptions
		opts.stats, _ = cmd.Flags().GetBool("stats")
		opts.metricsAddr, _ = cmd.Flags().GetString("metrics-addr")

		if opts.metricsAddr != "" {
			stop := serveMetrics(ctx, opts.metricsAddr)
			defer stop()
		}
		return runBatch(ctx, cmd.OutOrStdout(), cfg, reqs, opts)
	},
}

// runBatch submits reqs to a new session, prints every event as a JSON line
// and stops the session once every submitted operation has reported.
func runBatch(ctx context.Context, out io.Writer, cfg *config.Config, reqs []batch.Request, opts runOptions, sessionOpts ...session.Option) error {
	s, evs, err := session.New(ctx, uuid.New(), append([]session.Option{session.WithConfig(cfg)}, sessionOpts...)...)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	logger.Info(ctx, "Session started", zap.Stringer("session", s.ID()), zap.Int("requests", len(reqs)))

	cfg.AddConfigChangeHook(func(next *config.Config) {
		if err := s.SetDebug(context.Background(), next.Session.Debug); err != nil {
			logger.Warn(ctx, "Failed to apply debug flag from config change", zap.Error(err))
		}
	})

	terminals := make(chan uuid.UUID, len(reqs))
	printed := make(chan error, 1)
	go func() {
		enc := json.NewEncoder(out)
		var writeErr error
		for ev := range evs {
			if writeErr == nil {
				writeErr = enc.Encode(eventLine{Type: ev.EventType(), Event: ev})
			}
			if !events.IsTerminal(ev) {
				continue
			}
			if id, ok := events.OperationID(ev); ok {
				select {
				case terminals <- id:
				default:
				}
			}
		}
		printed <- writeErr
	}()

	pending := 0
	for i, req := range reqs {
		id, err := req.Submit(s)
		if err != nil {
			logger.Error(ctx, "Failed to submit request", zap.Int("index", i), zap.Error(err))
			break
		}
		logger.Debug(ctx, "Request submitted", zap.String("kind", req.Kind), zap.Stringer("operation", id))
		pending++
	}

wait:
	for pending > 0 {
		select {
		case <-terminals:
			pending--
		case <-s.Done():
			break wait
		case <-ctx.Done():
			logger.Warn(ctx, "Interrupted before all operations reported", zap.Int("pending", pending))
			break wait
		}
	}

	var (
		stats    string
		statsErr error
	)
	if opts.stats {
		if stats, statsErr = s.GetOperationsStat(ctx); statsErr != nil {
			statsErr = fmt.Errorf("failed to get operations stats: %w", statsErr)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cfg.Timeouts.Stop)*time.Second)
	defer cancel()
	stopErr := s.Stop(stopCtx, uuid.New())
	if stopErr == nil {
		logger.Info(ctx, "Session stopped", zap.Stringer("session", s.ID()))
	}
	printErr := <-printed

	// The event printer is done with out; the stats line comes last.
	if stats != "" && printErr == nil {
		printErr = json.NewEncoder(out).Encode(statsLine{Type: "stats", Stats: json.RawMessage(stats)})
	}
	return errors.Join(statsErr, stopErr, printErr)
}

// serveMetrics exposes the Prometheus registry until the returned func is called.
func serveMetrics(ctx context.Context, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info(ctx, "Serving metrics", zap.String("addr", addr))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "Failed to stop metrics server", zap.Error(err))
		}
	}
}
