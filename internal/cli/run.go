package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/recorder/internal/config"
	"github.com/roach88/recorder/internal/model"
	"github.com/roach88/recorder/internal/recorder"
)

// ErrRecorderStopped is returned by run when the engine exits on its own.
var ErrRecorderStopped = errors.New("recorder stopped unexpectedly")

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath      string
	DBURL           string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	// Registerer and Gatherer back the metrics endpoint. They default to
	// the process-wide Prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{
		RootOptions: rootOpts,
		Registerer:  prometheus.DefaultRegisterer,
		Gatherer:    prometheus.DefaultGatherer,
	})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the recorder, reading NDJSON events from stdin",
		Long: `Run the recorder until interrupted.

Events are read from stdin, one JSON object per line. Metrics are served
in Prometheus format when --metrics-addr is set. SIGINT or SIGTERM writes
everything queued and closes the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecorder(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&opts.DBURL, "db", "", "database URL (overrides the config file)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "listen address for /metrics, e.g. :9090")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for queued writes on shutdown")

	return cmd
}

func runRecorder(cmd *cobra.Command, opts *RunOptions) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.ConfigPath, opts.DBURL)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}

	parent := cmd.Context()
	rec := recorder.New(cfg, recorder.WithRegisterer(opts.Registerer))
	// The engine outlives the signal context so Shutdown can drain it.
	if err := rec.Start(context.WithoutCancel(parent)); err != nil {
		return out.Fail(ExitFailure, CodeRecorder, "failed to start recorder", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if opts.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, opts.MetricsAddr, opts.Gatherer)
		})
	}
	g.Go(func() error {
		select {
		case <-rec.Stopped():
			return ErrRecorderStopped
		case <-gctx.Done():
			return nil
		}
	})

	// The reader is left out of the group: a blocked stdin read cannot be
	// interrupted and must not hold up shutdown.
	go func() {
		n, err := readEvents(cmd.InOrStdin(), time.Now, func(ev model.Event) error {
			rec.RecordEvent(ev)
			return nil
		})
		if err != nil {
			slog.Error("stopped reading events", "error", err, "events", n)
			return
		}
		slog.Info("end of input", "events", n)
	}()

	slog.Info("recorder running", "db", recorder.RedactURL(cfg.DBURL), "metrics", opts.MetricsAddr)
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), opts.ShutdownTimeout)
	defer cancel()
	if err := rec.Shutdown(shutdownCtx); err != nil {
		return out.Fail(ExitFailure, CodeRecorder, "shutdown did not complete", err)
	}
	if runErr != nil {
		return out.Fail(ExitFailure, CodeRecorder, "recorder failed", runErr)
	}
	slog.Info("recorder stopped")
	return nil
}

// serveMetrics serves the Prometheus endpoint until ctx is done.
func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}

// loadConfig reads path, or starts from defaults when path is empty, and
// applies a --db override.
func loadConfig(path, dbURL string) (recorder.Config, error) {
	cfg := recorder.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.Load(afero.NewOsFs(), path); err != nil {
			return cfg, err
		}
	}
	if dbURL != "" {
		cfg.DBURL = dbURL
	}
	return cfg, config.Validate(cfg)
}

// startRecorder starts rec and waits until it accepts work.
func startRecorder(ctx context.Context, rec *recorder.Recorder) error {
	if err := rec.Start(ctx); err != nil {
		return err
	}
	ready, err := rec.Ready().Wait(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("database is not usable")
	}
	return nil
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), d)
}

// drainAndStop writes everything queued and shuts rec down.
func drainAndStop(ctx context.Context, rec *recorder.Recorder, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := rec.Flush(ctx); err != nil && !errors.Is(err, recorder.ErrNotRunning) {
		return err
	}
	return rec.Shutdown(ctx)
}
