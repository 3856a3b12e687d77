// Command tracker runs a tracking session: it ingests JSON-lines position
// samples, evaluates geofences and proximity rules, serves a small HTTP API
// with Prometheus metrics and forwards events to the configured sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/geotrack/internal/config"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/internal/observability"
	"github.com/signalsfoundry/geotrack/internal/session"
	"github.com/signalsfoundry/geotrack/internal/sink"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration; defaults apply when empty")
	inputPath := flag.String("input", "", "JSON-lines sample feed; '-' reads stdin, empty disables the feed")
	listen := flag.String("listen", "", "HTTP address for the API and /metrics; overrides metrics.listen")
	flag.Parse()

	var (
		cfg config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *listen
	}

	log := logging.New(cfg.LoggingConfig())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rio := runtimeIO{Stdout: os.Stdout}
	if cfg.Metrics.Enabled {
		lis, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Metrics.Listen), logging.Err(err))
			os.Exit(1)
		}
		rio.Listener = lis
	}
	switch *inputPath {
	case "":
	case "-":
		rio.Input = os.Stdin
	default:
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Error(ctx, "failed to open sample feed", logging.String("path", *inputPath), logging.Err(err))
			os.Exit(1)
		}
		defer f.Close()
		rio.Input = f
	}

	if err := run(ctx, cfg, log, rio); err != nil {
		log.Error(ctx, "tracker exited", logging.Err(err))
		os.Exit(1)
	}
}

// runtimeIO carries the process resources run needs so tests can supply
// their own.
type runtimeIO struct {
	Listener net.Listener
	Input    io.Reader
	Stdout   io.Writer
	Registry *prometheus.Registry
}

// run wires the session and its surfaces and blocks until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, rio runtimeIO) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := rio.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	collector, err := observability.NewTrackerCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	sess, err := newSession(cfg, log, collector)
	if err != nil {
		return err
	}

	sinks, err := buildSinks(ctx, cfg.Sink, rio.Stdout)
	if err != nil {
		sess.Stop()
		return err
	}
	pumpDone := make(chan error, 1)
	go func() {
		// The pump outlives ctx so events queued before Stop are delivered.
		pumpDone <- sink.Pump(context.WithoutCancel(ctx), sess.Events(), log, sinks...)
	}()

	if err := sess.Start(ctx); err != nil {
		sess.Stop()
		return err
	}
	log.Info(ctx, "tracking session started",
		logging.String("session_id", sess.ID()),
		logging.Int("geofences", len(cfg.Geofences)),
		logging.Int("proximity_rules", len(cfg.Proximity)),
		logging.Int("sinks", len(sinks)),
	)

	var srv *http.Server
	if rio.Listener != nil {
		srv = &http.Server{
			Handler:           newRouter(sess, collector, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(rio.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn(ctx, "HTTP server exited", logging.Err(err))
			}
		}()
		log.Info(ctx, "serving tracker API", logging.String("addr", rio.Listener.Addr().String()))
	}

	if rio.Input != nil {
		go func() {
			n, err := ingestLines(ctx, sess, rio.Input, log)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn(ctx, "sample feed stopped", logging.Int("ingested", n), logging.Err(err))
				return
			}
			log.Info(ctx, "sample feed drained", logging.Int("ingested", n))
		}()
	}

	<-ctx.Done()
	log.Info(context.Background(), "shutting down tracker")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	sess.Stop()
	return <-pumpDone
}

// newSession builds the session and loads the configured geofences and
// proximity rules.
func newSession(cfg config.Config, log logging.Logger, metrics session.MetricsRecorder) (*session.Session, error) {
	sc, err := cfg.SessionConfig()
	if err != nil {
		return nil, err
	}
	sess, err := session.New(sc,
		session.WithLogger(log),
		session.WithMetricsRecorder(metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := loadRules(sess, cfg); err != nil {
		sess.Stop()
		return nil, err
	}
	return sess, nil
}

func loadRules(sess *session.Session, cfg config.Config) error {
	for _, gc := range cfg.Geofences {
		g, err := gc.ToGeofence()
		if err != nil {
			return fmt.Errorf("geofence %q: %w", gc.ID, err)
		}
		if _, err := sess.AddGeofence(g); err != nil {
			return fmt.Errorf("geofence %q: %w", gc.ID, err)
		}
	}
	for _, pc := range cfg.Proximity {
		if err := sess.RegisterProximityRule(pc.A, pc.B, pc.ThresholdMeters, pc.Options()...); err != nil {
			return fmt.Errorf("proximity %s/%s: %w", pc.A, pc.B, err)
		}
	}
	return nil
}

// stdoutWriter hides Close so the writer sink never closes the process
// stdout.
type stdoutWriter struct{ io.Writer }

func buildSinks(ctx context.Context, cfg config.SinkConfig, stdout io.Writer) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if cfg.Stdout && stdout != nil {
		sinks = append(sinks, sink.NewWriterSink(stdoutWriter{stdout}))
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			closeSinks(sinks)
			return nil, fmt.Errorf("open event file: %w", err)
		}
		sinks = append(sinks, sink.NewWriterSink(f))
	}
	if cfg.RedisURL != "" {
		var opts []sink.RedisOption
		if cfg.RedisKey != "" {
			opts = append(opts, sink.WithKey(cfg.RedisKey))
		}
		if cfg.RedisMaxLen > 0 {
			opts = append(opts, sink.WithMaxLen(cfg.RedisMaxLen))
		}
		rs, err := sink.NewRedisSink(ctx, cfg.RedisURL, opts...)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, rs)
	}
	return sinks, nil
}

func closeSinks(sinks []sink.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
