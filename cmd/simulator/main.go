// Command simulator drives synthetic entities through a tracking session
// and prints the resulting events as JSON lines.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/geotrack/core"
	"github.com/signalsfoundry/geotrack/internal/config"
	"github.com/signalsfoundry/geotrack/internal/logging"
	"github.com/signalsfoundry/geotrack/internal/session"
	"github.com/signalsfoundry/geotrack/internal/sink"
	"github.com/signalsfoundry/geotrack/model"
	"github.com/signalsfoundry/geotrack/timectrl"
)

func main() {
	duration := flag.Duration("duration", 30*time.Minute, "total simulated duration")
	tick := flag.Duration("tick", 5*time.Second, "simulated time between samples")
	modeFlag := flag.String("mode", "accelerated", "clock mode: realtime or accelerated")
	configPath := flag.String("config", "", "optional tracker YAML; its session, tracker and threat sections apply")
	seed := flag.Int64("seed", 1, "seed for position noise")
	flag.Parse()

	mode, ok := timectrl.ParseMode(*modeFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "simulator: unknown mode %q\n", *modeFlag)
		os.Exit(2)
	}

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
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.LoggingConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := simOptions{
		Start:    time.Now().UTC(),
		Duration: *duration,
		Tick:     *tick,
		Mode:     mode,
		Seed:     *seed,
	}
	log.Info(ctx, "starting simulation",
		logging.Duration("duration", opts.Duration),
		logging.Duration("tick", opts.Tick),
		logging.String("mode", *modeFlag),
	)
	summary, err := simulate(ctx, cfg, opts, os.Stdout, log)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	fields := []logging.Field{logging.Int("samples", summary.Samples)}
	for _, kind := range summary.kinds() {
		fields = append(fields, logging.Int(string(kind), summary.Events[kind]))
	}
	log.Info(ctx, "simulation complete", fields...)
}

type simOptions struct {
	Start    time.Time
	Duration time.Duration
	Tick     time.Duration
	Mode     timectrl.Mode
	Seed     int64
}

type simSummary struct {
	Samples int
	Events  map[model.EventKind]int
}

func (s simSummary) kinds() []model.EventKind {
	out := make([]model.EventKind, 0, len(s.Events))
	for k := range s.Events {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// tallySink counts delivered events by kind.
type tallySink struct {
	mu     sync.Mutex
	counts map[model.EventKind]int
}

func (s *tallySink) Deliver(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	s.counts[ev.Kind()]++
	s.mu.Unlock()
	return nil
}

func (s *tallySink) Close() error { return nil }

// simulate runs the harbour scenario on a session whose clock follows the
// time controller. Events go to out as JSON lines.
func simulate(ctx context.Context, cfg config.Config, opts simOptions, out io.Writer, log logging.Logger) (simSummary, error) {
	log = logging.OrNoop(log)
	tc := timectrl.NewTimeController(opts.Start, opts.Tick, opts.Mode)

	sc, err := cfg.SessionConfig()
	if err != nil {
		return simSummary{}, err
	}
	sess, err := session.New(sc, session.WithLogger(log), session.WithClock(tc.Now))
	if err != nil {
		return simSummary{}, err
	}

	scn := harbourScenario(opts.Start, opts.Seed)
	for _, g := range scn.Geofences {
		if _, err := sess.AddGeofence(g); err != nil {
			sess.Stop()
			return simSummary{}, fmt.Errorf("geofence %q: %w", g.ID, err)
		}
	}
	for _, p := range scn.Proximity {
		if err := sess.RegisterProximityRule(p.A, p.B, p.ThresholdMeters); err != nil {
			sess.Stop()
			return simSummary{}, err
		}
	}

	samples := 0
	fleet := core.NewFleet(core.SampleSinkFunc(func(s model.PositionSample) error {
		samples++
		_, err := sess.Ingest(ctx, s)
		return err
	}))
	for _, a := range scn.Actors {
		if err := fleet.Add(a.ID, a.Model); err != nil {
			sess.Stop()
			return simSummary{}, err
		}
	}

	tally := &tallySink{counts: make(map[model.EventKind]int)}
	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- sink.Pump(context.WithoutCancel(ctx), sess.Events(), log, sink.NewWriterSink(nopCloser{out}), tally)
	}()

	tc.AddListener(func(ctx context.Context, simTime time.Time) {
		if err := fleet.Step(simTime); err != nil {
			log.Warn(ctx, "sample rejected", logging.Time("sim_time", simTime), logging.Err(err))
		}
		if _, err := sess.Sweep(ctx, simTime); err != nil {
			log.Warn(ctx, "sweep failed", logging.Time("sim_time", simTime), logging.Err(err))
		}
	})

	<-tc.Start(ctx, opts.Duration)
	sess.Stop()
	if err := <-pumpDone; err != nil {
		return simSummary{}, err
	}

	tally.mu.Lock()
	defer tally.mu.Unlock()
	return simSummary{Samples: samples, Events: tally.counts}, nil
}

type nopCloser struct{ io.Writer }
