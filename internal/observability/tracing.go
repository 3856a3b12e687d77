package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/geotrack/internal/logging"
)

// TracingConfig governs how tracing is initialised.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `yaml:"endpoint"` // used when Exporter == otlp
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	// Insecure disables TLS towards the OTLP collector.
	Insecure bool `yaml:"insecure"`
	// Attributes are added to the trace resource, e.g. site or deployment.
	Attributes map[string]string `yaml:"attributes"`

	// Writer receives stdout exporter output; defaults to os.Stdout.
	Writer io.Writer `yaml:"-"`
}

// DefaultTracingConfig returns tracing disabled with stdout export and full
// sampling once enabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "geotrack",
		Exporter:    "stdout",
		SampleRatio: 1,
		Insecure:    true,
	}
}

// TracingConfigFromEnv pulls tracing configuration from environment variables,
// using sensible defaults when unset.
func TracingConfigFromEnv() TracingConfig {
	cfg := DefaultTracingConfig()
	ApplyTracingEnv(&cfg)
	return cfg
}

// ApplyTracingEnv overrides cfg with any TRACKER_TRACING_* variables that
// are set.
func ApplyTracingEnv(cfg *TracingConfig) {
	if v := os.Getenv("TRACKER_TRACING_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("TRACKER_TRACING_EXPORTER"); v != "" {
		cfg.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("TRACKER_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("TRACKER_OTLP_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("TRACKER_OTLP_INSECURE"); v != "" {
		cfg.Insecure = strings.EqualFold(v, "true")
	}
	if raw := os.Getenv("TRACKER_TRACING_SAMPLE_RATIO"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed >= 0 && parsed <= 1 {
			cfg.SampleRatio = parsed
		}
	}
}

// InitTracing wires a tracer provider, exporter, propagators, and sampler based
// on the provided configuration. It returns a shutdown function to flush spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", serviceName(cfg)),
		logging.String("sampler", fmt.Sprintf("parentbased_traceidratio_%0.2f", cfg.SampleRatio)),
	)

	return tp.Shutdown, nil
}

func serviceName(cfg TracingConfig) string {
	if cfg.ServiceName == "" {
		return "geotrack"
	}
	return cfg.ServiceName
}

// newResource describes the process: service name, the geotrack namespace
// and any configured attributes in key order.
func newResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", serviceName(cfg)),
		attribute.String("service.namespace", "geotrack"),
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(w),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		creds := credentials.NewClientTLSFromCert(nil, "")
		if cfg.Insecure {
			creds = insecure.NewCredentials()
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(creds)),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout invokes the provided shutdown function with a bounded
// timeout, swallowing errors in the shutdown path.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	log = logging.OrNoop(log)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
