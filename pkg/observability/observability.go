// Package observability provides OpenTelemetry tracing and metrics plus
// structured logging for the audit core. Telemetry is optional: with no
// OTLP endpoint configured the provider is inert and every recording
// method is a no-op.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tradecore.audit"

// Config configures the telemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"; empty disables export
	SampleRate     float64
	BatchTimeout   time.Duration
	Insecure       bool
}

// DefaultConfig returns development defaults with export disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "tradecore",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider manages trace and metric providers and the core counters.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	appendCounter metric.Int64Counter
	verifyCounter metric.Int64Counter
	alertCounter  metric.Int64Counter
	durationHist  metric.Float64Histogram
}

// New creates the provider. With an empty OTLPEndpoint it returns an inert
// provider whose recording methods do nothing.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if config.OTLPEndpoint == "" {
		p.logger.InfoContext(ctx, "telemetry export disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init traces: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	p.tracer = otel.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.appendCounter, err = p.meter.Int64Counter("tradecore.ledger.appends.total",
		metric.WithDescription("Ledger entries appended"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	p.verifyCounter, err = p.meter.Int64Counter("tradecore.integrity.verifications.total",
		metric.WithDescription("Document integrity verifications run"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return err
	}

	p.alertCounter, err = p.meter.Int64Counter("tradecore.alerts.raised.total",
		metric.WithDescription("Compliance alerts raised"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return err
	}

	p.durationHist, err = p.meter.Float64Histogram("tradecore.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}

// StartSpan starts a span named after the operation.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordAppend counts a ledger append.
func (p *Provider) RecordAppend(ctx context.Context, action string) {
	if p != nil && p.appendCounter != nil {
		p.appendCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

// RecordVerification counts an integrity verification with its outcome.
func (p *Provider) RecordVerification(ctx context.Context, passed bool) {
	if p != nil && p.verifyCounter != nil {
		p.verifyCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("passed", passed)))
	}
}

// RecordAlert counts a raised compliance alert.
func (p *Provider) RecordAlert(ctx context.Context, alertType string) {
	if p != nil && p.alertCounter != nil {
		p.alertCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("alert_type", alertType)))
	}
}

// RecordDuration records an operation latency.
func (p *Provider) RecordDuration(ctx context.Context, op string, d time.Duration) {
	if p != nil && p.durationHist != nil {
		p.durationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
	}
}

// NewLogger builds the process-wide slog logger at the given level and
// installs it as the default. Unrecognized levels fall back to INFO.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
