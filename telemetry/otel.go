package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/ordregistry/core"
)

const instrumentationName = "github.com/itsneelabh/ordregistry"

// OTelProvider implements core.Telemetry with OpenTelemetry.
type OTelProvider struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	reader         *sdkmetric.ManualReader
	limiter        *CardinalityLimiter

	mu         sync.RWMutex
	histograms map[string]metric.Float64Histogram
	logger     core.Logger
}

type options struct {
	processors []sdktrace.SpanProcessor
	readers    []sdkmetric.Reader
	limits     map[string]int
	logger     core.Logger
	global     bool
	version    string
}

// Option configures an OTelProvider.
type Option func(*options)

// WithSpanProcessor adds a span processor. When at least one is given, no
// exporter is created from the config.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, p) }
}

// WithMetricReader adds a metric reader next to the in-process one.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithCardinalityLimits caps the distinct values recorded per label.
func WithCardinalityLimits(limits map[string]int) Option {
	return func(o *options) { o.limits = limits }
}

// WithLogger sets the logger used for exporter diagnostics.
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGlobal installs the providers as the OpenTelemetry globals.
func WithGlobal() Option {
	return func(o *options) { o.global = true }
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// DefaultCardinalityLimits bounds the labels the registry records.
var DefaultCardinalityLimits = map[string]int{
	"type":  16,
	"task":  16,
	"route": 32,
}

// NewOTelProvider creates a provider for cfg. The trace exporter is chosen by
// cfg.Exporter ("otlp" over gRPC or "stdout"). Metrics always go to an
// in-process reader and, when cfg.MetricsEndpoint is set, to OTLP/HTTP.
func NewOTelProvider(ctx context.Context, cfg core.TelemetryConfig, opts ...Option) (*OTelProvider, error) {
	o := &options{limits: DefaultCardinalityLimits, version: "dev"}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = &core.NoOpLogger{}
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ord-registry"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(o.version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if len(o.processors) > 0 {
		for _, p := range o.processors {
			traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(p))
		}
	} else {
		exporter, err := newSpanExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	reader := sdkmetric.NewManualReader()
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(reader)}
	for _, r := range o.readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	if cfg.MetricsEndpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.MetricsEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			_ = tp.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(30*time.Second))))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
	}

	o.logger.Info("Telemetry initialized", map[string]interface{}{
		"operation":        "telemetry_init",
		"service":          serviceName,
		"exporter":         exporterName(cfg, len(o.processors) > 0),
		"metrics_endpoint": cfg.MetricsEndpoint,
	})

	return &OTelProvider{
		tracer:         tp.Tracer(instrumentationName),
		meter:          mp.Meter(instrumentationName),
		tracerProvider: tp,
		meterProvider:  mp,
		reader:         reader,
		limiter:        NewCardinalityLimiter(o.limits),
		histograms:     make(map[string]metric.Float64Histogram),
		logger:         o.logger,
	}, nil
}

func newSpanExporter(ctx context.Context, cfg core.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	case "otlp", "":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q: %w", cfg.Exporter, core.ErrInvalidConfiguration)
	}
}

func exporterName(cfg core.TelemetryConfig, custom bool) string {
	if custom {
		return "custom"
	}
	if cfg.Exporter == "" {
		return "otlp"
	}
	return cfg.Exporter
}

// StartSpan starts a new telemetry span.
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records value on the histogram called name. Label values
// beyond the cardinality limit are folded into "other".
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	h, err := o.histogram(name)
	if err != nil {
		o.logger.Debug("Metric instrument unavailable", map[string]interface{}{
			"operation": "telemetry_record",
			"metric":    name,
			"error":     err.Error(),
		})
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, o.limiter.CheckAndLimit(name, k, v)))
	}
	h.Record(context.Background(), value, metric.WithAttributes(attrs...))
}

func (o *OTelProvider) histogram(name string) (metric.Float64Histogram, error) {
	o.mu.RLock()
	h, ok := o.histograms[name]
	o.mu.RUnlock()
	if ok {
		return h, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h, nil
	}
	h, err := o.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	o.histograms[name] = h
	return h, nil
}

// TracerProvider exposes the SDK tracer provider for HTTP instrumentation.
func (o *OTelProvider) TracerProvider() trace.TracerProvider {
	return o.tracerProvider
}

// MeterProvider exposes the SDK meter provider for HTTP instrumentation.
func (o *OTelProvider) MeterProvider() metric.MeterProvider {
	return o.meterProvider
}

// Collect reads the current in-process metric state.
func (o *OTelProvider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := o.reader.Collect(ctx, &rm)
	return rm, err
}

// Shutdown flushes and stops both providers.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	o.limiter.Stop()
	return errors.Join(
		o.tracerProvider.Shutdown(ctx),
		o.meterProvider.Shutdown(ctx),
	)
}

// otelSpan wraps an OpenTelemetry span to implement core.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case uint64:
		s.span.SetAttributes(attribute.Int64(key, int64(v)))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case []string:
		s.span.SetAttributes(attribute.StringSlice(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
