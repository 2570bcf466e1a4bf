package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const defaultEndpoint = "localhost:4318"

// Exporter holds the OTLP/HTTP collector settings.
type Exporter struct {
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Metrics  bool
	Traces   bool
	// SampleRatio is the fraction of root spans recorded; 0 or >= 1 keeps all.
	SampleRatio float64
}

// Deployment describes the running daemon. Every non-empty field becomes a
// resource attribute on exported spans and metrics.
type Deployment struct {
	Service       string
	Version       string
	Environment   string
	ChainID       string
	Signer        string
	GasManager    string
	QuestHub      string
	BridgeManager string
	LedgerDriver  string
}

// Config is the input to Init.
type Config struct {
	Deployment Deployment
	Exporter   Exporter
}

// Telemetry owns the providers installed by Init.
type Telemetry struct {
	Resource *resource.Resource
	shutdown []func(context.Context) error
}

// Init installs the global tracer and meter providers for the enabled
// exporters and the W3C propagators. With no exporter enabled only the
// propagators are installed.
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	res, err := Resource(cfg.Deployment)
	if err != nil {
		return nil, err
	}
	t := &Telemetry{Resource: res}
	exp := cfg.Exporter
	if exp.Endpoint == "" {
		exp.Endpoint = defaultEndpoint
	}
	if exp.Traces {
		tp, err := traceProvider(ctx, exp, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		t.shutdown = append(t.shutdown, tp.Shutdown)
	}
	if exp.Metrics {
		mp, err := meterProvider(ctx, exp, res)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
		otel.SetMeterProvider(mp)
		t.shutdown = append(t.shutdown, mp.Shutdown)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Shutdown flushes and stops the providers in reverse installation order.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, t.shutdown[i](ctx))
	}
	t.shutdown = nil
	return errors.Join(errs...)
}

// Resource describes the deployment: service identity plus the chain the
// daemon signs for and the contracts it drives.
func Resource(d Deployment) (*resource.Resource, error) {
	if strings.TrimSpace(d.Service) == "" {
		return nil, fmt.Errorf("service name required for telemetry")
	}
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(d.Service)}
	if d.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(d.Version))
	}
	if d.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(d.Environment))
	}
	for key, value := range map[string]string{
		"monspark.chain.id":                d.ChainID,
		"monspark.chain.signer":            strings.ToLower(d.Signer),
		"monspark.contract.gas_manager":    strings.ToLower(d.GasManager),
		"monspark.contract.quest_hub":      strings.ToLower(d.QuestHub),
		"monspark.contract.bridge_manager": strings.ToLower(d.BridgeManager),
		"monspark.ledger.driver":           d.LedgerDriver,
	} {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	return res, nil
}

func traceProvider(ctx context.Context, exp Exporter, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(exp.Endpoint)}
	if exp.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(exp.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(exp.Headers))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(exp.SampleRatio)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
	), nil
}

func meterProvider(ctx context.Context, exp Exporter, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(exp.Endpoint)}
	if exp.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(exp.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(exp.Headers))
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	), nil
}

// Sampler honours the parent decision and samples root spans at ratio.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// ParseHeaders reads OTEL_EXPORTER_OTLP_HEADERS syntax ("k=v,k2=v2").
// Malformed pairs are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
