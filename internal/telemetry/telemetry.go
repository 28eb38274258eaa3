// Package telemetry exposes synthesis metrics through OpenTelemetry with a
// Prometheus scrape endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

// MeterName scopes every instrument created by this service.
const MeterName = "github.com/example/spark-tts-server"

// Provider owns the meter provider and its scrape handler.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	handler       http.Handler
}

// Setup builds a MeterProvider that exports into a private Prometheus
// registry, so tests and multiple servers in one process do not collide.
func Setup(serviceName, version string) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	reg := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	return &Provider{
		meterProvider: mp,
		handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, nil
}

// Meter returns the service meter.
func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(MeterName)
}

// Handler serves the Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return p.handler
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}

// Metrics records request-level measurements. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requests  metric.Int64Counter
	inFlight  metric.Int64UpDownCounter
	gateWait  metric.Float64Histogram
	inference metric.Float64Histogram
	normalize metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var errs []error

	requests, err := meter.Int64Counter("sparktts.requests",
		metric.WithDescription("Synthesis requests by mode and outcome"))
	errs = append(errs, err)

	inFlight, err := meter.Int64UpDownCounter("sparktts.requests.in_flight",
		metric.WithDescription("Synthesis requests currently being served"))
	errs = append(errs, err)

	gateWait, err := meter.Float64Histogram("sparktts.gate.wait",
		metric.WithDescription("Time spent waiting for the inference gate"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	inference, err := meter.Float64Histogram("sparktts.inference.duration",
		metric.WithDescription("Inference call duration"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	normalize, err := meter.Int64Counter("sparktts.normalize",
		metric.WithDescription("Reference audio normalizations by path taken"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	return &Metrics{
		requests:  requests,
		inFlight:  inFlight,
		gateWait:  gateWait,
		inference: inference,
		normalize: normalize,
	}, nil
}

// Begin marks a request in flight and returns a func that records its outcome.
func (m *Metrics) Begin(ctx context.Context, mode string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}

	modeAttr := attribute.String("mode", mode)
	m.inFlight.Add(ctx, 1, metric.WithAttributes(modeAttr))

	return func(outcome string) {
		m.inFlight.Add(ctx, -1, metric.WithAttributes(modeAttr))
		m.requests.Add(ctx, 1, metric.WithAttributes(modeAttr, attribute.String("outcome", outcome)))
	}
}

// ObserveGate records one gate acquisition.
func (m *Metrics) ObserveGate(ctx context.Context, wait, held time.Duration, busy bool) {
	if m == nil {
		return
	}

	m.gateWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.Bool("busy", busy)))
	if !busy {
		m.inference.Record(ctx, held.Seconds())
	}
}

// ObserveNormalize records which normalization path a reference took.
func (m *Metrics) ObserveNormalize(ctx context.Context, path string) {
	if m == nil {
		return
	}

	m.normalize.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}
