// Package metrics exposes application-level OTLP metric instruments for
// the billing engine.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	entriesRecorded  metric.Int64Counter
	claimsCreated    metric.Int64Counter
	paymentsRecorded metric.Int64Counter
	disputesResolved metric.Int64Counter
	exportsRendered  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fieldbill"
	}
	meter := provider.Meter(name)

	entriesRecorded, err := meter.Int64Counter("fieldbill_unit_entries_total")
	if err != nil {
		return nil, err
	}
	claimsCreated, err := meter.Int64Counter("fieldbill_claims_created_total")
	if err != nil {
		return nil, err
	}
	paymentsRecorded, err := meter.Int64Counter("fieldbill_payments_recorded_total")
	if err != nil {
		return nil, err
	}
	disputesResolved, err := meter.Int64Counter("fieldbill_disputes_resolved_total")
	if err != nil {
		return nil, err
	}
	exportsRendered, err := meter.Int64Counter("fieldbill_exports_rendered_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		entriesRecorded:  entriesRecorded,
		claimsCreated:    claimsCreated,
		paymentsRecorded: paymentsRecorded,
		disputesResolved: disputesResolved,
		exportsRendered:  exportsRendered,
	}, nil
}

// RecordUnitEntry increments recorded unit entry counts.
func (m *Metrics) RecordUnitEntry(ctx context.Context, category string, autoSubmitted bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("category", strings.TrimSpace(category)),
		attribute.Bool("auto_submitted", autoSubmitted),
	)
	m.entriesRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordClaimCreated increments created claim counts.
func (m *Metrics) RecordClaimCreated(ctx context.Context, claimType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("claim_type", strings.TrimSpace(claimType)))
	m.claimsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment increments recorded payment counts.
func (m *Metrics) RecordPayment(ctx context.Context, method string, paidInFull bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("method", strings.TrimSpace(method)),
		attribute.Bool("paid_in_full", paidInFull),
	)
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDisputeResolved increments dispute resolution counts.
func (m *Metrics) RecordDisputeResolved(ctx context.Context, action string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action", strings.TrimSpace(action)))
	m.disputesResolved.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordExport increments export rendering counts.
func (m *Metrics) RecordExport(ctx context.Context, format string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("format", strings.TrimSpace(format)))
	m.exportsRendered.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"category":       {},
	"claim_type":     {},
	"method":         {},
	"action":         {},
	"format":         {},
	"auto_submitted": {},
	"paid_in_full":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
