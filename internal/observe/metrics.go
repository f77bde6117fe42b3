// SPDX-License-Identifier: MIT

// Package observe provides the pipeline's OpenTelemetry metrics and the
// Prometheus exporter bridge that serves them on /metrics.
//
// Components take a *Metrics; passing nil selects [DefaultMetrics], which is
// bound to the global meter provider. Tests should use [NewMetrics] with a
// ManualReader-backed provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "audiopipe"

// Metrics holds every instrument used by the pipeline. All fields are safe
// for concurrent use.
type Metrics struct {
	// --- Capture ---

	// CaptureBlocks counts blocks delivered by the device callback.
	CaptureBlocks metric.Int64Counter

	// CaptureErrors counts callback faults. Use with attribute:
	//   attribute.String("kind", "panic"|"chain")
	CaptureErrors metric.Int64Counter

	// --- FIFO ---

	// FIFOFrames counts frames by outcome. Use with attributes:
	//   attribute.String("fifo", ...), attribute.String("status", "written"|"no_reader"|"pipe_full"|"dropped_queue"|"error")
	FIFOFrames metric.Int64Counter

	// --- Broadcast ---

	// Subscribers tracks connected subscribers. Use with attribute:
	//   attribute.String("service", ...)
	Subscribers metric.Int64UpDownCounter

	// DeliveryFailures counts subscribers dropped after a failed send.
	DeliveryFailures metric.Int64Counter

	// Broadcasts counts messages fanned out per service.
	Broadcasts metric.Int64Counter

	// --- Workloads ---

	// EncodeDuration tracks livestream chunk encode latency.
	EncodeDuration metric.Float64Histogram

	// SpectrogramColumns counts STFT columns published.
	SpectrogramColumns metric.Int64Counter
}

// encodeBuckets are histogram boundaries in seconds for per-chunk encodes.
var encodeBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureBlocks, err = m.Int64Counter("audiopipe.capture.blocks",
		metric.WithDescription("Blocks delivered by the capture callback."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("audiopipe.capture.errors",
		metric.WithDescription("Capture callback faults by kind."),
	); err != nil {
		return nil, err
	}
	if met.FIFOFrames, err = m.Int64Counter("audiopipe.fifo.frames",
		metric.WithDescription("Fixed-size frames by fifo and status."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("audiopipe.subscribers",
		metric.WithDescription("Connected subscribers by service."),
	); err != nil {
		return nil, err
	}
	if met.DeliveryFailures, err = m.Int64Counter("audiopipe.delivery.failures",
		metric.WithDescription("Subscribers removed after a failed delivery, by service."),
	); err != nil {
		return nil, err
	}
	if met.Broadcasts, err = m.Int64Counter("audiopipe.broadcasts",
		metric.WithDescription("Messages fanned out, by service."),
	); err != nil {
		return nil, err
	}
	if met.EncodeDuration, err = m.Float64Histogram("audiopipe.encode.duration",
		metric.WithDescription("Latency of livestream chunk encoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(encodeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpectrogramColumns, err = m.Int64Counter("audiopipe.spectrogram.columns",
		metric.WithDescription("Spectrogram columns published."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance bound to
// [otel.GetMeterProvider], creating it on first call.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// OrDefault returns m, or DefaultMetrics when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics()
	}
	return m
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFIFOFrame increments the frame counter for a fifo and status.
func (m *Metrics) RecordFIFOFrame(ctx context.Context, fifo, status string) {
	m.FIFOFrames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fifo", fifo),
		attribute.String("status", status),
	))
}

// RecordSubscriberDelta adjusts the subscriber gauge for a service.
func (m *Metrics) RecordSubscriberDelta(ctx context.Context, service string, delta int64) {
	m.Subscribers.Add(ctx, delta, metric.WithAttributes(attribute.String("service", service)))
}

// RecordDeliveryFailure counts a subscriber dropped by a service.
func (m *Metrics) RecordDeliveryFailure(ctx context.Context, service string) {
	m.DeliveryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordBroadcast counts one fan-out by a service.
func (m *Metrics) RecordBroadcast(ctx context.Context, service string) {
	m.Broadcasts.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordCaptureError counts a callback fault.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
