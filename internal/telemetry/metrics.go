// Package telemetry provides the OpenTelemetry metric instruments for the
// chat server. Metrics are recorded through the OTel Metrics API; a
// Prometheus exporter bridge is installed via [InitProvider] so they can be
// scraped from the standard /metrics endpoint. A package-level instance
// ([Global]) serves the hot paths; tests should use [NewMetrics] with their
// own [metric.MeterProvider] to avoid cross-test pollution.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all server metrics.
const meterName = "github.com/Tenosiey/Murmer"

// Metrics holds the metric instruments for the server. All fields are safe
// for concurrent use, the underlying OTel types synchronise themselves.
type Metrics struct {
	// ActiveConnections tracks open WebSocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// DispatchedFrames counts inbound frames routed to a handler. Use with
	// attribute.String("type", ...).
	DispatchedFrames metric.Int64Counter

	// DroppedEvents counts events discarded because a subscriber queue was
	// full at publish time.
	DroppedEvents metric.Int64Counter

	// StoredMessages counts chat messages persisted to the database.
	StoredMessages metric.Int64Counter

	// StoredUploads counts files accepted by the upload endpoint.
	StoredUploads metric.Int64Counter

	// AuthRejections counts failed presence authentications. Use with
	// attribute.String("code", ...).
	AuthRejections metric.Int64Counter

	// SweptMessages counts ephemeral messages removed by expiry.
	SweptMessages metric.Int64Counter
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveConnections, err = m.Int64UpDownCounter("murmer.connections.active",
		metric.WithDescription("Number of open WebSocket connections."),
	); err != nil {
		return nil, err
	}
	if met.DispatchedFrames, err = m.Int64Counter("murmer.frames.dispatched",
		metric.WithDescription("Total inbound frames routed to a handler by frame type."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("murmer.events.dropped",
		metric.WithDescription("Total events dropped on full subscriber queues."),
	); err != nil {
		return nil, err
	}
	if met.StoredMessages, err = m.Int64Counter("murmer.messages.stored",
		metric.WithDescription("Total chat messages persisted."),
	); err != nil {
		return nil, err
	}
	if met.StoredUploads, err = m.Int64Counter("murmer.uploads.stored",
		metric.WithDescription("Total files accepted by the upload endpoint."),
	); err != nil {
		return nil, err
	}
	if met.AuthRejections, err = m.Int64Counter("murmer.auth.rejections",
		metric.WithDescription("Total rejected presence authentications by error code."),
	); err != nil {
		return nil, err
	}
	if met.SweptMessages, err = m.Int64Counter("murmer.ephemeral.swept",
		metric.WithDescription("Total ephemeral messages deleted after expiry."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// Global returns the package-level [Metrics] instance, creating it on first
// call from [otel.GetMeterProvider]. Safe to call before [InitProvider] only
// in tests; production wiring installs the provider first. Panics if
// instrument creation fails, which the global provider never does.
func Global() *Metrics {
	globalMetricsOnce.Do(func() {
		var err error
		globalMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("telemetry: failed to create global metrics: " + err.Error())
		}
	})
	return globalMetrics
}

// The convenience methods below cover call sites that carry no context of
// their own, such as connection pumps and bus publishes.

func (m *Metrics) ConnectionOpened() {
	m.ActiveConnections.Add(context.Background(), 1)
}

func (m *Metrics) ConnectionClosed() {
	m.ActiveConnections.Add(context.Background(), -1)
}

func (m *Metrics) FrameDispatched(frameType string) {
	m.DispatchedFrames.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", frameType)),
	)
}

func (m *Metrics) EventDropped() {
	m.DroppedEvents.Add(context.Background(), 1)
}

func (m *Metrics) MessageStored() {
	m.StoredMessages.Add(context.Background(), 1)
}

func (m *Metrics) AuthRejected(code string) {
	m.AuthRejections.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("code", code)),
	)
}

func (m *Metrics) MessageSwept() {
	m.SweptMessages.Add(context.Background(), 1)
}

func (m *Metrics) UploadStored() {
	m.StoredUploads.Add(context.Background(), 1)
}
