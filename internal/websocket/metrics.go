package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records websocket activity. A nil *Metrics records nothing.
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesTotal      metric.Int64Counter
	messageBytes       metric.Int64Counter
	droppedMessages    metric.Int64Counter
}

// NewMetrics creates the websocket instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.connectionsTotal, err = meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	m.connectionsActive, err = meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	m.connectionDuration, err = meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.messagesTotal, err = meter.Int64Counter(
		"websocket_messages_total",
		metric.WithDescription("Total number of WebSocket messages"),
	)
	if err != nil {
		return nil, err
	}

	m.messageBytes, err = meter.Int64Counter(
		"websocket_message_bytes_total",
		metric.WithDescription("Total bytes of WebSocket messages"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.droppedMessages, err = meter.Int64Counter(
		"websocket_dropped_messages_total",
		metric.WithDescription("Messages dropped because a client fell behind"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *Metrics) recordDisconnection(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) recordMessage(ctx context.Context, direction, messageType string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("type", messageType),
	)
	m.messagesTotal.Add(ctx, 1, attrs)
	m.messageBytes.Add(ctx, int64(size), attrs)
}

func (m *Metrics) recordDropped(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	m.droppedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", messageType)))
}
