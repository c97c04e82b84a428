package dvr

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "dvrsync.dvr"

	metricPollsName         = "dvrsync_polls_total"
	metricPollFailuresName  = "dvrsync_poll_failures_total"
	metricCamerasOnlineName = "dvrsync_cameras_online"
	metricServersOnlineName = "dvrsync_servers_online"
)

// Metrics carries the poll scheduler instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	polls         metric.Int64Counter
	pollFailures  metric.Int64Counter
	camerasOnline metric.Int64Gauge
	serversOnline metric.Int64UpDownCounter
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter(meterName)

	m := &Metrics{}

	var err error

	m.polls, err = meter.Int64Counter(
		metricPollsName,
		metric.WithDescription("Poll requests issued, by endpoint"),
	)
	if err != nil {
		otel.Handle(err)
		return nil
	}

	m.pollFailures, err = meter.Int64Counter(
		metricPollFailuresName,
		metric.WithDescription("Poll requests that failed or returned unusable documents, by endpoint"),
	)
	if err != nil {
		otel.Handle(err)
		return nil
	}

	m.camerasOnline, err = meter.Int64Gauge(
		metricCamerasOnlineName,
		metric.WithDescription("Cameras currently online, by server"),
	)
	if err != nil {
		otel.Handle(err)
		return nil
	}

	m.serversOnline, err = meter.Int64UpDownCounter(
		metricServersOnlineName,
		metric.WithDescription("Servers with a live session"),
	)
	if err != nil {
		otel.Handle(err)
		return nil
	}

	return m
}

func (m *Metrics) Poll(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}

	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *Metrics) PollFailure(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}

	m.pollFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *Metrics) SetCamerasOnline(ctx context.Context, serverID string, count int) {
	if m == nil {
		return
	}

	m.camerasOnline.Record(ctx, int64(count), metric.WithAttributes(attribute.String("server_id", serverID)))
}

func (m *Metrics) ServerOnline(ctx context.Context, delta int64) {
	if m == nil {
		return
	}

	m.serversOnline.Add(ctx, delta)
}
