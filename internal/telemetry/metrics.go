package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/systematics/examclient"
)

// Metrics holds the OpenTelemetry instruments of the session control plane.
type Metrics struct {
	LoginsTotal       metric.Int64Counter
	LogoutsTotal      metric.Int64Counter // attribute: reason
	IdleRearmsTotal   metric.Int64Counter
	GuardDenialsTotal metric.Int64Counter // attributes: reason, path
	AuthFailuresTotal metric.Int64Counter // attribute: status
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments bind to whatever meter provider is global at first call.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = newMetrics(otel.GetMeterProvider().Meter(meterName))
	})
	return metrics
}

// NewMetrics creates instruments on a specific meter provider, for tests.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	return newMetrics(provider.Meter(meterName))
}

func newMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"examclient.session.logins.total",
		metric.WithDescription("Total number of successful logins"),
		metric.WithUnit("{login}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"examclient.session.logouts.total",
		metric.WithDescription("Total number of session teardowns by reason"),
		metric.WithUnit("{logout}"),
	)

	m.IdleRearmsTotal, _ = meter.Int64Counter(
		"examclient.idle.rearms.total",
		metric.WithDescription("Total number of idle timer re-arms caused by user activity"),
		metric.WithUnit("{rearm}"),
	)

	m.GuardDenialsTotal, _ = meter.Int64Counter(
		"examclient.guard.denials.total",
		metric.WithDescription("Total number of navigations denied by the route guard"),
		metric.WithUnit("{navigation}"),
	)

	m.AuthFailuresTotal, _ = meter.Int64Counter(
		"examclient.http.auth_failures.total",
		metric.WithDescription("Total number of 401/403 responses seen by the auth interceptor"),
		metric.WithUnit("{response}"),
	)

	return m
}
