package observability

import (
	"context"

	"checkinbot/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkinbot"

var (
	Sweeps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweeps_total",
		Help:      "Completed sweeps by result (done, stopped).",
	}, []string{"result"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of one sweep over all enabled tenants.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	Tenants = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_runs_total",
		Help:      "Per-tenant pipeline runs by result (ok, failed, disabled).",
	}, []string{"result"})

	TenantDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tenant_duration_seconds",
		Help:      "Wall time of one tenant pipeline run.",
		Buckets:   prometheus.DefBuckets,
	})

	SessionsClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_closed_total",
		Help:      "Sessions closed by the sweeper.",
	})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Dispatched notifications by kind and outcome.",
	}, []string{"kind", "outcome"})

	Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkin_actions_total",
		Help:      "User button presses by action and result.",
	}, []string{"action", "result"})

	Outbound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_calls_total",
		Help:      "Outbound chat calls by operation and outcome.",
	}, []string{"op", "outcome"})
)

func init() {
	prometheus.MustRegister(Sweeps, SweepDuration, Tenants, TenantDuration, SessionsClosed, Notifications, Actions, Outbound)
}

// Instrument counts the outcome of every call made through m.
func Instrument(m transport.Messenger) transport.Messenger { return instrumented{next: m} }

type instrumented struct{ next transport.Messenger }

func (i instrumented) Send(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) transport.Result {
	r := i.next.Send(ctx, to, text, opt)
	Outbound.WithLabelValues("send", r.Outcome.String()).Inc()
	return r
}

func (i instrumented) Edit(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) transport.Result {
	r := i.next.Edit(ctx, ref, text, opt)
	Outbound.WithLabelValues("edit", r.Outcome.String()).Inc()
	return r
}

func (i instrumented) RemoveMarkup(ctx context.Context, ref transport.MessageRef) transport.Result {
	r := i.next.RemoveMarkup(ctx, ref)
	Outbound.WithLabelValues("remove_markup", r.Outcome.String()).Inc()
	return r
}
