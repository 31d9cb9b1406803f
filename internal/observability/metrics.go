package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveContexts  prometheus.Gauge
	InboxEvents     *prometheus.CounterVec
	PermissionSends *prometheus.CounterVec
	QueueOps        *prometheus.CounterVec
	QueueRenumbers  prometheus.Counter
	WSMessages      *prometheus.CounterVec
	LinkState       prometheus.Gauge

	Latency *LatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveContexts: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_contexts",
			Help:      "Number of live execution contexts.",
		}),
		InboxEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_events_total",
			Help:      "Inbox events by kind and ingest outcome.",
		}, []string{"kind", "outcome"}),
		PermissionSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_sends_total",
			Help:      "Outbound permission responses by outcome.",
		}, []string{"outcome"}),
		QueueOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_ops_total",
			Help:      "Task queue operations by op and outcome.",
		}, []string{"op", "outcome"}),
		QueueRenumbers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_renumbers_total",
			Help:      "Full priority-key renumber passes.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Feed websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		LinkState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_link_state",
			Help:      "Agent link connection state (0=disconnected, 1=connecting, 2=connected).",
		}),
		Latency: NewLatencyWindow(256),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
