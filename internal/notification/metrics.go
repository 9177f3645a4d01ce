package notification

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "portal"
const metricsSubsystem = "notifications"

// Metrics は通知サービスのPrometheusメトリクス。
type Metrics struct {
	connections   prometheus.Gauge
	published     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	backlogs      prometheus.Counter
	inboundFrames *prometheus.CounterVec
}

// NewMetrics はメトリクスを生成してregに登録する。
// regがnilの場合は登録しない（テスト用）。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections",
			Help:      "Number of live notification connections",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "published_total",
			Help:      "Notifications persisted and dispatched",
		}, []string{"type", "audience"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "deliveries_total",
			Help:      "Per-connection delivery attempts by result",
		}, []string{"result"}),
		backlogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "backlog_frames_total",
			Help:      "Backlog frames sent to newly opened connections",
		}),
		inboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "inbound_frames_total",
			Help:      "Frames received from clients by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.connections, m.published, m.deliveries, m.backlogs, m.inboundFrames)
	}
	return m
}

func audience(n Notification) string {
	if n.IsBroadcast() {
		return "broadcast"
	}
	return "private"
}

func deliveryResult(o Outcome) string {
	if o.Delivered() {
		return "delivered"
	}
	return "failed"
}
