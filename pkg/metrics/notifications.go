package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationMetrics tracks the receipt dispatcher.
type NotificationMetrics struct {
	enqueued  prometheus.Counter
	dropped   *prometheus.CounterVec
	delivered *prometheus.CounterVec
	queue     prometheus.Gauge
}

// NewNotificationMetrics registers dispatcher collectors on reg. A nil
// registerer yields a no-op recorder.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	enqueued := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_enqueued_total",
		Help:      "Receipts accepted by the dispatcher queue.",
	})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Receipts not enqueued, by reason.",
	}, []string{"reason"})
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_sent_total",
		Help:      "Channel delivery attempts by channel and result.",
	}, []string{"channel", "result"})
	queue := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notifications_queue_depth",
		Help:      "Receipts waiting for a worker.",
	})
	reg.MustRegister(enqueued, dropped, delivered, queue)
	return &NotificationMetrics{enqueued: enqueued, dropped: dropped, delivered: delivered, queue: queue}
}

func (m *NotificationMetrics) IncEnqueued() {
	if m == nil || m.enqueued == nil {
		return
	}
	m.enqueued.Inc()
}

func (m *NotificationMetrics) IncDropped(reason string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveDelivery counts one channel send; ok selects the result label.
func (m *NotificationMetrics) ObserveDelivery(channel string, ok bool) {
	if m == nil || m.delivered == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.delivered.WithLabelValues(normalizeLabel(channel), result).Inc()
}

func (m *NotificationMetrics) SetQueueDepth(n int) {
	if m == nil || m.queue == nil {
		return
	}
	m.queue.Set(float64(n))
}
