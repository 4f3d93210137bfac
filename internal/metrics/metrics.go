package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections     prometheus.Gauge
	TopicMembers    prometheus.Gauge
	Broadcasts      prometheus.Counter
	Dropped         prometheus.Counter
	PresenceUpdates prometheus.Counter
	StrokesAppended prometheus.Counter
	AppendFailures  prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide collectors, registering them on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Connections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "canvas_realtime_connections",
				Help: "Current number of open realtime websocket connections",
			}),
			TopicMembers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "canvas_realtime_topic_members",
				Help: "Current number of channel subscriptions across all topics",
			}),
			Broadcasts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_realtime_broadcasts_total",
				Help: "Total number of broadcast messages fanned out",
			}),
			Dropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_realtime_dropped_total",
				Help: "Total number of messages dropped because a subscriber buffer was full",
			}),
			PresenceUpdates: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_realtime_presence_updates_total",
				Help: "Total number of presence track and untrack operations",
			}),
			StrokesAppended: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_strokes_appended_total",
				Help: "Total number of strokes durably appended",
			}),
			AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvas_stroke_append_failures_total",
				Help: "Total number of stroke appends that failed",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ConnectionOpened() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil || m.Connections == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) MemberJoined() {
	if m == nil || m.TopicMembers == nil {
		return
	}
	m.TopicMembers.Inc()
}

func (m *Metrics) MemberLeft() {
	if m == nil || m.TopicMembers == nil {
		return
	}
	m.TopicMembers.Dec()
}

func (m *Metrics) RecordBroadcast() {
	if m == nil || m.Broadcasts == nil {
		return
	}
	m.Broadcasts.Inc()
}

func (m *Metrics) RecordDrop() {
	if m == nil || m.Dropped == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) RecordPresence() {
	if m == nil || m.PresenceUpdates == nil {
		return
	}
	m.PresenceUpdates.Inc()
}

func (m *Metrics) RecordAppend(err error) {
	if m == nil {
		return
	}
	if err != nil {
		if m.AppendFailures != nil {
			m.AppendFailures.Inc()
		}
		return
	}
	if m.StrokesAppended != nil {
		m.StrokesAppended.Inc()
	}
}
