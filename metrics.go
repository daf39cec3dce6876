package chanhub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chanhub",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Inbound messages by routing decision and result.",
		},
		[]string{"decision", "result"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chanhub",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently joined.",
		},
	)
	sessionExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chanhub",
			Subsystem: "session",
			Name:      "exits_total",
			Help:      "Terminated sessions by kind.",
		},
		[]string{"kind"},
	)
	connsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chanhub",
			Subsystem: "conn",
			Name:      "active",
			Help:      "Open client connections.",
		},
	)
	originRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chanhub",
			Subsystem: "conn",
			Name:      "origin_rejections_total",
			Help:      "Connection attempts rejected by origin policy.",
		},
	)
)

// RegisterMetrics 将指标注册到默认 registry，可重复调用
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dispatchTotal, sessionsActive, sessionExits, connsActive, originRejections)
	})
}

func recordDispatch(d Decision, k ResultKind) {
	dispatchTotal.WithLabelValues(d.String(), k.String()).Inc()
}

func recordSessionExit(crashed bool) {
	kind := "normal"
	if crashed {
		kind = "crash"
	}
	sessionExits.WithLabelValues(kind).Inc()
}
