package minnow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minnow_frames_received_total",
		Help: "Frames successfully decoded from clients.",
	})
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minnow_frames_sent_total",
		Help: "Frames written to clients.",
	})
	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minnow_frames_dropped_total",
		Help: "Inbound frames rejected by the codec.",
	})
	dispatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "minnow_dispatch_errors_total",
		Help: "Handler panics converted to internal server errors.",
	})
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minnow_sessions_active",
		Help: "Currently open client sessions.",
	})
)
