package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors
type Metrics struct {
	FramesAccepted  prometheus.Counter
	FramesRejected  *prometheus.CounterVec
	ReplaysRejected prometheus.Counter

	DecodedFrames    *prometheus.CounterVec
	CompressionRatio prometheus.Histogram

	OTASessionsStarted   prometheus.Counter
	OTASessionsCompleted *prometheus.CounterVec
	OTAChunksServed      prometheus.Counter

	CommandsQueued    prometheus.Counter
	CommandsCompleted *prometheus.CounterVec
}

// New registers and returns the server metrics
func New() *Metrics {
	return &Metrics{
		FramesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "frames_accepted_total",
			Help:      "Device frames that passed envelope verification.",
		}),
		FramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "frames_rejected_total",
			Help:      "Device frames rejected before decoding, by reason.",
		}, []string{"reason"}),
		ReplaysRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "replays_rejected_total",
			Help:      "Frames rejected by the anti-replay nonce check.",
		}),
		DecodedFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "decoded_frames_total",
			Help:      "Successfully decoded telemetry frames, by encoding method.",
		}, []string{"method"}),
		CompressionRatio: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "energymon",
			Name:      "compression_ratio",
			Help:      "Logical size over wire size of decoded frames.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		OTASessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "ota_sessions_started_total",
			Help:      "Firmware update sessions initiated.",
		}),
		OTASessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "ota_sessions_finished_total",
			Help:      "Firmware update sessions ended, by outcome.",
		}, []string{"outcome"}),
		OTAChunksServed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "ota_chunks_served_total",
			Help:      "Firmware chunks served to devices.",
		}),
		CommandsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "commands_queued_total",
			Help:      "Commands queued for devices.",
		}),
		CommandsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energymon",
			Name:      "commands_finished_total",
			Help:      "Command results reported by devices, by outcome.",
		}, []string{"outcome"}),
	}
}
