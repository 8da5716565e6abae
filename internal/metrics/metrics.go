package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamgate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	StreamsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "streams",
		Help:      "Number of live streams by status.",
	}, []string{"status"})

	StreamsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "streams_created_total",
		Help:      "Total number of streams created.",
	})

	StreamsCleanedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "streams_cleaned_total",
		Help:      "Total number of streams torn down (janitor, delete or failure).",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate swarm download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate swarm upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all torrent sessions.",
	})

	PackagerActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamgate",
		Name:      "packager_active_jobs",
		Help:      "Number of currently running FFmpeg packager jobs.",
	})

	PackagerStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "packager_starts_total",
		Help:      "Total number of packager runs started.",
	})

	PackagerFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "packager_failures_total",
		Help:      "Total number of packager runs that failed.",
	})

	PackagerFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "packager_fallbacks_total",
		Help:      "Total number of stream-copy runs that fell back to re-encode.",
	})

	DeadTorrentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamgate",
		Name:      "dead_torrents_total",
		Help:      "Total number of torrents declared dead by the watchdog or readiness wait.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StreamsByStatus,
		StreamsCreatedTotal,
		StreamsCleanedTotal,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		PackagerActiveJobs,
		PackagerStartsTotal,
		PackagerFailuresTotal,
		PackagerFallbacksTotal,
		DeadTorrentsTotal,
	)
}
