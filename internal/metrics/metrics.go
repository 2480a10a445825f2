package metrics

import (
	"sync"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "signage_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultIgnored = "ignored"
	ResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	reconnectsTotal     prometheus.Counter
	connectionState     prometheus.Gauge
	commandsTotal       *prometheus.CounterVec
	announcementsTotal  *prometheus.CounterVec
	downloadsTotal      *prometheus.CounterVec
	downloadBytesTotal  prometheus.Counter
	playbackStartsTotal *prometheus.CounterVec
)

// Init registers the client metrics with the default registry. Safe to call more than once.
// Recording helpers are no-ops until Init has run.
func Init() {
	registerOnce.Do(func() {
		reconnectsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconnects_total",
				Help: "Total control channel connection attempts after a failure",
			},
		)
		connectionState = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "connection_state",
				Help: "Control channel state (0 disconnected, 1 connecting, 2 connected)",
			},
		)
		commandsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Total control commands by type and result",
			},
			[]string{"type", "result"},
		)
		announcementsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "announcements_total",
				Help: "Total announcements by result",
			},
			[]string{"result"},
		)
		downloadsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "downloads_total",
				Help: "Total media downloads by result",
			},
			[]string{"result"},
		)
		downloadBytesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "download_bytes_total",
				Help: "Total bytes committed to the media cache",
			},
		)
		playbackStartsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "playback_starts_total",
				Help: "Total playback occupant starts by kind",
			},
			[]string{"occupant"},
		)

		prometheus.MustRegister(
			reconnectsTotal,
			connectionState,
			commandsTotal,
			announcementsTotal,
			downloadsTotal,
			downloadBytesTotal,
			playbackStartsTotal,
		)
	})
}

// IncReconnect counts a reconnection attempt
func IncReconnect() {
	if reconnectsTotal != nil {
		reconnectsTotal.Inc()
	}
}

// SetConnectionState publishes the current connection state
func SetConnectionState(state domain.ConnectionState) {
	if connectionState != nil {
		connectionState.Set(float64(state))
	}
}

// IncCommand counts a handled control command
func IncCommand(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if commandsTotal != nil {
		commandsTotal.WithLabelValues(kind, result).Inc()
	}
}

// IncAnnouncement counts an announcement attempt
func IncAnnouncement(result string) {
	if announcementsTotal != nil {
		announcementsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveDownload counts a finished download and the bytes it committed
func ObserveDownload(result string, bytes int64) {
	if downloadsTotal != nil {
		downloadsTotal.WithLabelValues(result).Inc()
	}
	if downloadBytesTotal != nil && bytes > 0 {
		downloadBytesTotal.Add(float64(bytes))
	}
}

// IncPlaybackStart counts a new occupant taking the screen
func IncPlaybackStart(occupant string) {
	if playbackStartsTotal != nil {
		playbackStartsTotal.WithLabelValues(occupant).Inc()
	}
}
