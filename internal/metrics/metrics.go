package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/eventbus"
	"github.com/mescon/Seedrarr/internal/logger"
)

// MetricsService exposes Prometheus metrics for Seedrarr
type MetricsService struct {
	eventBus *eventbus.EventBus

	// Counters
	submissionsTotal   *prometheus.CounterVec
	completionsTotal   prometheus.Counter
	deletionsTotal     prometheus.Counter
	filesFetchedTotal  prometheus.Counter
	sonarrScansTotal   prometheus.Counter
	notificationsTotal *prometheus.CounterVec
	watcherPickupsTotal prometheus.Counter

	// Gauges
	activeDownloads prometheus.Gauge
	pausedDownloads prometheus.Gauge
	watcherRunning  prometheus.Gauge

	// Internal tracking
	mu          sync.Mutex
	activeCount int
	pausedCount int
}

// NewMetricsService creates metrics and registers them with the default registry
func NewMetricsService(eb *eventbus.EventBus) *MetricsService {
	return newMetricsService(eb, prometheus.DefaultRegisterer)
}

// newMetricsService builds the service against an explicit registerer so tests
// can use an isolated registry.
func newMetricsService(eb *eventbus.EventBus, reg prometheus.Registerer) *MetricsService {
	m := &MetricsService{
		eventBus: eb,

		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedrarr_submissions_total",
				Help: "Total number of torrent submissions to Seedr by outcome",
			},
			[]string{"outcome"}, // submitted, wishlisted, failed
		),

		completionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedrarr_completions_total",
				Help: "Total number of downloads completed and handed to Sonarr",
			},
		),

		deletionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedrarr_deletions_total",
				Help: "Total number of downloads deleted from Seedr",
			},
		),

		filesFetchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedrarr_files_fetched_total",
				Help: "Total number of files and folder archives pulled from Seedr",
			},
		),

		sonarrScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedrarr_sonarr_scans_total",
				Help: "Total number of DownloadedEpisodesScan commands sent to Sonarr",
			},
		),

		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seedrarr_notifications_total",
				Help: "Total number of notifications sent by outcome",
			},
			[]string{"outcome"}, // sent, failed
		),

		watcherPickupsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "seedrarr_watcher_pickups_total",
				Help: "Total number of torrent files picked up from the watch directory",
			},
		),

		activeDownloads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seedrarr_active_downloads",
				Help: "Number of downloads currently tracked as in flight",
			},
		),

		pausedDownloads: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seedrarr_paused_downloads",
				Help: "Number of downloads currently paused on Seedr",
			},
		),

		watcherRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seedrarr_watcher_running",
				Help: "Whether the torrent watch directory is online (1) or not (0)",
			},
		),
	}

	reg.MustRegister(
		m.submissionsTotal,
		m.completionsTotal,
		m.deletionsTotal,
		m.filesFetchedTotal,
		m.sonarrScansTotal,
		m.notificationsTotal,
		m.watcherPickupsTotal,
		m.activeDownloads,
		m.pausedDownloads,
		m.watcherRunning,
	)

	return m
}

// Start subscribes to events and updates metrics
func (m *MetricsService) Start() {
	m.eventBus.Subscribe(domain.DownloadSubmitted, m.handleDownloadSubmitted)
	m.eventBus.Subscribe(domain.DownloadWishlisted, m.handleDownloadWishlisted)
	m.eventBus.Subscribe(domain.DownloadFailed, m.handleDownloadFailed)
	m.eventBus.Subscribe(domain.DownloadCompleted, m.handleDownloadCompleted)
	m.eventBus.Subscribe(domain.DownloadPaused, m.handleDownloadPaused)
	m.eventBus.Subscribe(domain.DownloadResumed, m.handleDownloadResumed)
	m.eventBus.Subscribe(domain.DownloadDeleted, m.handleDownloadDeleted)
	m.eventBus.Subscribe(domain.FilesDownloaded, m.handleFilesDownloaded)
	m.eventBus.Subscribe(domain.SonarrNotified, m.handleSonarrNotified)
	m.eventBus.Subscribe(domain.NotificationSent, m.handleNotificationSent)
	m.eventBus.Subscribe(domain.NotificationFailed, m.handleNotificationFailed)
	m.eventBus.Subscribe(domain.WatcherStarted, m.handleWatcherStarted)
	m.eventBus.Subscribe(domain.WatcherStopped, m.handleWatcherStopped)
	m.eventBus.Subscribe(domain.TorrentFileDropped, m.handleTorrentFileDropped)

	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (m *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// Event handlers

func (m *MetricsService) handleDownloadSubmitted(event domain.Event) {
	m.submissionsTotal.WithLabelValues("submitted").Inc()

	m.mu.Lock()
	m.activeCount++
	m.activeDownloads.Set(float64(m.activeCount))
	m.mu.Unlock()
}

func (m *MetricsService) handleDownloadWishlisted(event domain.Event) {
	m.submissionsTotal.WithLabelValues("wishlisted").Inc()
}

func (m *MetricsService) handleDownloadFailed(event domain.Event) {
	m.submissionsTotal.WithLabelValues("failed").Inc()
}

func (m *MetricsService) handleDownloadCompleted(event domain.Event) {
	m.completionsTotal.Inc()

	m.mu.Lock()
	if m.activeCount > 0 {
		m.activeCount--
		m.activeDownloads.Set(float64(m.activeCount))
	}
	m.mu.Unlock()
}

func (m *MetricsService) handleDownloadPaused(event domain.Event) {
	m.mu.Lock()
	m.pausedCount++
	m.pausedDownloads.Set(float64(m.pausedCount))
	m.mu.Unlock()
}

func (m *MetricsService) handleDownloadResumed(event domain.Event) {
	m.mu.Lock()
	if m.pausedCount > 0 {
		m.pausedCount--
		m.pausedDownloads.Set(float64(m.pausedCount))
	}
	m.mu.Unlock()
}

func (m *MetricsService) handleDownloadDeleted(event domain.Event) {
	m.deletionsTotal.Inc()

	m.mu.Lock()
	if m.activeCount > 0 {
		m.activeCount--
		m.activeDownloads.Set(float64(m.activeCount))
	}
	m.mu.Unlock()
}

func (m *MetricsService) handleFilesDownloaded(event domain.Event) {
	// downloaded carries the number of items that made it to disk
	if n, ok := event.GetFloat64("downloaded"); ok && n > 0 {
		m.filesFetchedTotal.Add(n)
	}
}

func (m *MetricsService) handleSonarrNotified(event domain.Event) {
	m.sonarrScansTotal.Inc()
}

func (m *MetricsService) handleNotificationSent(event domain.Event) {
	m.notificationsTotal.WithLabelValues("sent").Inc()
}

func (m *MetricsService) handleNotificationFailed(event domain.Event) {
	m.notificationsTotal.WithLabelValues("failed").Inc()
}

func (m *MetricsService) handleWatcherStarted(event domain.Event) {
	m.watcherRunning.Set(1)
}

func (m *MetricsService) handleWatcherStopped(event domain.Event) {
	m.watcherRunning.Set(0)
}

func (m *MetricsService) handleTorrentFileDropped(event domain.Event) {
	m.watcherPickupsTotal.Inc()
}
