package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vehiclecount_sessions_active",
		Help: "Number of sessions currently running",
	})

	sessionStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_session_starts_total",
		Help: "Session start attempts by result",
	}, []string{"result"})

	sessionEndsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_session_ends_total",
		Help: "Sessions that reached a terminal status",
	}, []string{"status"})

	leakedTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vehiclecount_session_leaked_tasks_total",
		Help: "Session goroutines that did not exit within the stop timeout",
	})

	// Pipeline metrics
	framesReadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_frames_read_total",
		Help: "Frames read from the source",
	}, []string{"slot"})

	framesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_frames_processed_total",
		Help: "Frames run through detection and tracking",
	}, []string{"slot"})

	relayDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_relay_dropped_total",
		Help: "Frames dropped because the relay was full",
	}, []string{"slot"})

	vehiclesCountedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_vehicles_counted_total",
		Help: "Distinct vehicles counted by class",
	}, []string{"slot", "class"})

	processedFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vehiclecount_processed_fps",
		Help: "Processed frames per second",
	}, []string{"slot"})

	detectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vehiclecount_detection_duration_seconds",
		Help:    "Detector round trip duration",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"model"})

	detectionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_detection_errors_total",
		Help: "Detector failures by model",
	}, []string{"model"})

	// Source resolution
	sourceResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_source_resolutions_total",
		Help: "Source resolution attempts by strategy and result",
	}, []string{"via", "result"})

	// Persistence
	historyWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_history_writes_total",
		Help: "History record writes by result",
	}, []string{"result"})

	registryPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_registry_publishes_total",
		Help: "Live registry publishes by result",
	}, []string{"result"})

	// Consumers
	mjpegViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vehiclecount_mjpeg_viewers",
		Help: "Connected MJPEG viewers",
	}, []string{"slot"})

	feedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vehiclecount_feed_clients",
		Help: "Connected websocket stats clients",
	})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_rate_limited_total",
		Help: "Requests rejected by a limiter",
	}, []string{"limiter"})

	// HTTP API
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vehiclecount_http_requests_total",
		Help: "HTTP requests by route, method and status code",
	}, []string{"route", "method", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vehiclecount_http_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

func slotLabel(slot int) string {
	return strconv.Itoa(slot)
}

func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

// RecordSessionStart counts a start attempt; result is "started" or the
// rejection reason.
func RecordSessionStart(result string) {
	sessionStartsTotal.WithLabelValues(result).Inc()
}

func RecordSessionEnd(status string) {
	sessionEndsTotal.WithLabelValues(status).Inc()
}

func RecordLeakedTask() {
	leakedTasksTotal.Inc()
}

func RecordFrameRead(slot int) {
	framesReadTotal.WithLabelValues(slotLabel(slot)).Inc()
}

func RecordFrameProcessed(slot int) {
	framesProcessedTotal.WithLabelValues(slotLabel(slot)).Inc()
}

func RecordRelayDrop(slot int) {
	relayDroppedTotal.WithLabelValues(slotLabel(slot)).Inc()
}

func RecordVehicleCounted(slot int, class string) {
	vehiclesCountedTotal.WithLabelValues(slotLabel(slot), class).Inc()
}

func SetProcessedFPS(slot int, fps float64) {
	processedFPS.WithLabelValues(slotLabel(slot)).Set(fps)
}

func ObserveDetection(model string, d time.Duration, err error) {
	detectionDuration.WithLabelValues(model).Observe(d.Seconds())
	if err != nil {
		detectionErrorsTotal.WithLabelValues(model).Inc()
	}
}

func RecordSourceResolution(via string, ok bool) {
	sourceResolutionsTotal.WithLabelValues(via, result(ok)).Inc()
}

func RecordHistoryWrite(ok bool) {
	historyWritesTotal.WithLabelValues(result(ok)).Inc()
}

func RecordRegistryPublish(ok bool) {
	registryPublishesTotal.WithLabelValues(result(ok)).Inc()
}

func IncMJPEGViewers(slot int) {
	mjpegViewers.WithLabelValues(slotLabel(slot)).Inc()
}

func DecMJPEGViewers(slot int) {
	mjpegViewers.WithLabelValues(slotLabel(slot)).Dec()
}

func IncFeedClients() {
	feedClients.Inc()
}

func DecFeedClients() {
	feedClients.Dec()
}

func RecordRateLimited(limiter string) {
	rateLimitedTotal.WithLabelValues(limiter).Inc()
}

// ObserveHTTPRequest records one finished request. route is the mux path
// template, never the raw path.
func ObserveHTTPRequest(route, method string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
