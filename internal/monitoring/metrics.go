package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Signal and decision metrics
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossover_bot_signals_total",
			Help: "Total number of crossover signals detected",
		},
		[]string{"symbol", "direction"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossover_bot_decisions_total",
			Help: "Total number of gateway decisions by action",
		},
		[]string{"action"},
	)

	// Order metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossover_bot_orders_total",
			Help: "Total number of orders submitted",
		},
		[]string{"symbol", "side", "result"},
	)

	trailingAmendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossover_bot_trailing_amends_total",
			Help: "Total number of trailing stop amendments",
		},
		[]string{"symbol"},
	)

	stopTriggerPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossover_bot_stop_trigger_price",
			Help: "Latest protective stop trigger price",
		},
		[]string{"symbol"},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossover_bot_current_price",
			Help: "Current price of trading symbol",
		},
		[]string{"symbol"},
	)

	manualReviewTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossover_bot_manual_review_total",
			Help: "Conditions flagged for manual review",
		},
		[]string{"kind"},
	)

	// Scheduler metrics
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crossover_bot_cycle_duration_seconds",
			Help:    "Duration of one scheduler cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	pauseGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crossover_bot_pause_gaps_total",
			Help: "Number of detected wall-clock pauses between cycles",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossover_bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(trailingAmendsTotal)
	prometheus.MustRegister(stopTriggerPrice)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(manualReviewTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(pauseGapsTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func RecordSignal(symbol, direction string) {
	signalsTotal.WithLabelValues(symbol, direction).Inc()
}

func RecordDecision(action string) {
	decisionsTotal.WithLabelValues(action).Inc()
}

// RecordOrder records an order attempt; result is "submitted", "failed" or "skipped"
func RecordOrder(symbol, side, result string) {
	ordersTotal.WithLabelValues(symbol, side, result).Inc()
}

func RecordTrailingAmend(symbol string, trigger float64) {
	trailingAmendsTotal.WithLabelValues(symbol).Inc()
	stopTriggerPrice.WithLabelValues(symbol).Set(trigger)
}

func UpdateStopTrigger(symbol string, trigger float64) {
	stopTriggerPrice.WithLabelValues(symbol).Set(trigger)
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

func RecordManualReview(kind string) {
	manualReviewTotal.WithLabelValues(kind).Inc()
}

func ObserveCycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

func RecordPauseGap() {
	pauseGapsTotal.Inc()
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
