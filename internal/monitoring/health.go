package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ducminhle1904/ema-crossover-bot/internal/safety"
)

var startTime = time.Now()

const maxHealthErrors = 20

type HealthChecker struct {
	mu          sync.RWMutex
	lastCycle   time.Time
	lastSignal  time.Time
	isConnected bool
	staleAfter  time.Duration
	errors      []string
	limiters    []*safety.RateLimiter
	breakers    []*safety.CircuitBreaker
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastCycle   time.Time `json:"last_cycle"`
	LastSignal  time.Time `json:"last_signal,omitempty"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`

	RateLimiters []safety.RateLimiterStats    `json:"rate_limiters,omitempty"`
	Breakers     []safety.CircuitBreakerStats `json:"breakers,omitempty"`
}

// NewHealthChecker reports degraded once no cycle completed within staleAfter.
func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &HealthChecker{
		staleAfter: staleAfter,
		errors:     make([]string, 0),
	}
}

// CycleCompleted marks a finished scheduler cycle and clears transient errors.
func (h *HealthChecker) CycleCompleted(at time.Time, connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = at
	h.isConnected = connected
	h.errors = h.errors[:0]
}

// TrackLimiter adds a rate limiter to the health payload
func (h *HealthChecker) TrackLimiter(l *safety.RateLimiter) {
	if l == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limiters = append(h.limiters, l)
}

// TrackBreaker adds a circuit breaker to the health payload. An open
// breaker degrades the status.
func (h *HealthChecker) TrackBreaker(cb *safety.CircuitBreaker) {
	if cb == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakers = append(h.breakers, cb)
}

func (h *HealthChecker) SignalSeen(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSignal = at
}

func (h *HealthChecker) ReportError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errors) >= maxHealthErrors {
		h.errors = h.errors[1:]
	}
	h.errors = append(h.errors, msg)
}

// Snapshot returns the current status without writing a response.
func (h *HealthChecker) Snapshot(now time.Time) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.isConnected || now.Sub(h.lastCycle) > h.staleAfter {
		status = "degraded"
	}
	for _, cb := range h.breakers {
		if cb.GetState() == safety.StateOpen {
			status = "degraded"
		}
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
	}

	errs := make([]string, len(h.errors))
	copy(errs, h.errors)
	var limiters []safety.RateLimiterStats
	for _, l := range h.limiters {
		limiters = append(limiters, l.GetStats())
	}
	var breakers []safety.CircuitBreakerStats
	for _, cb := range h.breakers {
		breakers = append(breakers, cb.GetStats())
	}
	return HealthStatus{
		Status:      status,
		Timestamp:   now,
		LastCycle:   h.lastCycle,
		LastSignal:  h.lastSignal,
		IsConnected: h.isConnected,
		Uptime:      now.Sub(startTime).String(),
		Errors:      errs,

		RateLimiters: limiters,
		Breakers:     breakers,
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Snapshot(time.Now())

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case "degraded":
		w.WriteHeader(http.StatusServiceUnavailable)
	case "unhealthy":
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(health)
}

// NewServer mounts /metrics and /health on addr.
func NewServer(addr string, health *HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler())
	mux.Handle("/health", health)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
