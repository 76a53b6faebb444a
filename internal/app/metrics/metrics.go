package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "raffle_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	raffleEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raffle_entries_total",
			Help: "Total number of accepted raffle entries.",
		},
	)

	raffleUpkeeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_upkeeps_total",
			Help: "Upkeep attempts by result.",
		},
		[]string{"result"},
	)

	raffleWinners = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raffle_winners_total",
			Help: "Total number of rounds paid out.",
		},
	)

	rafflePayoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raffle_payout_failures_total",
			Help: "Total number of failed winner transfers.",
		},
	)

	rafflePool = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raffle_pool_balance",
			Help: "Funds held for the current round.",
		},
	)

	rafflePlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raffle_players",
			Help: "Entrants in the current round.",
		},
	)

	raffleState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raffle_state",
			Help: "Coordinator state: 0 open, 1 calculating.",
		},
	)

	keeperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_keeper_runs_total",
			Help: "Keeper ticks by result.",
		},
		[]string{"result"},
	)

	keeperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raffle_keeper_run_duration_seconds",
			Help:    "Duration of keeper ticks.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		raffleEntries,
		raffleUpkeeps,
		raffleWinners,
		rafflePayoutFailures,
		rafflePool,
		rafflePlayers,
		raffleState,
		keeperRuns,
		keeperDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEntry counts an accepted entry.
func RecordEntry() {
	raffleEntries.Inc()
}

// RecordUpkeep counts an upkeep attempt. result is performed, not_needed or oracle_error.
func RecordUpkeep(result string) {
	if result == "" {
		result = "unknown"
	}
	raffleUpkeeps.WithLabelValues(result).Inc()
}

// RecordWinner counts a completed payout.
func RecordWinner() {
	raffleWinners.Inc()
}

// RecordPayoutFailure counts a failed winner transfer.
func RecordPayoutFailure() {
	rafflePayoutFailures.Inc()
}

// SetRaffleState publishes the coordinator gauges.
func SetRaffleState(state uint8, players int, pool float64) {
	raffleState.Set(float64(state))
	rafflePlayers.Set(float64(players))
	rafflePool.Set(pool)
}

// RecordKeeperRun records one keeper tick.
func RecordKeeperRun(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	keeperRuns.WithLabelValues(result).Inc()
	keeperDuration.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses path parameters so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) <= 3 {
		return "/" + strings.Join(parts, "/")
	}
	switch parts[2] {
	case "players":
		return "/v1/raffle/players/:index"
	case "winnings":
		return "/v1/raffle/winnings/:identifier"
	}
	return "/" + strings.Join(parts[:3], "/")
}
