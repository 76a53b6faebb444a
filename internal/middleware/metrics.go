package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// RequestIDHeader carries the per-request trace id.
const RequestIDHeader = "X-Request-ID"

// Metrics records Prometheus HTTP metrics for each request.
func Metrics() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return metrics.InstrumentHandler(next)
	}
}

// Logging logs each request with a request id, reusing one supplied by the caller.
func Logging(log *logger.Logger) mux.MiddlewareFunc {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			entry := log.WithField("request_id", id).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", wrapped.statusCode).
				WithField("duration", time.Since(start).String())
			if wrapped.statusCode >= 500 {
				entry.Warn("request failed")
			} else {
				entry.Debug("request served")
			}
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.written = true
	return h.Hijack()
}
