package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// auditEntry records one privileged call: upkeep, fulfillment or payout retry.
type auditEntry struct {
	Time       time.Time `json:"time"`
	Subject    string    `json:"subject"`
	Role       string    `json:"role"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

type auditLog struct {
	mu      sync.Mutex
	entries []auditEntry
	max     int
	sink    auditSink
}

type auditSink interface {
	Write(entry auditEntry) error
}

func newAuditLog(max int, sink auditSink) *auditLog {
	if max <= 0 {
		max = 200
	}
	return &auditLog{max: max, sink: sink}
}

func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(entry)
	}
}

func (l *auditLog) list(limit int) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]auditEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// wrap records the outcome of every request reaching next. It must sit inside
// the auth middleware so the caller's identity is known.
func (l *auditLog) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		l.add(auditEntry{
			Time:       time.Now().UTC(),
			Subject:    middleware.Subject(r.Context()),
			Role:       middleware.Role(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logAuditSink writes audit entries to the service log.
type logAuditSink struct {
	log *logger.Logger
}

func (s logAuditSink) Write(entry auditEntry) error {
	s.log.WithField("subject", entry.Subject).
		WithField("role", entry.Role).
		WithField("method", entry.Method).
		WithField("path", entry.Path).
		WithField("status", entry.Status).
		Info("audit")
	return nil
}
