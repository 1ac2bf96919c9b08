package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

const (
	healthPath = "/healthz"

	// checkTimeout bounds each component check.
	checkTimeout = 3 * time.Second
)

// HealthStatus is the overall state reported by /healthz.
type HealthStatus string

// Health status values.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

// Checker reports whether one component is usable.
// The MQTT session, the SQLite store and the InfluxDB client satisfy it.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f(ctx).
func (f CheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// HealthReport is the /healthz response body.
type HealthReport struct {
	Status     HealthStatus      `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Health aggregates component checks. Any failing component makes the
// bridge degraded.
type Health struct {
	names  []string
	checks map[string]Checker
}

// NewHealth creates an empty aggregate. With no checks it reports healthy.
func NewHealth() *Health {
	return &Health{checks: make(map[string]Checker)}
}

// Add registers check under name. Not safe to call concurrently with
// Report.
func (h *Health) Add(name string, check Checker) {
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
		sort.Strings(h.names)
	}
	h.checks[name] = check
}

// Report runs every check and summarises the result.
func (h *Health) Report(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     HealthHealthy,
		Components: make(map[string]string, len(h.names)),
		Timestamp:  time.Now().UTC(),
	}
	for _, name := range h.names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.checks[name].HealthCheck(checkCtx)
		cancel()

		if err != nil {
			report.Status = HealthDegraded
			report.Components[name] = err.Error()
			continue
		}
		report.Components[name] = "ok"
	}
	return report
}

// ServeHTTP answers 200 when healthy and 503 when degraded.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Report(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status != HealthHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
