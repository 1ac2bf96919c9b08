package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/config"
	"github.com/aaronjense/pi-iotAWS-rf24Mesh/internal/infrastructure/mqtt"
)

const (
	namespace = "meshbridge"

	// shutdownTimeout bounds the graceful stop of the metrics server.
	shutdownTimeout = 5 * time.Second

	// readHeaderTimeout guards the endpoint against slow clients.
	readHeaderTimeout = 5 * time.Second
)

// allStates lists every session state exported by the state gauge.
var allStates = []mqtt.ConnectionState{
	mqtt.Disconnected, mqtt.Connecting, mqtt.Connected,
	mqtt.ReconnectAttempting, mqtt.Reconnected, mqtt.Fatal,
}

// Collector holds the bridge's Prometheus metrics in a private registry.
// It satisfies the bridge loop's metrics interface.
type Collector struct {
	registry *prometheus.Registry

	frames          *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	sessionState    *prometheus.GaugeVec
	budgetRemaining prometheus.Gauge
	budgetUnlimited prometheus.Gauge
	lastPublish     prometheus.Gauge
}

// NewCollector creates and registers the bridge metrics, plus the Go
// runtime and process collectors.
func NewCollector(version string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Mesh frames consumed, by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "MQTT publish attempts, by result.",
		}, []string{"result"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current MQTT session state, 0 otherwise.",
		}, []string{"state"}),
		budgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publish_budget_remaining",
			Help:      "Publishes left before the bridge stops.",
		}),
		budgetUnlimited: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publish_budget_unlimited",
			Help:      "1 when the publish budget is unlimited.",
		}),
		lastPublish: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last successful publish.",
		}),
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
	buildInfo.Set(1)

	c.registry.MustRegister(
		c.frames, c.publishes, c.sessionState,
		c.budgetRemaining, c.budgetUnlimited, c.lastPublish, buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// FrameProcessed counts one consumed frame.
func (c *Collector) FrameProcessed(result string) {
	c.frames.WithLabelValues(result).Inc()
}

// PublishAttempted counts one publish attempt.
func (c *Collector) PublishAttempted(result string) {
	c.publishes.WithLabelValues(result).Inc()
	if result == "ok" {
		c.lastPublish.SetToCurrentTime()
	}
}

// StateObserved marks st as the current session state.
func (c *Collector) StateObserved(st mqtt.ConnectionState) {
	for _, s := range allStates {
		v := 0.0
		if s == st {
			v = 1
		}
		c.sessionState.WithLabelValues(s.String()).Set(v)
	}
}

// BudgetObserved records the remaining publish budget.
func (c *Collector) BudgetObserved(left uint64, unlimited bool) {
	if unlimited {
		c.budgetUnlimited.Set(1)
		c.budgetRemaining.Set(0)
		return
	}
	c.budgetUnlimited.Set(0)
	c.budgetRemaining.Set(float64(left))
}

// Handler returns the HTTP handler exposing the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Server exposes the metrics endpoint and /healthz.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	health *Health
}

// Listen binds the metrics endpoint described by cfg.
//
// Returns:
//   - *Server: Bound server; call Serve to start handling requests
//   - error: If the address cannot be bound
func Listen(cfg config.MetricsConfig, c *Collector) (*Server, error) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", cfg.Listen, err)
	}

	health := NewHealth()
	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())
	mux.Handle(healthPath, health)
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout},
		ln:     ln,
		health: health,
	}, nil
}

// AddCheck registers a component with /healthz. Call before Serve.
func (s *Server) AddCheck(name string, check Checker) {
	s.health.Add(name, check)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve handles requests until ctx is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
