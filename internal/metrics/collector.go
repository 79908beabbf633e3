// Package metrics exposes Prometheus counters and gauges for the VFS
// operation surface, the shared connection's circuit breaker, and the
// read/write engines' restart and upload-thread activity.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the Prometheus registry and HTTP exporter for one daemon
// instance.
type Collector struct {
	mu     sync.RWMutex
	config *Config

	registry *prometheus.Registry

	operationCounter   *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationSize      *prometheus.HistogramVec
	errorCounter       *prometheus.CounterVec
	restartCounter     prometheus.Counter
	uploadThreadGauge  prometheus.Gauge
	circuitStateGauge  prometheus.Gauge
	connectionAttempts *prometheus.CounterVec

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config configures the metrics exporter.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// OperationMetrics accumulates per-operation counts for the debug endpoint.
type OperationMetrics struct {
	Count         int64
	TotalDuration time.Duration
	TotalSize     int64
	Errors        int64
	LastOperation time.Time
	AvgDuration   time.Duration
	AvgSize       float64
}

// NewCollector creates a Collector. A nil config is replaced by an enabled
// default (port 9090, path /metrics, namespace ftpfs); if config is
// disabled, the returned Collector's Record* methods become no-ops.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: true, Port: 9090, Path: "/metrics", Namespace: "ftpfs"}
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		config:     config,
		registry:   registry,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Start serves /metrics in the background until ctx is canceled.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop shuts down the metrics HTTP server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one VFS operation's outcome (getattr, read, write,
// readdir, ...).
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	if m, exists := c.operations[operation]; exists {
		m.Count++
		m.TotalDuration += duration
		m.TotalSize += size
		if !success {
			m.Errors++
		}
		m.LastOperation = time.Now()
		m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
		m.AvgSize = float64(m.TotalSize) / float64(m.Count)
	} else {
		errs := int64(0)
		if !success {
			errs = 1
		}
		c.operations[operation] = &OperationMetrics{
			Count:         1,
			TotalDuration: duration,
			TotalSize:     size,
			Errors:        errs,
			LastOperation: time.Now(),
			AvgDuration:   duration,
			AvgSize:       float64(size),
		}
	}
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.With(prometheus.Labels{"operation": operation}).Observe(float64(size))
	}
	if !success {
		c.errorCounter.With(prometheus.Labels{"operation": operation}).Inc()
	}
}

// RecordRestart counts a read-window restart (discontinuous read triggering
// a new RETR with a byte-range offset).
func (c *Collector) RecordRestart() {
	if !c.config.Enabled {
		return
	}
	c.restartCounter.Inc()
}

// SetUploadThreadsActive reports the number of live write-pipeline upload
// goroutines.
func (c *Collector) SetUploadThreadsActive(n int) {
	if !c.config.Enabled {
		return
	}
	c.uploadThreadGauge.Set(float64(n))
}

// SetCircuitState reports the shared connection's circuit breaker state as
// 0 (closed), 1 (half-open), or 2 (open).
func (c *Collector) SetCircuitState(state int) {
	if !c.config.Enabled {
		return
	}
	c.circuitStateGauge.Set(float64(state))
}

// RecordConnectionAttempt records a shared-connection dial outcome.
func (c *Collector) RecordConnectionAttempt(success bool) {
	if !c.config.Enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	c.connectionAttempts.With(prometheus.Labels{"status": status}).Inc()
}

// GetMetrics returns a snapshot of internally tracked operation metrics.
func (c *Collector) GetMetrics() map[string]*OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		copy := *v
		out[k] = &copy
	}
	return out
}

// ResetMetrics clears internally tracked operation metrics (Prometheus
// series are left intact).
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "operations_total",
			Help:      "Total number of VFS operations",
		},
		[]string{"operation", "status"},
	)
	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of VFS operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"operation"},
	)
	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_size_bytes",
			Help:      "Size of read/write operations in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20),
		},
		[]string{"operation"},
	)
	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "errors_total",
			Help:      "Total number of VFS operation errors",
		},
		[]string{"operation"},
	)
	c.restartCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "read_window_restarts_total",
			Help:      "Total number of read-window restarts (non-sequential reads)",
		},
	)
	c.uploadThreadGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "upload_threads_active",
			Help:      "Number of live write-pipeline upload goroutines",
		},
	)
	c.circuitStateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "shared_connection_circuit_state",
			Help:      "Shared connection circuit breaker state: 0=closed 1=half-open 2=open",
		},
	)
	c.connectionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "connection_attempts_total",
			Help:      "Total number of shared-connection dial attempts",
		},
		[]string{"status"},
	)
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.errorCounter,
		c.restartCounter,
		c.uploadThreadGauge,
		c.circuitStateGauge,
		c.connectionAttempts,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"ftpfs-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("FTPFS Operations Summary\n")
	writef("=========================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-20s %10s %10s %14s %12s %10s\n",
		"Operation", "Count", "Errors", "Avg Duration", "Avg Size", "Last Op")
	for name, op := range c.operations {
		writef("%-20s %10d %10d %14v %12.0f %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.AvgSize, op.LastOperation.Format("15:04:05"))
	}
}
