// Package health tracks the readiness of the stores Stayward depends on.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status values reported per component.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(component string, success bool)

// ComponentStatus is the last known state of one probe.
type ComponentStatus struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs the registered probes and remembers their results.
// A component is degraded once it has failed FailThreshold checks in a row.
type Checker struct {
	probes     map[string]Probe
	failCounts map[string]int
	last       map[string]ComponentStatus
	mu         sync.Mutex
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}
	return &Checker{
		probes:     make(map[string]Probe),
		failCounts: make(map[string]int),
		last:       make(map[string]ComponentStatus),
		cfg:        cfg,
		logger:     logger,
	}
}

// Register adds a named probe. Call it during setup, before Start.
func (h *Checker) Register(name string, p Probe) {
	h.probes[name] = p
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently, each bounded by ProbeTimeout.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, probe := range h.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			defer cancel()
			h.record(name, probe(pctx))
		}()
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.failCounts[name]
	st := ComponentStatus{Status: StatusHealthy, CheckedAt: time.Now().UTC()}
	if err == nil {
		h.failCounts[name] = 0
		if prev >= h.cfg.FailThreshold {
			h.logger.Info("health: recovered", zap.String("component", name))
		}
	} else {
		h.failCounts[name]++
		st.Error = err.Error()
		if h.failCounts[name] >= h.cfg.FailThreshold {
			st.Status = StatusDegraded
		}
		if h.failCounts[name] == h.cfg.FailThreshold {
			h.logger.Warn("health: degraded",
				zap.String("component", name),
				zap.Int("fail_count", h.failCounts[name]),
				zap.Error(err),
			)
		}
	}
	h.last[name] = st
}

// Snapshot returns the last result of every probe and whether all are healthy.
func (h *Checker) Snapshot() (map[string]ComponentStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]ComponentStatus, len(h.last))
	ok := true
	for name, st := range h.last {
		out[name] = st
		if st.Status != StatusHealthy {
			ok = false
		}
	}
	return out, ok
}

// Handler serves GET /healthz: 200 when every component is healthy,
// 503 otherwise.
func (h *Checker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		components, ok := h.Snapshot()
		names := make([]string, 0, len(components))
		for n := range components {
			names = append(names, n)
		}
		sort.Strings(names)

		status, code := "ok", http.StatusOK
		if !ok {
			status, code = StatusDegraded, http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":     status,
			"components": components,
			"checked":    names,
		})
	}
}
