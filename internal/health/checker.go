// Package health probes the gatekeeper's dependencies (counter store,
// event database) and publishes readiness to HTTP and gRPC health checks.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Pinger is implemented by store.Store and *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe is one dependency check. A critical probe that keeps failing makes
// the service not ready; non-critical probes only report degraded.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// PingProbe wraps a Pinger.
func PingProbe(name string, critical bool, p Pinger) Probe {
	return Probe{Name: name, Critical: critical, Check: p.Ping}
}

// State is a component's health.
type State string

const (
	StateUnknown  State = "unknown"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
)

// ComponentStatus is the last known result for one probe.
type ComponentStatus struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Critical  bool      `json:"critical"`
	FailCount int       `json:"fail_count"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(component string, success bool)

// ReadinessFunc is called whenever overall readiness changes.
type ReadinessFunc func(ready bool)

// Checker runs periodic dependency probes.
type Checker struct {
	probes      []Probe
	mu          sync.RWMutex
	status      map[string]*ComponentStatus
	ready       bool
	checked     bool
	cfg         Config
	onMetrics   MetricsRecordFunc
	onReadiness ReadinessFunc
	logger      *zap.Logger
}

// New creates a new Checker.
func New(probes []Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	status := make(map[string]*ComponentStatus, len(probes))
	for _, p := range probes {
		status[p.Name] = &ComponentStatus{Name: p.Name, State: StateUnknown, Critical: p.Critical}
	}
	return &Checker{
		probes: probes,
		status: status,
		cfg:    cfg,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// SetReadinessListener configures the readiness change callback.
func (c *Checker) SetReadinessListener(fn ReadinessFunc) {
	c.onReadiness = fn
}

// Start checks immediately, then every CheckInterval until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and updates readiness.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := p.Check(pctx)
			cancel()

			if c.onMetrics != nil {
				c.onMetrics(p.Name, err == nil)
			}
			c.record(p.Name, err)
		}(p)
	}
	wg.Wait()

	c.mu.Lock()
	ready := true
	for _, s := range c.status {
		if s.Critical && s.State == StateDegraded {
			ready = false
		}
	}
	changed := !c.checked || ready != c.ready
	c.ready, c.checked = ready, true
	c.mu.Unlock()

	if changed {
		c.logger.Info("health: readiness changed", zap.Bool("ready", ready))
		if c.onReadiness != nil {
			c.onReadiness(ready)
		}
	}
}

func (c *Checker) record(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.status[name]
	prev := s.State
	s.CheckedAt = time.Now().UTC()
	if err == nil {
		s.FailCount = 0
		s.LastError = ""
		s.State = StateHealthy
		if prev == StateDegraded {
			c.logger.Info("health: recovered", zap.String("component", name))
		}
		return
	}

	s.FailCount++
	s.LastError = err.Error()
	switch {
	case s.FailCount >= c.cfg.FailThreshold:
		s.State = StateDegraded
		if prev != StateDegraded {
			// Transition: healthy → degraded (exactly at threshold)
			c.logger.Warn("health: degraded",
				zap.String("component", name),
				zap.Int("fail_count", s.FailCount),
				zap.Error(err),
			)
		}
	case prev == StateUnknown:
		s.State = StateHealthy
	}
}

// Ready reports whether every critical dependency is healthy. It is false
// until the first check completes.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checked && c.ready
}

// Snapshot returns the status of every component, sorted by name.
func (c *Checker) Snapshot() []ComponentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ComponentStatus, 0, len(c.status))
	for _, s := range c.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
