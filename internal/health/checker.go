// Package health probes the ledger's dependencies on an interval and
// tracks which of them are degraded.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ProbeFunc checks one dependency. A nil error is a successful probe.
type ProbeFunc func(ctx context.Context) error

// StatusFunc is called when a probe crosses between healthy and degraded.
type StatusFunc func(name string, healthy bool)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

type probe struct {
	name  string
	check ProbeFunc
}

// HealthChecker runs periodic dependency probes. A probe is degraded once
// it has failed FailThreshold times in a row and healthy again after its
// next success.
type HealthChecker struct {
	probes     []probe
	failCounts map[string]int
	mu         sync.Mutex
	cfg        Config
	onStatus   StatusFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new HealthChecker.
func New(cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &HealthChecker{
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// AddProbe registers a named probe. It must be called before Start.
func (h *HealthChecker) AddProbe(name string, fn ProbeFunc) {
	h.probes = append(h.probes, probe{name: name, check: fn})
}

// SetStatusHook configures the transition callback.
func (h *HealthChecker) SetStatusHook(fn StatusFunc) {
	h.onStatus = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the health check loop until ctx is done.
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe once, concurrently.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.check(pctx)
			cancel()
			h.record(p.name, err)
		}(p)
	}
	wg.Wait()
}

func (h *HealthChecker) record(name string, err error) {
	success := err == nil
	if h.onMetrics != nil {
		h.onMetrics(success)
	}

	h.mu.Lock()
	prevCount := h.failCounts[name]
	if success {
		h.failCounts[name] = 0
	} else {
		h.failCounts[name]++
	}
	count := h.failCounts[name]
	h.mu.Unlock()

	switch {
	case success && prevCount >= h.cfg.FailThreshold:
		h.logger.Info("health: recovered", zap.String("probe", name))
		if h.onStatus != nil {
			h.onStatus(name, true)
		}
	case !success && count == h.cfg.FailThreshold:
		h.logger.Warn("health: degraded",
			zap.String("probe", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
		if h.onStatus != nil {
			h.onStatus(name, false)
		}
	case !success:
		h.logger.Debug("health: probe failed", zap.String("probe", name), zap.Error(err))
	}
}

// Healthy reports whether no probe is degraded.
func (h *HealthChecker) Healthy() bool {
	return len(h.Degraded()) == 0
}

// Degraded returns the names of degraded probes.
func (h *HealthChecker) Degraded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, p := range h.probes {
		if h.failCounts[p.name] >= h.cfg.FailThreshold {
			out = append(out, p.name)
		}
	}
	return out
}

var probeKey = []byte("\x00health")

// StorageProbe reads a reserved key through a fresh transaction.
func StorageProbe(store storage.Manager) ProbeFunc {
	return func(ctx context.Context) error {
		tx, err := store.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Abort(ctx) //nolint:errcheck
		if _, err := tx.Get(ctx, probeKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	}
}
