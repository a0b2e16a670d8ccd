// Package health provides Kubernetes-style liveness and readiness probes.
//
// Checks run in background goroutines at a fixed interval, with a failure
// threshold so a single flaky probe does not flip the service unhealthy.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component, returning nil when healthy.
type CheckFunc func(ctx context.Context) error

// failureThreshold is how many consecutive failures mark a probe unhealthy.
const failureThreshold = 3

type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// fails is only touched from the probe's own run goroutine.
	fails int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.fails++
		if p.fails >= failureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.healthy.Store(true)
}

// Health manages liveness and readiness probes for a service.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New creates a Health in the not-ready state; call SetReady(true) once
// initialization completes.
func New() *Health {
	return &Health{}
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	p := &probe{name: name, timeout: timeout, check: check}
	p.healthy.Store(true)
	return p
}

// AddLivenessCheck registers a probe answering "is this process alive".
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a probe answering "can this process serve
// traffic", e.g. database connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start launches one goroutine per registered probe, each ticking at the
// given interval. Register all probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels all probe goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Graceful shutdown sets it false
// to stop receiving new traffic before draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is manually marked ready and all
// readiness probes pass.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.readiness {
		if !p.healthy.Load() {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when all liveness probes pass, 503 with
// failure details otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.liveness...)
	h.mu.RUnlock()

	writeStatus(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 when the service is marked ready and all
// readiness probes pass, 503 with details otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.readiness...)
	h.mu.RUnlock()

	fails := failures(probes)
	if !h.ready.Load() {
		fails["_readiness"] = "service is not ready"
	}
	writeStatus(w, fails)
}

func failures(probes []*probe) map[string]string {
	fails := make(map[string]string)
	for _, p := range probes {
		if p.healthy.Load() {
			continue
		}
		msg := "unhealthy"
		if errp := p.lastErr.Load(); errp != nil && *errp != nil {
			msg = (*errp).Error()
		}
		fails[p.name] = msg
	}
	return fails
}

func writeStatus(w http.ResponseWriter, fails map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	if len(fails) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(statusResponse{Status: "unhealthy", Checks: fails})
		return
	}
	_ = json.NewEncoder(w).Encode(statusResponse{Status: "ok"})
}
