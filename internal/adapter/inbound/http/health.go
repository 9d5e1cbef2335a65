package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// probeTimeout bounds each probe so a hung dependency cannot stall /health.
const probeTimeout = 2 * time.Second

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// AuditQueue is the view of the audit service the health check needs.
type AuditQueue interface {
	ChannelDepth() int
	ChannelCapacity() int
	DroppedRecords() int64
}

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithAuditQueue reports the audit channel fill level. The gateway is
// unhealthy above degradedPercent; values outside 1-100 mean 90.
func WithAuditQueue(q AuditQueue, degradedPercent int) HealthOption {
	return func(h *HealthChecker) {
		if degradedPercent <= 0 || degradedPercent > 100 {
			degradedPercent = 90
		}
		h.audit = q
		h.degradedPercent = degradedPercent
	}
}

// WithProbe adds a named dependency probe. A failing probe makes the gateway
// unhealthy.
func WithProbe(name string, p Probe) HealthOption {
	return func(h *HealthChecker) {
		h.probes[name] = p
	}
}

// HealthChecker verifies component health.
type HealthChecker struct {
	version         string
	audit           AuditQueue
	degradedPercent int
	probes          map[string]Probe
}

// NewHealthChecker creates a HealthChecker.
func NewHealthChecker(version string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{version: version, probes: make(map[string]Probe)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check runs every probe and inspects the audit queue.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.audit != nil {
		if !h.checkAudit(checks) {
			healthy = false
		}
	} else {
		checks["audit"] = "not configured"
	}

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := h.probes[name](pctx)
		cancel()
		if err != nil {
			checks[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

func (h *HealthChecker) checkAudit(checks map[string]string) bool {
	depth, capacity := h.audit.ChannelDepth(), h.audit.ChannelCapacity()
	percent := 0
	if capacity > 0 {
		percent = depth * 100 / capacity
	}
	if drops := h.audit.DroppedRecords(); drops > 0 {
		checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
	}

	if percent > h.degradedPercent {
		checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percent)
		return false
	}
	checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percent)
	return true
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
