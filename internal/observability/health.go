package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// HealthChecker backs /healthz and /readyz. The process is ready once
// SetReady(true) has been called and every registered check passes.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time

	mu     sync.RWMutex
	checks map[string]func() error
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		started: time.Now(),
		checks:  make(map[string]func() error),
	}
}

// AddCheck registers a dependency probe such as a store ping.
func (h *HealthChecker) AddCheck(name string, check func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// RunChecks probes every dependency, sorted by name.
func (h *HealthChecker) RunChecks() []CheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	checks := make(map[string]func() error, len(h.checks))
	for name, check := range h.checks {
		names = append(names, name)
		checks[name] = check
	}
	h.mu.RUnlock()

	sort.Strings(names)
	out := make([]CheckResult, 0, len(names))
	for _, name := range names {
		start := time.Now()
		err := checks[name]()
		res := CheckResult{Name: name, OK: err == nil, Latency: time.Since(start).String()}
		if err != nil {
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out
}

func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// ReadinessHandler answers 503 until start-up has finished and while any
// dependency check fails.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}

	results := h.RunChecks()
	code, state := http.StatusOK, "ready"
	for _, r := range results {
		if !r.OK {
			code, state = http.StatusServiceUnavailable, "degraded"
			break
		}
	}
	writeJSON(w, code, map[string]any{"status": state, "checks": results})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
