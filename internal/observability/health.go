package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Readiness conditions the daemon reports on.
const (
	CondStateLoaded    = "state_loaded"
	CondAddressReady   = "own_address"
	CondTransportReady = "transport"
)

// HealthChecker manages liveness and readiness state. Ready means every
// registered condition is true.
type HealthChecker struct {
	conditions *xsync.Map[string, bool]
	startTime  time.Time
}

// NewHealthChecker creates a checker that waits for the named conditions.
func NewHealthChecker(conditions ...string) *HealthChecker {
	h := &HealthChecker{
		conditions: xsync.NewMap[string, bool](),
		startTime:  time.Now(),
	}
	for _, c := range conditions {
		h.conditions.Store(c, false)
	}
	return h
}

// Set records the state of one condition, registering it if new.
func (h *HealthChecker) Set(condition string, ok bool) {
	h.conditions.Store(condition, ok)
}

// IsReady returns whether all conditions hold.
func (h *HealthChecker) IsReady() bool {
	ready := true
	h.conditions.Range(func(_ string, ok bool) bool {
		if !ok {
			ready = false
			return false
		}
		return true
	})
	return ready
}

func (h *HealthChecker) pending() []string {
	var out []string
	h.conditions.Range(func(name string, ok bool) bool {
		if !ok {
			out = append(out, name)
		}
		return true
	})
	sort.Strings(out)
	return out
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once every condition holds, 503 with the
// pending conditions otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": h.pending(),
	})
}
