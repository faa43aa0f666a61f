package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker reports process health. The broker holds no durable state,
// so there are no dependencies to probe; readiness only confirms the
// configured tenants are known.
type HealthChecker struct {
	version   string
	providers []string
}

// NewHealthChecker creates a health checker reporting the given service
// version and configured upstream providers.
func NewHealthChecker(version string, providers []string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		providers: providers,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Providers []string  `json:"providers,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe. A broker with zero configured
// providers can accept traffic but never complete a login, so it reports
// unhealthy.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	status := h.Check()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check builds the current health status
func (h *HealthChecker) Check() HealthStatus {
	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
		Providers: h.providers,
	}
	if len(h.providers) == 0 {
		status.Status = StatusUnhealthy
	}
	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
