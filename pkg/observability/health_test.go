package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLiveness(t *testing.T) {
	checker := NewHealthChecker("1.0.0", []string{"github"})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	checker.Liveness(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != StatusHealthy {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		providers  []string
		wantStatus int
		wantHealth string
	}{
		{
			name:       "with providers",
			providers:  []string{"github", "google", "apple"},
			wantStatus: http.StatusOK,
			wantHealth: StatusHealthy,
		},
		{
			name:       "no providers configured",
			providers:  nil,
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker("1.0.0", tt.providers)

			req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
			rec := httptest.NewRecorder()
			checker.Readiness(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}

			var status HealthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if status.Status != tt.wantHealth {
				t.Errorf("expected status %s, got %s", tt.wantHealth, status.Status)
			}
		})
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	checker := NewHealthChecker("1.0.0", []string{"github"})
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, checker)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
