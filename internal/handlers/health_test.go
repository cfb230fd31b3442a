package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/services"
)

func TestHealthHandlersHealthz(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	handlers := NewHealthHandlers(&stubSystemService{
		liveness: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			OrderStore:  "postgres",
			Uptime:      30 * time.Second,
			GeneratedAt: now,
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body healthPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body.Status)
	}
	if body.Version != "1.0.0" || body.CommitSHA != "abc123" || body.Environment != "prod" {
		t.Fatalf("unexpected build info %+v", body)
	}
	if body.OrderStore != "postgres" {
		t.Fatalf("expected order store postgres, got %s", body.OrderStore)
	}
	if body.UptimeSeconds != 30 {
		t.Fatalf("expected uptime 30, got %d", body.UptimeSeconds)
	}
}

func TestHealthHandlersHealthzWithoutSystemService(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	NewHealthHandlers(nil).Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"postgres": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				"pubsub":   {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond, CheckedAt: now},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	NewHealthHandlers(svc).Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body healthPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if len(body.Checks) != 2 || body.Checks[0].Name != "postgres" || body.Checks[1].Name != "pubsub" {
		t.Fatalf("expected checks sorted by name, got %+v", body.Checks)
	}
	if body.Checks[0].LatencyMS != 10 {
		t.Fatalf("expected latency 10ms, got %d", body.Checks[0].LatencyMS)
	}
}

func TestHealthHandlersReadyzDegradedStaysReady(t *testing.T) {
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	NewHealthHandlers(svc).Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body healthPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != domain.HealthStatusDegraded || body.Checks[0].Error != "publish failed" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	tests := []struct {
		name string
		svc  *stubSystemService
	}{
		{
			name: "critical dependency down",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusError, Error: "connection refused"},
				},
			}},
		},
		{
			name: "report failed",
			svc:  &stubSystemService{err: errors.New("boom")},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			rr := httptest.NewRecorder()

			NewHealthHandlers(tc.svc).Readyz(rr, req)

			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected status 503, got %d", rr.Code)
			}
		})
	}
}

var _ services.SystemService = (*stubSystemService)(nil)
