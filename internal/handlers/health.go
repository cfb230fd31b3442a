package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
}

// NewHealthHandlers constructs health handlers. A nil system service reports liveness only and
// readiness as unavailable.
func NewHealthHandlers(system services.SystemService) *HealthHandlers {
	return &HealthHandlers{system: system}
}

type healthCheckPayload struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type healthPayload struct {
	Status        string               `json:"status"`
	Version       string               `json:"version,omitempty"`
	CommitSHA     string               `json:"commitSha,omitempty"`
	Environment   string               `json:"environment,omitempty"`
	OrderStore    string               `json:"orderStore,omitempty"`
	UptimeSeconds int64                `json:"uptimeSeconds"`
	GeneratedAt   string               `json:"generatedAt"`
	Checks        []healthCheckPayload `json:"checks,omitempty"`
}

// Healthz reports that the process is serving. Dependencies are not probed.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.system == nil {
		httpx.WriteJSON(w, http.StatusOK, healthPayload{
			Status:      domain.HealthStatusOK,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildHealthPayload(h.system.Liveness(r.Context())))
}

// Readyz probes dependencies and answers 503 when a critical one fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.system == nil {
		writeUnavailable(ctx, w, "system")
		return
	}
	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", "unable to collect health report", http.StatusServiceUnavailable))
		return
	}
	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, buildHealthPayload(report))
}

func buildHealthPayload(report services.SystemHealthReport) healthPayload {
	payload := healthPayload{
		Status:        report.Status,
		Version:       report.Version,
		CommitSHA:     report.CommitSHA,
		Environment:   report.Environment,
		OrderStore:    report.OrderStore,
		UptimeSeconds: int64(report.Uptime / time.Second),
		GeneratedAt:   formatTime(report.GeneratedAt),
	}
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		payload.Checks = append(payload.Checks, healthCheckPayload{
			Name:      name,
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		})
	}
	return payload
}
