package server

import (
	"errors"
	"net/http"

	"github.com/manenim/tenant-rate-limiter/pkg/limiter"
)

// PingResponse is returned by /v1/ping once the request passed the gate.
type PingResponse struct {
	Message string `json:"message"`
	Tenant  string `json:"tenant"`
}

// UsageResponse describes a tenant's current window.
type UsageResponse struct {
	Tenant    string `json:"tenant"`
	Plan      string `json:"plan"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	ResetAt   int64  `json:"resetAt"` // epoch seconds
	Degraded  bool   `json:"degraded"`
}

// TenantsResponse lists tenants with a live window.
type TenantsResponse struct {
	Tenants []string `json:"tenants"`
}

// HealthResponse is the JSON response from /healthz.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Backend string `json:"backend"`
	Version string `json:"version,omitempty"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	tenant, _, _ := s.resolver.Resolve(r)
	writeJSON(w, http.StatusOK, PingResponse{Message: "pong", Tenant: tenant})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	keys, err := s.gate.ListActiveKeys(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		LoggerFromContext(r.Context()).Error("listing tenants failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "rate limit backend unavailable")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, TenantsResponse{Tenants: keys})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	plan := limiter.Plan(r.URL.Query().Get("plan"))
	if plan == "" {
		writeError(w, http.StatusBadRequest, "plan query parameter is required")
		return
	}

	st, err := s.gate.Status(r.Context(), tenant, plan)
	if errors.Is(err, limiter.ErrUnknownPlan) || errors.Is(err, limiter.ErrEmptyTenant) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		LoggerFromContext(r.Context()).Error("reading usage failed", "tenant", tenant, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Tenant:    tenant,
		Plan:      string(plan),
		Used:      st.Used,
		Limit:     st.Limit,
		Remaining: st.Remaining,
		ResetAt:   st.ResetAt.Unix(),
		Degraded:  st.Degraded,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if err := s.gate.Reset(r.Context(), tenant); err != nil {
		if errors.Is(err, limiter.ErrEmptyTenant) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		LoggerFromContext(r.Context()).Error("reset failed", "tenant", tenant, "error", err)
		writeError(w, http.StatusServiceUnavailable, "rate limit backend unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth answers 200 even while degraded: the gate keeps serving
// traffic by failing open.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.gate.Healthy() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Backend: s.gate.Backend(),
		Version: s.version,
	})
}
