package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/aegis/pkg/auth"
	"github.com/Mindburn-Labs/aegis/pkg/events"
	"github.com/Mindburn-Labs/aegis/pkg/recovery"
)

// Handler exposes the recovery service over HTTP.
type Handler struct {
	svc *recovery.Service
	log *events.Log
}

// NewHandler creates an API handler around a recovery service.
func NewHandler(svc *recovery.Service, log *events.Log) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register installs all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("GET /v1/escapes/{validator}", h.HandleGetEscape)
	mux.HandleFunc("POST /v1/escapes/{validator}/trigger", h.HandleTrigger)
	mux.HandleFunc("POST /v1/escapes/{validator}/complete", h.HandleComplete)
	mux.HandleFunc("POST /v1/escapes/{validator}/cancel", h.HandleCancel)
	mux.HandleFunc("POST /v1/escapes/{validator}/cancel/approve", h.HandleApproveCancel)
	mux.HandleFunc("POST /v1/escapes/{validator}/override", h.HandleOverride)

	mux.HandleFunc("GET /v1/config/security-period", h.HandleGetSecurityPeriod)
	mux.HandleFunc("PUT /v1/config/security-period", h.HandleSetSecurityPeriod)

	mux.HandleFunc("GET /v1/events", h.HandleListEvents)
}

// HandleHealth handles the /health endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// TriggerRequest is the body for POST /v1/escapes/{validator}/trigger.
type TriggerRequest struct {
	// Payload is the base64-encoded recovery payload handed to the
	// validator's install hook on completion.
	Payload string `json:"payload,omitempty"`
}

// HandleTrigger handles POST /v1/escapes/{validator}/trigger.
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	validator := r.PathValue("validator")

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	var payload []byte
	if req.Payload != "" {
		var err error
		payload, err = base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			WriteBadRequest(w, "payload must be base64-encoded")
			return
		}
	}

	if err := h.svc.TriggerEscape(r.Context(), caller, validator, payload); err != nil {
		WriteRecoveryError(w, err)
		return
	}
	writeState(w, h.svc, r, validator, http.StatusCreated)
}

// HandleComplete handles POST /v1/escapes/{validator}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	validator := r.PathValue("validator")

	if err := h.svc.CompleteEscape(r.Context(), caller, validator); err != nil {
		WriteRecoveryError(w, err)
		return
	}
	writeState(w, h.svc, r, validator, http.StatusOK)
}

// HandleCancel handles POST /v1/escapes/{validator}/cancel. Under the
// two-phase policy this records the caller's approval; the request clears
// once both roles have approved.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	validator := r.PathValue("validator")

	if err := h.svc.CancelEscape(r.Context(), caller, validator); err != nil {
		WriteRecoveryError(w, err)
		return
	}
	writeState(w, h.svc, r, validator, http.StatusOK)
}

// HandleApproveCancel handles POST /v1/escapes/{validator}/cancel/approve.
// Always two-phase: it records the caller's approval even when the deployment
// policy is unilateral.
func (h *Handler) HandleApproveCancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	validator := r.PathValue("validator")

	if err := h.svc.ApproveCancelEscape(r.Context(), caller, validator); err != nil {
		WriteRecoveryError(w, err)
		return
	}
	writeState(w, h.svc, r, validator, http.StatusOK)
}

// HandleOverride handles POST /v1/escapes/{validator}/override. Owner only.
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	if caller.Role != recovery.RoleOwner {
		WriteForbidden(w, "Only the owner may override a guardian escape")
		return
	}
	validator := r.PathValue("validator")

	if err := h.svc.OverrideGuardianEscape(r.Context(), caller, validator); err != nil {
		WriteRecoveryError(w, err)
		return
	}
	writeState(w, h.svc, r, validator, http.StatusOK)
}

// HandleGetEscape handles GET /v1/escapes/{validator}.
func (h *Handler) HandleGetEscape(w http.ResponseWriter, r *http.Request) {
	validator := r.PathValue("validator")
	writeState(w, h.svc, r, validator, http.StatusOK)
}

// SecurityPeriodResponse carries the global timelock duration.
type SecurityPeriodResponse struct {
	Period string `json:"period"`
}

// HandleGetSecurityPeriod handles GET /v1/config/security-period.
func (h *Handler) HandleGetSecurityPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.svc.SecurityPeriod(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SecurityPeriodResponse{Period: period.String()})
}

// HandleSetSecurityPeriod handles PUT /v1/config/security-period. Owner only.
func (h *Handler) HandleSetSecurityPeriod(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	if caller.Role != recovery.RoleOwner {
		WriteForbidden(w, "Only the owner may change the security period")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SecurityPeriodResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	period, err := time.ParseDuration(req.Period)
	if err != nil {
		WriteBadRequest(w, "period must be a duration string (e.g. \"168h\")")
		return
	}

	if err := h.svc.SetSecurityPeriod(r.Context(), period); err != nil {
		WriteRecoveryError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SecurityPeriodResponse{Period: period.String()})
}

// HandleListEvents handles GET /v1/events?limit=N.
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.log.List(limit))
}

// callerParty resolves the authenticated principal into a domain Party.
// Writes a 401 and returns ok=false if no principal is attached.
func callerParty(w http.ResponseWriter, r *http.Request) (recovery.Party, bool) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return recovery.Party{}, false
	}
	return principal.Party(), true
}

func writeState(w http.ResponseWriter, svc *recovery.Service, r *http.Request, validator string, status int) {
	state, err := svc.Escape(r.Context(), validator)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(state)
}
