package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/caintegration"
	"github.com/taxpoynt/certmgr/internal/lifecycle"
)

// ExpirationReport scans active certificates and buckets them by
// urgency, expiring the overdue ones as a side effect.
func (h *Handler) ExpirationReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.lifecycle.CheckCertificateExpiration(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "REPORT_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AutomaticRenewal renews every certificate inside the renewal window.
func (h *Handler) AutomaticRenewal(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"

	run, err := h.lifecycle.PerformAutomaticRenewal(r.Context(), r.URL.Query().Get("organization_id"), dryRun)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RENEWAL_RUN_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ComplianceReport scans all active certificates against the FIRS
// rules.
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.lifecycle.CheckComplianceStatus(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "REPORT_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LifecycleEvents returns the audit trail, newest first.
func (h *Handler) LifecycleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := h.lifecycle.GetLifecycleEvents(lifecycle.EventFilter{
		CertificateID: q.Get("certificate_id"),
		Action:        certmgr.LifecycleAction(q.Get("action")),
		Limit:         limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "EVENTS_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

type registerCARequest struct {
	Name           string            `json:"name"`
	Type           string            `json:"ca_type"`
	CertificatePEM string            `json:"certificate_pem"`
	BaseURL        string            `json:"base_url,omitempty"`
	TrustLevel     string            `json:"trust_level,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RegisterCA registers a certificate authority.
func (h *Handler) RegisterCA(w http.ResponseWriter, r *http.Request) {
	var req registerCARequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	id, err := h.svc.Registry().RegisterCA(r.Context(), caintegration.RegisterInput{
		Name:           req.Name,
		Type:           certmgr.CAType(req.Type),
		CertificatePEM: []byte(req.CertificatePEM),
		BaseURL:        req.BaseURL,
		TrustLevel:     certmgr.TrustLevel(req.TrustLevel),
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "REGISTER_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"ca_id": id})
}

// ListCAs lists registered certificate authorities.
func (h *Handler) ListCAs(w http.ResponseWriter, r *http.Request) {
	cas, err := h.svc.Registry().ListCAs(r.Context(), certmgr.CAType(r.URL.Query().Get("ca_type")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"certificate_authorities": cas})
}

type caStatusRequest struct {
	IsActive bool `json:"is_active"`
}

// UpdateCAStatus activates or deactivates a CA.
func (h *Handler) UpdateCAStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "caID")

	var req caStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	ok, err := h.svc.Registry().UpdateCAStatus(r.Context(), id, req.IsActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "UPDATE_FAILED", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "certificate authority not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// CAChain returns a CA's certificate chain, root last.
func (h *Handler) CAChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "caID")

	chain, err := h.svc.Registry().GetCACertificateChain(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}

	out := make([]string, len(chain))
	for i, c := range chain {
		out[i] = string(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chain": out})
}

// CAStatistics summarizes the CA registry.
func (h *Handler) CAStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Registry().GetCAStatistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STATS_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type validateChainRequest struct {
	CertificatePEM   string   `json:"certificate_pem"`
	IntermediatePEMs []string `json:"intermediate_pems,omitempty"`
}

// ValidateChain validates a certificate chain against the trusted CA
// set. Validation failures come back in the result body.
func (h *Handler) ValidateChain(w http.ResponseWriter, r *http.Request) {
	var req validateChainRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	intermediates := make([][]byte, len(req.IntermediatePEMs))
	for i, p := range req.IntermediatePEMs {
		intermediates[i] = []byte(p)
	}

	result := h.svc.Registry().ValidateCertificateChain([]byte(req.CertificatePEM), intermediates)
	writeJSON(w, http.StatusOK, result)
}

type createRequestRequest struct {
	Subject         certmgr.SubjectInfo `json:"subject"`
	OrganizationID  string              `json:"organization_id"`
	CertificateType string              `json:"certificate_type"`
	KeySize         int                 `json:"key_size"`
}

// CreateCertificateRequest builds a CSR with a fresh key pair and
// records the pending request.
func (h *Handler) CreateCertificateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	requestID, csrPEM, _, err := h.requests.CreateCertificateRequest(r.Context(),
		req.Subject, req.OrganizationID, req.CertificateType, req.KeySize)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "REQUEST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"request_id": requestID,
		"csr_pem":    string(csrPEM),
	})
}

type submitRequestRequest struct {
	CAID         string `json:"ca_id"`
	ValidityDays int    `json:"validity_days"`
}

// SubmitCertificateRequest sends a pending request's CSR to a CA.
func (h *Handler) SubmitCertificateRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestID")

	var req submitRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	ok, message, certificateID, err := h.requests.SubmitRequestToCA(r.Context(), id, req.CAID, req.ValidityDays)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        ok,
		"message":        message,
		"certificate_id": certificateID,
	})
}

// GetCertificateRequest returns one certificate request.
func (h *Handler) GetCertificateRequest(w http.ResponseWriter, r *http.Request) {
	request, err := h.requests.GetRequest(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// ListCertificateRequests lists certificate requests, newest first.
func (h *Handler) ListCertificateRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.requests.ListRequests(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

// ListKeys lists stored key files, newest first.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListStoredKeys()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

type keyStrengthRequest struct {
	PrivateKeyPEM string `json:"private_key_pem"`
}

// ValidateKeyStrength grades a private key's strength.
func (h *Handler) ValidateKeyStrength(w http.ResponseWriter, r *http.Request) {
	var req keyStrengthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	report, err := h.keys.ValidateKeyStrength([]byte(req.PrivateKeyPEM))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_KEY", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Healthcheck reports liveness.
func (h *Handler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
