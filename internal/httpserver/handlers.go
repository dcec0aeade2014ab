package httpserver

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certstore"
	"github.com/taxpoynt/certmgr/internal/common"
	"github.com/taxpoynt/certmgr/internal/keymgr"
	"github.com/taxpoynt/certmgr/internal/lifecycle"
	"github.com/taxpoynt/certmgr/internal/service"
)

// Handler bundles the services the HTTP surface exposes.
type Handler struct {
	svc       *service.CertificateService
	requests  *service.CertificateRequestService
	lifecycle *lifecycle.Manager
	keys      *keymgr.Manager
	logger    common.Logger
}

// NewHandler wires the HTTP handlers over the service layer.
func NewHandler(
	svc *service.CertificateService,
	requests *service.CertificateRequestService,
	lc *lifecycle.Manager,
	keys *keymgr.Manager,
	logger common.Logger,
) *Handler {
	return &Handler{
		svc:       svc,
		requests:  requests,
		lifecycle: lc,
		keys:      keys,
		logger:    logger.With("component", "httpserver"),
	}
}

type issueRequest struct {
	Subject         certmgr.SubjectInfo `json:"subject"`
	OrganizationID  string              `json:"organization_id"`
	CertificateType string              `json:"certificate_type"`
	ValidityDays    int                 `json:"validity_days"`
	KeySize         int                 `json:"key_size"`
}

// IssueSelfSigned creates a self-signed certificate with a fresh key
// pair and stores both.
func (h *Handler) IssueSelfSigned(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	id, err := h.svc.IssueSelfSigned(r.Context(), req.Subject, req.OrganizationID,
		req.CertificateType, req.ValidityDays, req.KeySize)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "ISSUE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"certificate_id": id})
}

type issueFIRSRequest struct {
	Organization   certmgr.SubjectInfo `json:"organization"`
	OrganizationID string              `json:"organization_id"`
	ValidityDays   int                 `json:"validity_days"`
}

// IssueFIRS creates a FIRS e-invoicing certificate for an
// organization.
func (h *Handler) IssueFIRS(w http.ResponseWriter, r *http.Request) {
	var req issueFIRSRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	id, err := h.svc.IssueFIRSCompliant(r.Context(), req.Organization, req.OrganizationID, req.ValidityDays)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "ISSUE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"certificate_id": id})
}

type storeRequest struct {
	CertificatePEM  string            `json:"certificate_pem"`
	OrganizationID  string            `json:"organization_id"`
	CertificateType string            `json:"certificate_type"`
	KeyReference    string            `json:"key_reference,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// StoreCertificate stores an externally produced certificate.
func (h *Handler) StoreCertificate(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.CertificatePEM == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "certificate_pem is required")
		return
	}

	id, err := h.svc.Store().StoreCertificate(r.Context(), certstore.StoreInput{
		PEM:             []byte(req.CertificatePEM),
		OrganizationID:  req.OrganizationID,
		CertificateType: req.CertificateType,
		KeyReference:    req.KeyReference,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "STORE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"certificate_id": id})
}

// ListCertificates lists stored certificates, optionally filtered by
// organization, type or status.
func (h *Handler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if fragment := q.Get("subject"); fragment != "" {
		certs, err := h.svc.Store().FindCertificatesBySubject(r.Context(), fragment)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"certificates": certs})
		return
	}

	certs, err := h.svc.Store().ListCertificates(r.Context(), certstore.ListFilter{
		OrganizationID:  q.Get("organization_id"),
		CertificateType: q.Get("certificate_type"),
		Status:          certmgr.Status(q.Get("status")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"certificates": certs})
}

// GetCertificate returns one certificate's metadata and PEM.
func (h *Handler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")

	record, err := h.svc.Store().GetCertificateInfo(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "certificate not found")
		return
	}

	pemData, err := h.svc.Store().RetrieveCertificate(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"certificate":     record,
		"certificate_pem": string(pemData),
	})
}

// GetCertificateChain returns the certificate chain, leaf first.
func (h *Handler) GetCertificateChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")
	includeRoot := r.URL.Query().Get("include_root") != "false"

	chain, err := h.svc.CreateCertificateChain(r.Context(), id, includeRoot)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "CHAIN_FAILED", err.Error())
		return
	}

	out := make([]string, len(chain))
	for i, c := range chain {
		out[i] = string(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chain": out})
}

// ExportCertificate renders a certificate in PEM, DER or PKCS#7.
func (h *Handler) ExportCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")
	q := r.URL.Query()

	var passphrase []byte
	if p := q.Get("passphrase"); p != "" {
		passphrase = []byte(p)
	}

	result, err := h.svc.ExportCertificate(r.Context(), id, service.ExportOptions{
		Format:            q.Get("format"),
		IncludeChain:      q.Get("include_chain") == "true",
		IncludePrivateKey: q.Get("include_private_key") == "true",
		Passphrase:        passphrase,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "EXPORT_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type statusRequest struct {
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateCertificateStatus transitions a certificate's status.
func (h *Handler) UpdateCertificateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")

	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	ok, err := h.svc.Store().UpdateCertificateStatus(r.Context(), id, certmgr.Status(req.Status), req.Metadata)
	if err != nil {
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "certificate not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// ArchiveCertificate removes a certificate from active use, keeping
// its file in the archive.
func (h *Handler) ArchiveCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")

	ok, err := h.svc.Store().DeleteCertificate(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ARCHIVE_FAILED", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "certificate not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": true})
}

// ExpiringCertificates lists certificates expiring inside a window.
func (h *Handler) ExpiringCertificates(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "days must be a non-negative integer")
			return
		}
		days = n
	}

	certs, err := h.svc.Store().CheckExpiringCertificates(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"certificates": certs})
}

// StorageStatistics reports store contents and disk usage.
func (h *Handler) StorageStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Store().GetStorageStatistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STATS_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ComplianceCheck evaluates one certificate against a compliance
// standard.
func (h *Handler) ComplianceCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")
	standard := r.URL.Query().Get("standard")
	if standard == "" {
		standard = "firs"
	}

	result, err := h.svc.PerformComplianceCheck(r.Context(), id, standard)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "COMPLIANCE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CheckRevocation reports a certificate's revocation status from the
// configured revocation sources. An unsupported result means no source
// could answer, not that the certificate is clean.
func (h *Handler) CheckRevocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")

	certPEM, err := h.svc.Store().RetrieveCertificate(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error())
		return
	}
	if certPEM == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "certificate not found")
		return
	}

	status, err := h.svc.Registry().CheckCertificateRevocation(r.Context(), certPEM)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "REVOCATION_CHECK_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type signRequest struct {
	Data           string `json:"data"`
	CertificateID  string `json:"certificate_id"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
}

// SignData signs a base64 payload with a stored certificate's key.
func (h *Handler) SignData(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "data must be base64")
		return
	}

	var passphrase []byte
	if req.Passphrase != "" {
		passphrase = []byte(req.Passphrase)
	}

	info, err := h.svc.SignData(r.Context(), data, req.CertificateID, service.SignOptions{
		PrivateKeyPath: req.PrivateKeyPath,
		Passphrase:     passphrase,
	})
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, service.ErrNoPrivateKey) {
			status = http.StatusNotFound
		}
		writeError(w, status, "SIGN_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type verifyRequest struct {
	Data          string                `json:"data"`
	Signature     certmgr.SignatureInfo `json:"signature"`
	CertificateID string                `json:"certificate_id"`
}

// VerifySignature checks a detached signature against a stored
// certificate. Verification failures are reported in the result, not
// as HTTP errors.
func (h *Handler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "data must be base64")
		return
	}

	result := h.svc.VerifySignature(r.Context(), data, &req.Signature, req.CertificateID)
	writeJSON(w, http.StatusOK, result)
}

type renewRequest struct {
	ValidityDays int  `json:"validity_days"`
	ReuseKey     bool `json:"reuse_key"`
}

// RenewCertificate issues a replacement certificate and archives the
// old one.
func (h *Handler) RenewCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")

	var req renewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	newID, ok := h.lifecycle.RenewCertificate(r.Context(), id, req.ValidityDays, req.ReuseKey)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "RENEWAL_FAILED",
			fmt.Sprintf("renewal of %s failed, see lifecycle events", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"new_certificate_id": newID})
}

type revokeRequest struct {
	Reason    string     `json:"reason"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// RevokeCertificate marks a certificate revoked.
func (h *Handler) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "certificateID")

	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "reason is required")
		return
	}

	revokedAt := time.Now().UTC()
	if req.RevokedAt != nil {
		revokedAt = *req.RevokedAt
	}

	if !h.lifecycle.RevokeCertificate(r.Context(), id, req.Reason, revokedAt) {
		writeError(w, http.StatusUnprocessableEntity, "REVOCATION_FAILED",
			fmt.Sprintf("revocation of %s failed, see lifecycle events", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}
