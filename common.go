package certmgr

import "time"

// Status is the lifecycle status of a stored certificate.
type Status string

// Certificate status values. The legal transitions are:
//
//	PENDING -> ACTIVE
//	ACTIVE  -> EXPIRED | REVOKED | ARCHIVED
//	EXPIRED -> ARCHIVED
//	REVOKED -> ARCHIVED
//
// ARCHIVED is terminal. No transition removes a record from the index.
const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
	StatusArchived Status = "archived"
)

// CanTransition reports whether a status change from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusArchived
	case StatusActive:
		return next == StatusExpired || next == StatusRevoked || next == StatusArchived
	case StatusExpired, StatusRevoked:
		return next == StatusArchived
	}
	return false
}

// CAType classifies a registered certificate authority.
type CAType string

const (
	CATypeInternal     CAType = "internal"
	CATypeExternal     CAType = "external"
	CATypeFIRSApproved CAType = "firs_approved"
	CATypeSelfSigned   CAType = "self_signed"
)

// TrustLevel expresses how much a registered CA is trusted. Only
// high-trust CAs participate in chain validation.
type TrustLevel string

const (
	TrustLow    TrustLevel = "low"
	TrustMedium TrustLevel = "medium"
	TrustHigh   TrustLevel = "high"
)

// LifecycleAction identifies the kind of lifecycle event recorded in
// the audit log.
type LifecycleAction string

const (
	ActionRenewal           LifecycleAction = "renewal"
	ActionRevocation        LifecycleAction = "revocation"
	ActionExpirationWarning LifecycleAction = "expiration_warning"
	ActionComplianceCheck   LifecycleAction = "compliance_check"
	ActionAutomaticRenewal  LifecycleAction = "automatic_renewal"
)

// SubjectInfo holds the subject attributes used to build a certificate
// or certificate request. CommonName and Organization are required;
// the remaining fields are optional.
type SubjectInfo struct {
	CommonName         string `json:"common_name"`
	Organization       string `json:"organization_name"`
	OrganizationalUnit string `json:"organizational_unit,omitempty"`
	Country            string `json:"country_name,omitempty"`
	State              string `json:"state,omitempty"`
	Locality           string `json:"city,omitempty"`
	Email              string `json:"email,omitempty"`
}

// StoredCertificate is the index record for a persisted certificate.
// FilePath is a storage handle owned by the store; callers outside the
// store must treat it as opaque.
type StoredCertificate struct {
	CertificateID   string            `json:"certificate_id"`
	SubjectCN       string            `json:"subject_cn"`
	IssuerCN        string            `json:"issuer_cn"`
	SerialNumber    string            `json:"serial_number"`
	NotBefore       time.Time         `json:"not_before"`
	NotAfter        time.Time         `json:"not_after"`
	Fingerprint     string            `json:"fingerprint"`
	Status          Status            `json:"status"`
	FilePath        string            `json:"-"`
	OrganizationID  string            `json:"organization_id"`
	CertificateType string            `json:"certificate_type"`
	KeyReference    string            `json:"key_reference,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// DaysUntilExpiry returns the number of whole days until the
// certificate expires, negative if it already has.
func (c *StoredCertificate) DaysUntilExpiry(now time.Time) int {
	return int(c.NotAfter.Sub(now).Hours() / 24)
}

// CAInfo describes a registered certificate authority.
type CAInfo struct {
	CAID           string            `json:"ca_id"`
	Name           string            `json:"ca_name"`
	Type           CAType            `json:"ca_type"`
	BaseURL        string            `json:"base_url,omitempty"`
	CertificatePEM string            `json:"certificate_pem"`
	TrustLevel     TrustLevel        `json:"trust_level"`
	IsActive       bool              `json:"is_active"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// LifecycleEvent is an append-only audit record of a lifecycle action.
// Events are never mutated after creation.
type LifecycleEvent struct {
	EventID       string            `json:"event_id"`
	CertificateID string            `json:"certificate_id"`
	Action        LifecycleAction   `json:"action"`
	Timestamp     time.Time         `json:"timestamp"`
	Details       map[string]string `json:"details,omitempty"`
	Success       bool              `json:"success"`
	ErrorMessage  string            `json:"error_message,omitempty"`
}

// SignatureInfo is the structured result of signing a payload. It is
// handed to the invoice submission client for inclusion in invoice
// payloads; the certificate manager does not itself submit invoices.
type SignatureInfo struct {
	Signature              string    `json:"signature"`
	Algorithm              string    `json:"algorithm"`
	CertificateID          string    `json:"certificate_id"`
	CertificateFingerprint string    `json:"certificate_fingerprint"`
	SignedAt               time.Time `json:"signed_at"`
	DataHash               string    `json:"data_hash"`
}

// VerificationResult is the structured result of signature
// verification. IsValid is the conjunction of the three component
// checks: the cryptographic signature, the payload hash, and the
// certificate's chain validity.
type VerificationResult struct {
	IsValid           bool      `json:"is_valid"`
	SignatureValid    bool      `json:"signature_valid"`
	DataHashValid     bool      `json:"data_hash_valid"`
	CertificateValid  bool      `json:"certificate_valid"`
	CertificateErrors []string  `json:"certificate_errors,omitempty"`
	VerificationError string    `json:"verification_error,omitempty"`
	VerifiedAt        time.Time `json:"verified_at"`
}
