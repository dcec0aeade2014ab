package certmgr

import (
	"context"
	"crypto/x509"
	"time"
)

// CASigner signs certificate requests on behalf of a registered
// certificate authority. The certificate manager can be connected to any
// backing CA by providing an implementation of this interface.
//
// All operations receive a context so that network-backed signers can
// honor cancellation and deadlines. Implementations must convert I/O and
// protocol failures into a SubmissionResult rather than returning raw
// transport errors: callers always receive a structured outcome.
type CASigner interface {
	// Sign submits a PKCS#10 certificate request and returns the signed
	// certificate. Signers for CA types without a concrete integration
	// must return a SubmissionResult with Supported set to false.
	Sign(ctx context.Context, csr *x509.CertificateRequest, opts SignOptions) SubmissionResult
}

// SignOptions carries per-request parameters for CSR submission.
type SignOptions struct {
	ValidityDays    int
	CertificateType string
	OrganizationID  string
}

// SubmissionResult is the structured outcome of a CSR submission. On
// success CertificatePEM holds the signed certificate; otherwise
// Message explains the failure. Supported is false when the backing CA
// type has no concrete signing integration yet, which callers must
// treat as "not yet available", not as an error in their own request.
type SubmissionResult struct {
	CertificatePEM []byte
	OK             bool
	Supported      bool
	Message        string
}

// RevocationStatus is the outcome of a revocation check.
type RevocationStatus struct {
	Revoked   bool      `json:"revoked"`
	Supported bool      `json:"supported"`
	Reason    string    `json:"reason,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
	Source    string    `json:"source"`
}

// RevocationChecker reports whether a certificate has been revoked.
//
// Implementations that cannot actually consult a revocation source
// (CRL, OCSP, or the local store) must report Supported=false so that
// callers never mistake "no checker available" for "not revoked".
type RevocationChecker interface {
	CheckRevocation(ctx context.Context, cert *x509.Certificate) (RevocationStatus, error)
}

// Error represents an error which can be translated into an HTTP
// status code and message by the service facade.
type Error interface {
	// StatusCode returns the HTTP status code.
	StatusCode() int

	// Error returns a human-readable description of the error.
	Error() string
}
