package caintegration

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/globalsign/pemfile"
	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/keymgr"
	"github.com/taxpoynt/certmgr/internal/policy"
	"golang.org/x/time/rate"
)

// submissionTimeout bounds a single external CA signing call.
const submissionTimeout = 30 * time.Second

// Metadata keys an internal CA registration uses to reference its
// signing material on disk.
const (
	metaCertificateFile = "certificate_file"
	metaPrivateKeyFile  = "private_key_file"
)

// defaultSigner builds the signer matching a CA registration's type.
func (r *Registry) defaultSigner(ca *certmgr.CAInfo) certmgr.CASigner {
	switch ca.Type {
	case certmgr.CATypeExternal:
		// The registry's limiter is shared across its external CAs so a
		// renewal sweep cannot hammer a CA endpoint.
		return &ExternalSigner{
			BaseURL: ca.BaseURL,
			Client:  &http.Client{Timeout: submissionTimeout},
			Limiter: r.limiter,
		}

	case certmgr.CATypeInternal:
		certFile := ca.Metadata[metaCertificateFile]
		keyFile := ca.Metadata[metaPrivateKeyFile]
		if certFile == "" || keyFile == "" {
			return unsupportedSigner{
				message: fmt.Sprintf("internal CA %s has no signing material registered", ca.Name),
			}
		}
		signer, err := LoadLocalSigner(certFile, keyFile)
		if err != nil {
			r.logger.Errorw("failed to load internal CA signing material",
				"ca_id", ca.CAID, "error", err)
			return unsupportedSigner{
				message: fmt.Sprintf("internal CA %s signing material failed to load", ca.Name),
			}
		}
		return signer

	case certmgr.CATypeFIRSApproved:
		return unsupportedSigner{
			message: "FIRS-approved CA submission is not yet available; complete onboarding through the FIRS portal",
		}

	default:
		return unsupportedSigner{
			message: fmt.Sprintf("CA type %s does not accept CSR submission", ca.Type),
		}
	}
}

// unsupportedSigner reports that a CA type has no concrete signing
// integration. Callers must treat this as "not yet available", not as
// a failure of their own request.
type unsupportedSigner struct {
	message string
}

func (s unsupportedSigner) Sign(ctx context.Context, csr *x509.CertificateRequest, opts certmgr.SignOptions) certmgr.SubmissionResult {
	return certmgr.SubmissionResult{
		OK:        false,
		Supported: false,
		Message:   s.message,
	}
}

// ExternalSigner submits CSRs to a remote CA over HTTP. Transport and
// protocol failures are converted into structured results.
type ExternalSigner struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter
}

// signRequest is the wire format for external CA submission.
type signRequest struct {
	CSR             string `json:"csr"`
	ValidityDays    int    `json:"validity_days"`
	CertificateType string `json:"certificate_type"`
	OrganizationID  string `json:"organization_id"`
}

// signResponse is the expected response body.
type signResponse struct {
	Certificate string `json:"certificate"`
}

// Sign posts the CSR to {base_url}/api/certificates/sign and returns
// the signed certificate from the response.
func (s *ExternalSigner) Sign(ctx context.Context, csr *x509.CertificateRequest, opts certmgr.SignOptions) certmgr.SubmissionResult {
	fail := func(format string, args ...interface{}) certmgr.SubmissionResult {
		return certmgr.SubmissionResult{
			OK:        false,
			Supported: true,
			Message:   fmt.Sprintf(format, args...),
		}
	}

	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return fail("submission canceled while rate limited: %v", err)
		}
	}

	csrPEM := certgen.EncodeCSRDER(csr.Raw)
	body, err := json.Marshal(signRequest{
		CSR:             string(csrPEM),
		ValidityDays:    opts.ValidityDays,
		CertificateType: opts.CertificateType,
		OrganizationID:  opts.OrganizationID,
	})
	if err != nil {
		return fail("failed to encode signing request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, submissionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.BaseURL+"/api/certificates/sign", bytes.NewReader(body))
	if err != nil {
		return fail("failed to build signing request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fail("CA request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fail("CA returned status %d", resp.StatusCode)
	}

	var parsed signResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fail("CA response does not decode: %v", err)
	}
	if parsed.Certificate == "" {
		return fail("CA response contained no certificate")
	}

	// Reject anything the CA returns that is not a parseable certificate.
	if _, err := certgen.ParseCertificatePEM([]byte(parsed.Certificate)); err != nil {
		return fail("CA returned an unparseable certificate: %v", err)
	}

	return certmgr.SubmissionResult{
		CertificatePEM: []byte(parsed.Certificate),
		OK:             true,
		Supported:      true,
		Message:        "certificate issued",
	}
}

// LocalSigner signs CSRs with CA material held by this process. It
// backs internal CA registrations.
type LocalSigner struct {
	caCert *x509.Certificate
	caKey  interface{}
}

// NewLocalSigner creates a signer from parsed CA material.
func NewLocalSigner(caCert *x509.Certificate, caKey interface{}) (*LocalSigner, error) {
	if caCert == nil {
		return nil, fmt.Errorf("no CA certificate provided")
	}
	if !caCert.IsCA {
		return nil, fmt.Errorf("certificate %s is not a CA certificate", caCert.Subject.CommonName)
	}
	if caKey == nil {
		return nil, fmt.Errorf("no CA private key provided")
	}
	return &LocalSigner{caCert: caCert, caKey: caKey}, nil
}

// LoadLocalSigner reads CA certificate and key material from PEM files.
func LoadLocalSigner(certFile, keyFile string) (*LocalSigner, error) {
	certBlocks, err := pemfile.ReadBlocks(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	var caCert *x509.Certificate
	for _, block := range certBlocks {
		if err := pemfile.IsType(block, "CERTIFICATE"); err != nil {
			return nil, err
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		if caCert == nil {
			caCert = cert
		}
	}
	if caCert == nil {
		return nil, fmt.Errorf("no certificate found in %s", certFile)
	}

	keyBlocks, err := pemfile.ReadBlocks(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key file: %w", err)
	}
	if len(keyBlocks) == 0 {
		return nil, fmt.Errorf("no key found in %s", keyFile)
	}
	key, err := keymgr.ParsePrivateKeyPEM(pem.EncodeToMemory(keyBlocks[0]), nil)
	if err != nil {
		return nil, err
	}

	return NewLocalSigner(caCert, key)
}

// Sign issues a certificate from the CSR with a randomly generated
// 128-bit serial, the subject copied from the request, and a validity
// clamped so it never outlives the CA certificate.
func (s *LocalSigner) Sign(ctx context.Context, csr *x509.CertificateRequest, opts certmgr.SignOptions) certmgr.SubmissionResult {
	fail := func(format string, args ...interface{}) certmgr.SubmissionResult {
		return certmgr.SubmissionResult{
			OK:        false,
			Supported: true,
			Message:   fmt.Sprintf(format, args...),
		}
	}

	if err := csr.CheckSignature(); err != nil {
		return fail("CSR signature check failed: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Exp(big.NewInt(2), big.NewInt(128), nil))
	if err != nil {
		return fail("failed to make serial number: %v", err)
	}

	validityDays := policy.ClampValidity(opts.ValidityDays)
	now := time.Now().UTC()
	notAfter := now.AddDate(0, 0, validityDays)
	if notAfter.After(s.caCert.NotAfter) {
		// Don't issue any certificates which expire after the CA certificate.
		notAfter = s.caCert.NotAfter
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		RawSubject:            csr.RawSubject,
		NotBefore:             now,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, s.caCert, csr.PublicKey, s.caKey)
	if err != nil {
		return fail("failed to create certificate: %v", err)
	}

	return certmgr.SubmissionResult{
		CertificatePEM: certgen.EncodeCertificateDER(der),
		OK:             true,
		Supported:      true,
		Message:        "certificate issued",
	}
}
