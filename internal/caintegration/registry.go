// Package caintegration manages trust relationships with certificate
// authorities: registration, CSR submission for signing, chain
// validation against the trusted set, and revocation checking. Network
// and protocol failures never escape as raw errors; every submission
// yields a structured result.
package caintegration

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/common"
	"golang.org/x/time/rate"
)

// trustedCA is an entry in the in-memory trusted set.
type trustedCA struct {
	caID string
	name string
	cert *x509.Certificate
}

// RegisterInput carries the attributes of a new CA registration.
type RegisterInput struct {
	Name           string
	Type           certmgr.CAType
	CertificatePEM []byte
	BaseURL        string
	TrustLevel     certmgr.TrustLevel
	Metadata       map[string]string
}

// ChainInfo is the structured description produced by chain validation.
type ChainInfo struct {
	SubjectCN     string    `json:"subject_cn"`
	IssuerCN      string    `json:"issuer_cn"`
	SerialNumber  string    `json:"serial_number"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	IsExpired     bool      `json:"is_expired"`
	IsNotYetValid bool      `json:"is_not_yet_valid"`
	ChainLength   int       `json:"chain_length"`
	IsTrusted     bool      `json:"is_trusted"`
	TrustedCAName string    `json:"trusted_ca_name,omitempty"`
}

// ChainValidation is the full result of validating a certificate chain.
type ChainValidation struct {
	IsValid   bool       `json:"is_valid"`
	Errors    []string   `json:"errors,omitempty"`
	ChainInfo *ChainInfo `json:"chain_info"`
}

// Statistics summarizes the CA registry.
type Statistics struct {
	TotalCAs    int            `json:"total_cas"`
	ActiveCAs   int            `json:"active_cas"`
	TrustedCAs  int            `json:"trusted_cas"`
	CATypes     map[string]int `json:"ca_types"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Registry is the CA trust registry. Registrations persist in the
// repository; the trusted set (active CAs with high trust) is held in
// memory and rebuilt from the repository on startup.
type Registry struct {
	repo   CARepository
	logger common.Logger
	now    func() time.Time

	signerFactory func(ca *certmgr.CAInfo) certmgr.CASigner
	revocation    []certmgr.RevocationChecker
	limiter       *rate.Limiter

	mu      sync.RWMutex
	trusted map[string]trustedCA
}

// NewRegistry creates a CA registry and loads the trusted set from the
// repository.
func NewRegistry(ctx context.Context, repo CARepository, logger common.Logger) (*Registry, error) {
	r := &Registry{
		repo:    repo,
		logger:  logger.With("component", "caintegration"),
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		trusted: make(map[string]trustedCA),
	}
	r.signerFactory = r.defaultSigner
	r.revocation = []certmgr.RevocationChecker{NewCRLChecker()}

	cas, err := repo.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load CA registry: %w", err)
	}
	for _, ca := range cas {
		if ca.IsActive && ca.TrustLevel == certmgr.TrustHigh {
			if err := r.addTrusted(ca); err != nil {
				r.logger.Warnw("skipping unparseable trusted CA certificate",
					"ca_id", ca.CAID, "error", err)
			}
		}
	}

	r.logger.Infow("CA registry loaded", "total", len(cas), "trusted", len(r.trusted))
	return r, nil
}

// SetSignerFactory overrides signer construction. Tests only.
func (r *Registry) SetSignerFactory(f func(ca *certmgr.CAInfo) certmgr.CASigner) {
	r.signerFactory = f
}

// SetRevocationCheckers replaces the revocation checker chain. The
// chain is consulted in order; deployments put the local store checker
// first so platform-managed certificates are answered without network
// traffic.
func (r *Registry) SetRevocationCheckers(checkers ...certmgr.RevocationChecker) {
	r.revocation = checkers
}

// CheckCertificateRevocation runs the certificate through the
// revocation checker chain and returns the first supported answer. A
// checker error moves on to the next source. When no source can answer
// the result reports Supported=false, which callers must not read as
// "not revoked".
func (r *Registry) CheckCertificateRevocation(ctx context.Context, certPEM []byte) (certmgr.RevocationStatus, error) {
	cert, err := certgen.ParseCertificatePEM(certPEM)
	if err != nil {
		return certmgr.RevocationStatus{}, err
	}

	for _, checker := range r.revocation {
		status, err := checker.CheckRevocation(ctx, cert)
		if err != nil {
			r.logger.Warnw("revocation source failed",
				"source", status.Source, "serial", cert.SerialNumber.String(), "error", err)
			continue
		}
		if status.Supported {
			return status, nil
		}
	}
	return certmgr.RevocationStatus{Supported: false, Source: "none"}, nil
}

// RegisterCA validates and persists a new CA registration, returning
// its id. The CA joins the trusted set only when registered with high
// trust.
func (r *Registry) RegisterCA(ctx context.Context, in RegisterInput) (string, error) {
	if in.Name == "" {
		return "", fmt.Errorf("ca_name is required")
	}
	if in.Type == certmgr.CATypeExternal && in.BaseURL == "" {
		return "", fmt.Errorf("base_url is required for external CAs")
	}
	if in.TrustLevel == "" {
		in.TrustLevel = certmgr.TrustMedium
	}

	if _, err := certgen.ParseCertificatePEM(in.CertificatePEM); err != nil {
		return "", fmt.Errorf("CA certificate does not parse: %w", err)
	}

	now := r.now().UTC()
	ca := &certmgr.CAInfo{
		CAID:           "ca-" + uuid.New().String(),
		Name:           in.Name,
		Type:           in.Type,
		BaseURL:        in.BaseURL,
		CertificatePEM: string(in.CertificatePEM),
		TrustLevel:     in.TrustLevel,
		IsActive:       true,
		Metadata:       in.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.repo.Insert(ctx, ca); err != nil {
		return "", err
	}

	if ca.TrustLevel == certmgr.TrustHigh {
		if err := r.addTrusted(ca); err != nil {
			return "", err
		}
	}

	r.logger.Infow("registered CA",
		"ca_id", ca.CAID, "name", ca.Name, "type", string(ca.Type), "trust", string(ca.TrustLevel))
	return ca.CAID, nil
}

// SubmitCSR dispatches a certificate request to the CA's signer. The
// result is always structured; transport failures surface in the
// Message, never as a returned error from the signer itself.
func (r *Registry) SubmitCSR(ctx context.Context, caID string, csr *x509.CertificateRequest, opts certmgr.SignOptions) (certmgr.SubmissionResult, error) {
	ca, err := r.repo.Get(ctx, caID)
	if err != nil {
		return certmgr.SubmissionResult{}, err
	}
	if ca == nil {
		return certmgr.SubmissionResult{
			Supported: true,
			Message:   fmt.Sprintf("CA %s is not registered", caID),
		}, nil
	}
	if !ca.IsActive {
		return certmgr.SubmissionResult{
			Supported: true,
			Message:   fmt.Sprintf("CA %s is deactivated", caID),
		}, nil
	}

	result := r.signerFactory(ca).Sign(ctx, csr, opts)
	if !result.OK {
		r.logger.Warnw("CSR submission failed",
			"ca_id", caID, "supported", result.Supported, "message", result.Message)
	}
	return result, nil
}

// ValidateCertificateChain checks a certificate's validity window and
// whether its chain terminates at a CA in the trusted set. The result
// carries structured chain information alongside any errors.
func (r *Registry) ValidateCertificateChain(certPEM []byte, intermediatePEMs [][]byte) *ChainValidation {
	leaf, err := certgen.ParseCertificatePEM(certPEM)
	if err != nil {
		return &ChainValidation{
			IsValid: false,
			Errors:  []string{fmt.Sprintf("certificate does not parse: %v", err)},
		}
	}

	chain := []*x509.Certificate{leaf}
	var errs []string
	for i, pemBytes := range intermediatePEMs {
		cert, err := certgen.ParseCertificatePEM(pemBytes)
		if err != nil {
			errs = append(errs, fmt.Sprintf("intermediate %d does not parse: %v", i, err))
			continue
		}
		chain = append(chain, cert)
	}

	now := r.now().UTC()
	info := &ChainInfo{
		SubjectCN:     leaf.Subject.CommonName,
		IssuerCN:      leaf.Issuer.CommonName,
		SerialNumber:  leaf.SerialNumber.String(),
		NotBefore:     leaf.NotBefore,
		NotAfter:      leaf.NotAfter,
		IsExpired:     now.After(leaf.NotAfter),
		IsNotYetValid: now.Before(leaf.NotBefore),
		ChainLength:   len(chain),
	}

	if info.IsExpired {
		errs = append(errs, "certificate has expired")
	}
	if info.IsNotYetValid {
		errs = append(errs, "certificate is not yet valid")
	}

	r.mu.RLock()
	for _, cert := range chain {
		for _, tc := range r.trusted {
			if cert.Issuer.String() != tc.cert.Subject.String() {
				continue
			}
			if err := cert.CheckSignatureFrom(tc.cert); err != nil {
				continue
			}
			info.IsTrusted = true
			info.TrustedCAName = tc.name
			break
		}
		if info.IsTrusted {
			break
		}
	}
	r.mu.RUnlock()

	if !info.IsTrusted {
		errs = append(errs, "no certificate in the chain was issued by a trusted CA")
	}

	return &ChainValidation{
		IsValid:   len(errs) == 0,
		Errors:    errs,
		ChainInfo: info,
	}
}

// GetCACertificateChain returns the PEM certificates registered for a
// CA, or nil when the id is unknown.
func (r *Registry) GetCACertificateChain(ctx context.Context, caID string) ([][]byte, error) {
	ca, err := r.repo.Get(ctx, caID)
	if err != nil {
		return nil, err
	}
	if ca == nil {
		return nil, nil
	}

	certs, err := certgen.ParseCertificatesPEM([]byte(ca.CertificatePEM))
	if err != nil {
		return nil, fmt.Errorf("registered CA certificate does not parse: %w", err)
	}

	chain := make([][]byte, len(certs))
	for i, cert := range certs {
		chain[i] = certgen.EncodeCertificateDER(cert.Raw)
	}
	return chain, nil
}

// ListCAs returns registrations, optionally filtered by type, sorted
// by name.
func (r *Registry) ListCAs(ctx context.Context, caType certmgr.CAType) ([]*certmgr.CAInfo, error) {
	return r.repo.List(ctx, caType)
}

// UpdateCAStatus activates or deactivates a CA. Deactivation evicts
// the CA from the trusted set. Returns false when the id is unknown.
func (r *Registry) UpdateCAStatus(ctx context.Context, caID string, isActive bool) (bool, error) {
	ca, err := r.repo.Get(ctx, caID)
	if err != nil {
		return false, err
	}
	if ca == nil {
		return false, nil
	}

	ca.IsActive = isActive
	ca.UpdatedAt = r.now().UTC()
	if err := r.repo.Update(ctx, ca); err != nil {
		return false, err
	}

	if isActive && ca.TrustLevel == certmgr.TrustHigh {
		if err := r.addTrusted(ca); err != nil {
			return false, err
		}
	} else {
		r.mu.Lock()
		delete(r.trusted, caID)
		r.mu.Unlock()
	}

	r.logger.Infow("CA status updated", "ca_id", caID, "active", isActive)
	return true, nil
}

// GetCAStatistics summarizes the registry.
func (r *Registry) GetCAStatistics(ctx context.Context) (*Statistics, error) {
	cas, err := r.repo.List(ctx, "")
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		TotalCAs:    len(cas),
		CATypes:     make(map[string]int),
		LastUpdated: r.now().UTC(),
	}
	for _, ca := range cas {
		stats.CATypes[string(ca.Type)]++
		if ca.IsActive {
			stats.ActiveCAs++
		}
	}

	r.mu.RLock()
	stats.TrustedCAs = len(r.trusted)
	r.mu.RUnlock()

	return stats, nil
}

// addTrusted parses a CA certificate and places it in the trusted set.
func (r *Registry) addTrusted(ca *certmgr.CAInfo) error {
	cert, err := certgen.ParseCertificatePEM([]byte(ca.CertificatePEM))
	if err != nil {
		return fmt.Errorf("trusted CA certificate does not parse: %w", err)
	}

	r.mu.Lock()
	r.trusted[ca.CAID] = trustedCA{caID: ca.CAID, name: ca.Name, cert: cert}
	r.mu.Unlock()
	return nil
}
