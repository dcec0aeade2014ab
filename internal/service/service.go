// Package service composes the certificate components into the
// workflows callers actually need: issue-and-store, sign and verify
// invoice payloads, export, chain assembly, compliance checks, and the
// CA request workflow.
package service

import (
	"context"
	"fmt"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/caintegration"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/certstore"
	"github.com/taxpoynt/certmgr/internal/common"
	"github.com/taxpoynt/certmgr/internal/keymgr"
	"github.com/taxpoynt/certmgr/internal/lifecycle"
)

// maxChainDepth bounds chain assembly against issuer loops.
const maxChainDepth = 10

// ComplianceResult is the single-certificate compliance verdict.
type ComplianceResult struct {
	CertificateID   string   `json:"certificate_id"`
	Standard        string   `json:"compliance_standard"`
	IsCompliant     bool     `json:"is_compliant"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// CertificateService is the caller-facing orchestration layer over the
// store, generator, key manager and CA registry.
type CertificateService struct {
	store    *certstore.Store
	gen      *certgen.Generator
	keys     *keymgr.Manager
	registry *caintegration.Registry
	logger   common.Logger
}

// NewCertificateService wires the orchestration layer.
func NewCertificateService(
	store *certstore.Store,
	gen *certgen.Generator,
	keys *keymgr.Manager,
	registry *caintegration.Registry,
	logger common.Logger,
) *CertificateService {
	return &CertificateService{
		store:    store,
		gen:      gen,
		keys:     keys,
		registry: registry,
		logger:   logger.With("component", "service"),
	}
}

// IssueSelfSigned generates a self-signed certificate, persists the
// private key and the certificate, and links the two through the
// certificate's key reference in a single workflow.
func (s *CertificateService) IssueSelfSigned(ctx context.Context, subject certmgr.SubjectInfo, organizationID, certificateType string, validityDays, keySize int) (string, error) {
	certPEM, keyPEM, err := s.gen.GenerateSelfSigned(subject, validityDays, keySize)
	if err != nil {
		return "", err
	}

	keyRef, err := s.keys.StoreKey(keyPEM, subject.CommonName, "private")
	if err != nil {
		return "", err
	}

	return s.store.StoreCertificate(ctx, certstore.StoreInput{
		PEM:             certPEM,
		OrganizationID:  organizationID,
		CertificateType: certificateType,
		KeyReference:    keyRef,
	})
}

// IssueFIRSCompliant generates and stores a FIRS e-invoice signing
// certificate for an organization.
func (s *CertificateService) IssueFIRSCompliant(ctx context.Context, org certmgr.SubjectInfo, organizationID string, validityDays int) (string, error) {
	certPEM, keyPEM, err := s.gen.GenerateFIRSCompliant(org, validityDays)
	if err != nil {
		return "", err
	}

	keyRef, err := s.keys.StoreKey(keyPEM, org.Organization, "private")
	if err != nil {
		return "", err
	}

	return s.store.StoreCertificate(ctx, certstore.StoreInput{
		PEM:             certPEM,
		OrganizationID:  organizationID,
		CertificateType: "firs_einvoice",
		KeyReference:    keyRef,
		Metadata:        map[string]string{"firs_compliant": "true"},
	})
}

// CreateCertificateChain assembles the PEM chain for a certificate
// from leaf to root, resolving issuers against the registered CAs.
// Assembly stops at a self-signed certificate or when no registered CA
// matches the next issuer. When includeRoot is false the final
// self-signed certificate is omitted.
func (s *CertificateService) CreateCertificateChain(ctx context.Context, certificateID string, includeRoot bool) ([][]byte, error) {
	leafPEM, err := s.store.RetrieveCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if leafPEM == nil {
		return nil, fmt.Errorf("certificate %s not found", certificateID)
	}

	cas, err := s.registry.ListCAs(ctx, "")
	if err != nil {
		return nil, err
	}

	var chain [][]byte
	currentPEM := leafPEM
	for depth := 0; depth < maxChainDepth; depth++ {
		cert, err := certgen.ParseCertificatePEM(currentPEM)
		if err != nil {
			return nil, err
		}

		selfSigned := cert.Subject.String() == cert.Issuer.String()
		if selfSigned && depth > 0 && !includeRoot {
			break
		}
		chain = append(chain, currentPEM)
		if selfSigned {
			break
		}

		next := findIssuerPEM(cas, cert.Issuer.String())
		if next == nil {
			break
		}
		currentPEM = next
	}

	return chain, nil
}

// findIssuerPEM locates the registered CA certificate whose subject
// matches the given issuer name.
func findIssuerPEM(cas []*certmgr.CAInfo, issuer string) []byte {
	for _, ca := range cas {
		cert, err := certgen.ParseCertificatePEM([]byte(ca.CertificatePEM))
		if err != nil {
			continue
		}
		if cert.Subject.String() == issuer {
			return []byte(ca.CertificatePEM)
		}
	}
	return nil
}

// PerformComplianceCheck evaluates one certificate against a named
// compliance standard. Only "firs" has concrete rules today; the
// standard is a string so further regimes can be added without a
// signature change.
func (s *CertificateService) PerformComplianceCheck(ctx context.Context, certificateID, standard string) (*ComplianceResult, error) {
	if standard == "" {
		standard = "firs"
	}
	if standard != "firs" {
		return nil, fmt.Errorf("unsupported compliance standard %q", standard)
	}

	record, err := s.store.GetCertificateInfo(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("certificate %s not found", certificateID)
	}

	certPEM, err := s.store.RetrieveCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}

	issues := lifecycle.EvaluateCertificate(record, certPEM)
	result := &ComplianceResult{
		CertificateID: certificateID,
		Standard:      standard,
		IsCompliant:   len(issues) == 0,
		Issues:        issues,
	}
	if !result.IsCompliant {
		result.Recommendations = append(result.Recommendations,
			"address the listed issues and reissue before the next FIRS submission window")
	}
	return result, nil
}

// Store exposes the underlying certificate store for read paths the
// facade forwards unchanged.
func (s *CertificateService) Store() *certstore.Store {
	return s.store
}

// Registry exposes the CA registry.
func (s *CertificateService) Registry() *caintegration.Registry {
	return s.registry
}
