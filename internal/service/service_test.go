package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/alogger"
	"github.com/taxpoynt/certmgr/internal/caintegration"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/certstore"
	"github.com/taxpoynt/certmgr/internal/db"
	"github.com/taxpoynt/certmgr/internal/keymgr"
	"gorm.io/gorm"
)

type serviceHarness struct {
	svc      *CertificateService
	requests *CertificateRequestService
	store    *certstore.Store
	keys     *keymgr.Manager
	gen      *certgen.Generator
	registry *caintegration.Registry
	conn     *gorm.DB
}

func newTestService(t *testing.T) *serviceHarness {
	t.Helper()

	dir := t.TempDir()
	logger := alogger.New(io.Discard, zerolog.Disabled)

	conn, err := db.Open("sqlite", filepath.Join(dir, "certmgr.db"), logger,
		&certstore.CertificateRecord{}, &caintegration.CARecord{}, &RequestRecord{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close(conn) })

	store, err := certstore.New(certstore.NewGormRepository(conn), filepath.Join(dir, "certificates"), logger)
	if err != nil {
		t.Fatalf("failed to create certificate store: %v", err)
	}
	keys, err := keymgr.New(filepath.Join(dir, "keys"), logger)
	if err != nil {
		t.Fatalf("failed to create key manager: %v", err)
	}
	registry, err := caintegration.NewRegistry(context.Background(), caintegration.NewGormCARepository(conn), logger)
	if err != nil {
		t.Fatalf("failed to create CA registry: %v", err)
	}
	registry.SetRevocationCheckers(
		&caintegration.StoreRevocationChecker{Store: store},
		caintegration.NewCRLChecker(),
	)

	gen := certgen.New(keys)
	svc := NewCertificateService(store, gen, keys, registry, logger)
	return &serviceHarness{
		svc:      svc,
		requests: NewCertificateRequestService(conn, svc, logger),
		store:    store,
		keys:     keys,
		gen:      gen,
		registry: registry,
		conn:     conn,
	}
}

func certstoreInput(certPEM []byte) certstore.StoreInput {
	return certstore.StoreInput{
		PEM:             certPEM,
		OrganizationID:  "org-001",
		CertificateType: "general",
	}
}

func serviceSubject() certmgr.SubjectInfo {
	return certmgr.SubjectInfo{
		CommonName:   "invoice.acme.ng",
		Organization: "Acme Nigeria Ltd",
		Country:      "NG",
		State:        "Lagos",
		Locality:     "Ikeja",
		Email:        "ops@acme.ng",
	}
}

// registerSigningCA issues a self-signed CA, registers it with high
// trust, and pins the registry's signer to a local signer backed by
// the same CA material. Returns the CA id.
func registerSigningCA(t *testing.T, h *serviceHarness) string {
	t.Helper()
	ctx := context.Background()

	caPEM, caKeyPEM, err := h.gen.GenerateSelfSigned(certmgr.SubjectInfo{
		CommonName:   "TaxPoynt Issuing CA",
		Organization: "TaxPoynt",
		Country:      "NG",
	}, 730, 2048)
	if err != nil {
		t.Fatalf("failed to generate CA certificate: %v", err)
	}

	caCert, err := certgen.ParseCertificatePEM(caPEM)
	if err != nil {
		t.Fatalf("failed to parse CA certificate: %v", err)
	}
	caKey, err := keymgr.ParsePrivateKeyPEM(caKeyPEM, nil)
	if err != nil {
		t.Fatalf("failed to parse CA key: %v", err)
	}
	signer, err := caintegration.NewLocalSigner(caCert, caKey)
	if err != nil {
		t.Fatalf("failed to create local signer: %v", err)
	}
	h.registry.SetSignerFactory(func(ca *certmgr.CAInfo) certmgr.CASigner {
		return signer
	})

	caID, err := h.registry.RegisterCA(ctx, caintegration.RegisterInput{
		Name:           "TaxPoynt Issuing CA",
		Type:           certmgr.CATypeInternal,
		CertificatePEM: caPEM,
		TrustLevel:     certmgr.TrustHigh,
	})
	if err != nil {
		t.Fatalf("failed to register CA: %v", err)
	}
	return caID
}

func TestIssueSelfSignedStoresKeyAndCertificate(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	id, err := h.svc.IssueSelfSigned(ctx, serviceSubject(), "org-001", "general", 365, 2048)
	if err != nil {
		t.Fatalf("IssueSelfSigned failed: %v", err)
	}

	record, err := h.store.GetCertificateInfo(ctx, id)
	if err != nil || record == nil {
		t.Fatalf("stored certificate not found: %v", err)
	}
	if record.SubjectCN != "invoice.acme.ng" {
		t.Errorf("subject CN = %q", record.SubjectCN)
	}
	if record.Status != certmgr.StatusActive {
		t.Errorf("status = %s, want active", record.Status)
	}
	if record.KeyReference == "" {
		t.Fatal("certificate has no key reference")
	}
	if _, err := os.Stat(record.KeyReference); err != nil {
		t.Errorf("key reference does not point at a stored key: %v", err)
	}
}

func TestIssueFIRSCompliant(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	id, err := h.svc.IssueFIRSCompliant(ctx, certmgr.SubjectInfo{
		Organization: "Acme Nigeria Ltd",
	}, "org-001", 0)
	if err != nil {
		t.Fatalf("IssueFIRSCompliant failed: %v", err)
	}

	record, err := h.store.GetCertificateInfo(ctx, id)
	if err != nil || record == nil {
		t.Fatalf("stored certificate not found: %v", err)
	}
	if record.CertificateType != "firs_einvoice" {
		t.Errorf("certificate type = %q", record.CertificateType)
	}
	if record.Metadata["firs_compliant"] != "true" {
		t.Errorf("metadata = %v, want firs_compliant=true", record.Metadata)
	}
	if record.KeyReference == "" {
		t.Error("certificate has no key reference")
	}
}

func TestPerformComplianceCheck(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	good, err := h.svc.IssueFIRSCompliant(ctx, certmgr.SubjectInfo{
		Organization: "Acme Nigeria Ltd",
	}, "org-001", 0)
	if err != nil {
		t.Fatalf("IssueFIRSCompliant failed: %v", err)
	}

	result, err := h.svc.PerformComplianceCheck(ctx, good, "")
	if err != nil {
		t.Fatalf("PerformComplianceCheck failed: %v", err)
	}
	if !result.IsCompliant {
		t.Errorf("expected compliant, issues: %v", result.Issues)
	}
	if result.Standard != "firs" {
		t.Errorf("standard = %q, want firs (defaulted)", result.Standard)
	}

	foreign := serviceSubject()
	foreign.Country = "US"
	bad, err := h.svc.IssueSelfSigned(ctx, foreign, "org-001", "firs_einvoice", 365, 2048)
	if err != nil {
		t.Fatalf("IssueSelfSigned failed: %v", err)
	}
	result, err = h.svc.PerformComplianceCheck(ctx, bad, "firs")
	if err != nil {
		t.Fatalf("PerformComplianceCheck failed: %v", err)
	}
	if result.IsCompliant {
		t.Error("US-country e-invoice certificate reported compliant")
	}
	if len(result.Recommendations) == 0 {
		t.Error("non-compliant result carries no recommendations")
	}

	if _, err := h.svc.PerformComplianceCheck(ctx, good, "etsi"); err == nil {
		t.Error("unsupported standard accepted")
	}
}

func TestCreateCertificateChain(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	// A self-signed certificate is its own one-element chain.
	selfID, err := h.svc.IssueSelfSigned(ctx, serviceSubject(), "org-001", "general", 365, 2048)
	if err != nil {
		t.Fatalf("IssueSelfSigned failed: %v", err)
	}
	chain, err := h.svc.CreateCertificateChain(ctx, selfID, true)
	if err != nil {
		t.Fatalf("CreateCertificateChain failed: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("self-signed chain length = %d, want 1", len(chain))
	}

	// A CA-issued certificate chains up to its registered issuer.
	caID := registerSigningCA(t, h)
	reqID, _, _, err := h.requests.CreateCertificateRequest(ctx, serviceSubject(), "org-001", "general", 2048)
	if err != nil {
		t.Fatalf("CreateCertificateRequest failed: %v", err)
	}
	ok, msg, issuedID, err := h.requests.SubmitRequestToCA(ctx, reqID, caID, 365)
	if err != nil || !ok {
		t.Fatalf("SubmitRequestToCA failed: ok=%v msg=%q err=%v", ok, msg, err)
	}

	chain, err = h.svc.CreateCertificateChain(ctx, issuedID, true)
	if err != nil {
		t.Fatalf("CreateCertificateChain failed: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("issued chain length = %d, want 2", len(chain))
	}
	root, err := certgen.ParseCertificatePEM(chain[1])
	if err != nil {
		t.Fatalf("chain root does not parse: %v", err)
	}
	if root.Subject.CommonName != "TaxPoynt Issuing CA" {
		t.Errorf("chain root CN = %q", root.Subject.CommonName)
	}

	chain, err = h.svc.CreateCertificateChain(ctx, issuedID, false)
	if err != nil {
		t.Fatalf("CreateCertificateChain failed: %v", err)
	}
	if len(chain) != 1 {
		t.Errorf("chain without root length = %d, want 1", len(chain))
	}
}

func TestCreateCertificateChainUnknownCertificate(t *testing.T) {
	h := newTestService(t)

	if _, err := h.svc.CreateCertificateChain(context.Background(), "cert-missing", true); err == nil {
		t.Error("expected error for unknown certificate")
	}
}
