package caintegration

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/alogger"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/certstore"
	"github.com/taxpoynt/certmgr/internal/db"
	"github.com/taxpoynt/certmgr/internal/keymgr"
)

func newRevocationStore(t *testing.T) (*certstore.Store, *certgen.Generator) {
	t.Helper()
	dir := t.TempDir()
	logger := alogger.New(io.Discard, zerolog.Disabled)

	conn, err := db.Open("sqlite", filepath.Join(dir, "certs.db"), logger, &certstore.CertificateRecord{})
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { db.Close(conn) })

	store, err := certstore.New(certstore.NewGormRepository(conn), filepath.Join(dir, "certificates"), logger)
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	keys, err := keymgr.New(filepath.Join(dir, "keys"), logger)
	if err != nil {
		t.Fatalf("keymgr.New: %v", err)
	}
	return store, certgen.New(keys)
}

// storeSelfSigned issues a self-signed certificate and stores it,
// returning the store id and the parsed certificate.
func storeSelfSigned(t *testing.T, store *certstore.Store, gen *certgen.Generator, cn string) (string, *x509.Certificate, []byte) {
	t.Helper()

	certPEM, _, err := gen.GenerateSelfSigned(certmgr.SubjectInfo{
		CommonName:   cn,
		Organization: "TaxPoynt",
		Country:      "NG",
	}, 365, 2048)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	id, err := store.StoreCertificate(context.Background(), certstore.StoreInput{
		PEM:             certPEM,
		OrganizationID:  "org-001",
		CertificateType: "general",
	})
	if err != nil {
		t.Fatalf("StoreCertificate: %v", err)
	}
	cert, err := certgen.ParseCertificatePEM(certPEM)
	if err != nil {
		t.Fatalf("ParseCertificatePEM: %v", err)
	}
	return id, cert, certPEM
}

func TestUnsupportedCheckerReportsUnsupported(t *testing.T) {
	status, err := UnsupportedChecker{}.CheckRevocation(context.Background(), &x509.Certificate{})
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if status.Supported {
		t.Error("reported supported")
	}
	if status.Revoked {
		t.Error("reported revoked")
	}
}

func TestStoreRevocationChecker(t *testing.T) {
	ctx := context.Background()
	store, gen := newRevocationStore(t)
	checker := &StoreRevocationChecker{Store: store}

	id, cert, _ := storeSelfSigned(t, store, gen, "revocable.taxpoynt.ng")

	status, err := checker.CheckRevocation(ctx, cert)
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if !status.Supported || status.Revoked {
		t.Errorf("active certificate: supported=%v revoked=%v", status.Supported, status.Revoked)
	}

	ok, err := store.UpdateCertificateStatus(ctx, id, certmgr.StatusRevoked, map[string]string{
		"revocation_reason": "key compromise",
		"revocation_date":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil || !ok {
		t.Fatalf("failed to revoke: ok=%v err=%v", ok, err)
	}

	status, err = checker.CheckRevocation(ctx, cert)
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if !status.Revoked {
		t.Error("revoked certificate reported clean")
	}
	if status.Reason != "key compromise" {
		t.Errorf("reason = %q", status.Reason)
	}
	if status.RevokedAt.IsZero() {
		t.Error("no revocation time reported")
	}

	// A certificate the store has never seen cannot be answered for.
	strangerPEM, _, err := gen.GenerateSelfSigned(certmgr.SubjectInfo{
		CommonName:   "stranger.taxpoynt.ng",
		Organization: "TaxPoynt",
		Country:      "NG",
	}, 365, 2048)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	stranger, err := certgen.ParseCertificatePEM(strangerPEM)
	if err != nil {
		t.Fatalf("ParseCertificatePEM: %v", err)
	}
	status, err = checker.CheckRevocation(ctx, stranger)
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if status.Supported {
		t.Error("unmanaged certificate reported as supported")
	}
}

// crlFixture builds a CA, two leaves, and a CRL revoking the first
// leaf, served over HTTP.
type crlFixture struct {
	revoked *x509.Certificate
	clean   *x509.Certificate
	server  *httptest.Server
}

func newCRLFixture(t *testing.T) *crlFixture {
	t.Helper()
	now := time.Now().UTC()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate CA key: %v", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "CRL Test CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(1, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("failed to parse CA certificate: %v", err)
	}

	crlDER, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: now,
		NextUpdate: now.Add(24 * time.Hour),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: big.NewInt(100), RevocationTime: now},
		},
	}, caCert, caKey)
	if err != nil {
		t.Fatalf("failed to create CRL: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pkix-crl")
		w.Write(crlDER)
	}))
	t.Cleanup(server.Close)

	leaf := func(serial int64) *x509.Certificate {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate leaf key: %v", err)
		}
		tmpl := &x509.Certificate{
			SerialNumber:          big.NewInt(serial),
			Subject:               pkix.Name{CommonName: "leaf.taxpoynt.ng"},
			NotBefore:             now.Add(-time.Hour),
			NotAfter:              now.AddDate(0, 6, 0),
			CRLDistributionPoints: []string{server.URL + "/ca.crl"},
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
		if err != nil {
			t.Fatalf("failed to create leaf certificate: %v", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			t.Fatalf("failed to parse leaf certificate: %v", err)
		}
		return cert
	}

	return &crlFixture{
		revoked: leaf(100),
		clean:   leaf(200),
		server:  server,
	}
}

func TestCRLChecker(t *testing.T) {
	ctx := context.Background()
	fixture := newCRLFixture(t)
	checker := NewCRLChecker()

	status, err := checker.CheckRevocation(ctx, fixture.revoked)
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if !status.Supported || !status.Revoked {
		t.Errorf("revoked leaf: supported=%v revoked=%v", status.Supported, status.Revoked)
	}
	if status.RevokedAt.IsZero() {
		t.Error("no revocation time reported")
	}

	status, err = checker.CheckRevocation(ctx, fixture.clean)
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if !status.Supported || status.Revoked {
		t.Errorf("clean leaf: supported=%v revoked=%v", status.Supported, status.Revoked)
	}

	// No distribution points means the CRL source cannot answer.
	status, err = checker.CheckRevocation(ctx, &x509.Certificate{})
	if err != nil {
		t.Fatalf("CheckRevocation failed: %v", err)
	}
	if status.Supported {
		t.Error("certificate without distribution points reported supported")
	}
}

func TestRegistryRevocationChain(t *testing.T) {
	ctx := context.Background()
	registry, gen := newTestRegistry(t)
	fixture := newCRLFixture(t)

	// The default chain answers through CRL distribution points.
	status, err := registry.CheckCertificateRevocation(ctx, certgen.EncodeCertificateDER(fixture.revoked.Raw))
	if err != nil {
		t.Fatalf("CheckCertificateRevocation failed: %v", err)
	}
	if !status.Supported || !status.Revoked {
		t.Errorf("CRL-revoked leaf: supported=%v revoked=%v", status.Supported, status.Revoked)
	}

	// No source can answer for a plain self-signed certificate.
	plainPEM, _, err := gen.GenerateSelfSigned(certmgr.SubjectInfo{
		CommonName:   "plain.taxpoynt.ng",
		Organization: "TaxPoynt",
		Country:      "NG",
	}, 365, 2048)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	status, err = registry.CheckCertificateRevocation(ctx, plainPEM)
	if err != nil {
		t.Fatalf("CheckCertificateRevocation failed: %v", err)
	}
	if status.Supported {
		t.Error("certificate without any revocation source reported supported")
	}

	// A store checker at the head of the chain answers for managed
	// certificates without touching the network.
	store, storeGen := newRevocationStore(t)
	id, _, managedPEM := storeSelfSigned(t, store, storeGen, "managed.taxpoynt.ng")
	ok, err := store.UpdateCertificateStatus(ctx, id, certmgr.StatusRevoked, map[string]string{
		"revocation_reason": "superseded",
	})
	if err != nil || !ok {
		t.Fatalf("failed to revoke: ok=%v err=%v", ok, err)
	}
	registry.SetRevocationCheckers(&StoreRevocationChecker{Store: store}, NewCRLChecker())

	status, err = registry.CheckCertificateRevocation(ctx, managedPEM)
	if err != nil {
		t.Fatalf("CheckCertificateRevocation failed: %v", err)
	}
	if !status.Revoked {
		t.Error("store-revoked certificate reported clean")
	}
	if status.Source != "store" {
		t.Errorf("source = %q, want store", status.Source)
	}

	if _, err := registry.CheckCertificateRevocation(ctx, []byte("not a certificate")); err == nil {
		t.Error("garbage PEM accepted")
	}
}
