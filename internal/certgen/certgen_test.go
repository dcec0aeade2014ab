package certgen

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/alogger"
	"github.com/taxpoynt/certmgr/internal/keymgr"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	keys, err := keymgr.New(t.TempDir(), alogger.New(io.Discard, zerolog.Disabled))
	if err != nil {
		t.Fatalf("keymgr.New: %v", err)
	}
	return New(keys)
}

var testSubject = certmgr.SubjectInfo{
	CommonName:   "invoice.acme.ng",
	Organization: "Acme Nigeria Ltd",
	Country:      "NG",
	State:        "Lagos",
	Locality:     "Ikeja",
	Email:        "ops@acme.ng",
}

func TestGenerateSelfSignedRoundTrip(t *testing.T) {
	g := newTestGenerator(t)

	certPEM, keyPEM, err := g.GenerateSelfSigned(testSubject, 365, 2048)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	if len(keyPEM) == 0 {
		t.Fatalf("no private key returned")
	}

	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		t.Fatalf("ParseCertificatePEM: %v", err)
	}

	if cert.Subject.CommonName != testSubject.CommonName {
		t.Errorf("common name = %q, want %q", cert.Subject.CommonName, testSubject.CommonName)
	}
	if !cert.IsCA || !cert.BasicConstraintsValid {
		t.Errorf("self-signed certificate is not a CA")
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		t.Errorf("certificate does not verify against itself: %v", err)
	}

	got := SubjectFromCertificate(cert)
	if got != testSubject {
		t.Errorf("subject round trip mismatch:\n got %+v\nwant %+v", got, testSubject)
	}
}

func TestGenerateSelfSignedClampsValidity(t *testing.T) {
	g := newTestGenerator(t)

	certPEM, _, err := g.GenerateSelfSigned(testSubject, 5000, 2048)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		t.Fatalf("ParseCertificatePEM: %v", err)
	}

	maxAfter := time.Now().UTC().AddDate(0, 0, 731)
	if cert.NotAfter.After(maxAfter) {
		t.Errorf("NotAfter %v exceeds the two-year ceiling", cert.NotAfter)
	}
}

func TestGenerateSelfSignedRejectsBadSubject(t *testing.T) {
	g := newTestGenerator(t)

	_, _, err := g.GenerateSelfSigned(certmgr.SubjectInfo{}, 365, 2048)
	if err == nil {
		t.Fatalf("empty subject accepted")
	}
}

func TestGenerateCertificateRequest(t *testing.T) {
	g := newTestGenerator(t)

	csrPEM, keyPEM, err := g.GenerateCertificateRequest(testSubject, 2048)
	if err != nil {
		t.Fatalf("GenerateCertificateRequest: %v", err)
	}
	if len(keyPEM) == 0 {
		t.Fatalf("no private key returned")
	}

	csr, err := ParseCSRPEM(csrPEM)
	if err != nil {
		t.Fatalf("ParseCSRPEM: %v", err)
	}
	if err := csr.CheckSignature(); err != nil {
		t.Errorf("CSR signature invalid: %v", err)
	}
	if csr.Subject.CommonName != testSubject.CommonName {
		t.Errorf("CSR common name = %q, want %q", csr.Subject.CommonName, testSubject.CommonName)
	}
}

func TestGenerateFIRSCompliant(t *testing.T) {
	g := newTestGenerator(t)

	certPEM, _, err := g.GenerateFIRSCompliant(certmgr.SubjectInfo{
		Organization: "Acme Nigeria Ltd",
	}, 0)
	if err != nil {
		t.Fatalf("GenerateFIRSCompliant: %v", err)
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		t.Fatalf("ParseCertificatePEM: %v", err)
	}

	if len(cert.Subject.Country) == 0 || cert.Subject.Country[0] != "NG" {
		t.Errorf("country = %v, want [NG]", cert.Subject.Country)
	}
	if cert.Subject.CommonName != "Acme Nigeria Ltd" {
		t.Errorf("common name not defaulted from organization: %q", cert.Subject.CommonName)
	}

	days := int(cert.NotAfter.Sub(cert.NotBefore).Hours() / 24)
	if days != 730 {
		t.Errorf("validity = %d days, want 730", days)
	}
}

func TestValidateSubjectInfo(t *testing.T) {
	g := newTestGenerator(t)

	ok, problems := g.ValidateSubjectInfo(testSubject)
	if !ok || len(problems) != 0 {
		t.Errorf("valid subject rejected: %v", problems)
	}

	ok, problems = g.ValidateSubjectInfo(certmgr.SubjectInfo{
		Email:   "not-an-email",
		Country: "Nigeria",
	})
	if ok {
		t.Fatalf("invalid subject accepted")
	}
	if len(problems) != 4 {
		t.Errorf("got %d problems, want 4: %v", len(problems), problems)
	}
}

func TestExtractInfo(t *testing.T) {
	g := newTestGenerator(t)

	certPEM, _, err := g.GenerateSelfSigned(testSubject, 365, 2048)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}

	info, err := g.ExtractInfo(certPEM)
	if err != nil {
		t.Fatalf("ExtractInfo: %v", err)
	}
	if !info.IsSelfSigned {
		t.Errorf("self-signed certificate not reported as self-signed")
	}
	if info.KeySize != 2048 {
		t.Errorf("key size = %d, want 2048", info.KeySize)
	}
	if info.Subject["common_name"] != testSubject.CommonName {
		t.Errorf("subject map missing common name: %v", info.Subject)
	}
}

func TestExtractInfoRejectsGarbage(t *testing.T) {
	g := newTestGenerator(t)

	if _, err := g.ExtractInfo([]byte("not a certificate")); err == nil {
		t.Fatalf("garbage input accepted")
	}
}
