// Package certgen builds and parses X.509 artifacts: self-signed
// certificates, PKCS#10 certificate requests, and the FIRS e-invoice
// signing profile. The package is stateless; key persistence belongs
// to keymgr and certificate persistence to certstore.
package certgen

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/keymgr"
	"github.com/taxpoynt/certmgr/internal/policy"
)

const (
	certificatePEMType = "CERTIFICATE"
	csrPEMType         = "CERTIFICATE REQUEST"

	// firsOrganizationalUnit is the OU stamped into FIRS e-invoice
	// signing certificates.
	firsOrganizationalUnit = "FIRS E-Invoice"

	// firsCountry is fixed for all FIRS-profile certificates.
	firsCountry = "NG"
)

// ErrInvalidPEM is returned when certificate or CSR input cannot be
// decoded.
var ErrInvalidPEM = errors.New("invalid PEM input")

// CertificateInfo is the structured metadata extracted from a parsed
// certificate.
type CertificateInfo struct {
	Subject            map[string]string `json:"subject"`
	Issuer             map[string]string `json:"issuer"`
	SerialNumber       string            `json:"serial_number"`
	NotValidBefore     time.Time         `json:"not_valid_before"`
	NotValidAfter      time.Time         `json:"not_valid_after"`
	IsSelfSigned       bool              `json:"is_self_signed"`
	KeySize            int               `json:"key_size"`
	SignatureAlgorithm string            `json:"signature_algorithm"`
}

// Generator builds X.509 certificates and certificate requests.
type Generator struct {
	keys *keymgr.Manager
}

// New creates a certificate generator that draws key material from the
// given key manager.
func New(keys *keymgr.Manager) *Generator {
	return &Generator{keys: keys}
}

// GenerateSelfSigned builds a self-signed certificate for the given
// subject. The certificate is its own issuer, carries BasicConstraints
// CA:TRUE with a path length of zero, and is signed with SHA-256.
// Returns the certificate and the new private key, both PEM-encoded.
func (g *Generator) GenerateSelfSigned(subject certmgr.SubjectInfo, validityDays, keySize int) (certPEM, keyPEM []byte, err error) {
	if ok, problems := g.ValidateSubjectInfo(subject); !ok {
		return nil, nil, fmt.Errorf("invalid subject info: %s", strings.Join(problems, "; "))
	}

	privatePEM, _, err := g.keys.GenerateRSAKeyPair(keySize)
	if err != nil {
		return nil, nil, err
	}
	key, err := keymgr.ParsePrivateKeyPEM(privatePEM, nil)
	if err != nil {
		return nil, nil, err
	}

	tmpl, err := certificateTemplate(subject, validityDays, &key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	tmpl.Issuer = tmpl.Subject
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = true
	tmpl.MaxPathLen = 0
	tmpl.MaxPathLenZero = true
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: certificatePEMType, Bytes: der}), privatePEM, nil
}

// GenerateSelfSignedWithKey builds a self-signed certificate for the
// subject using an existing private key instead of generating a new
// one. Used by renewal when the caller asks to keep the key pair.
func (g *Generator) GenerateSelfSignedWithKey(subject certmgr.SubjectInfo, validityDays int, key *rsa.PrivateKey) ([]byte, error) {
	if ok, problems := g.ValidateSubjectInfo(subject); !ok {
		return nil, fmt.Errorf("invalid subject info: %s", strings.Join(problems, "; "))
	}

	tmpl, err := certificateTemplate(subject, validityDays, &key.PublicKey)
	if err != nil {
		return nil, err
	}
	tmpl.Issuer = tmpl.Subject
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = true
	tmpl.MaxPathLen = 0
	tmpl.MaxPathLenZero = true
	tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: certificatePEMType, Bytes: der}), nil
}

// SubjectFromCertificate reconstructs a SubjectInfo from a parsed
// certificate's subject, for renewal paths.
func SubjectFromCertificate(cert *x509.Certificate) certmgr.SubjectInfo {
	subject := certmgr.SubjectInfo{
		CommonName: cert.Subject.CommonName,
	}
	if len(cert.Subject.Organization) > 0 {
		subject.Organization = cert.Subject.Organization[0]
	}
	if len(cert.Subject.OrganizationalUnit) > 0 {
		subject.OrganizationalUnit = cert.Subject.OrganizationalUnit[0]
	}
	if len(cert.Subject.Country) > 0 {
		subject.Country = cert.Subject.Country[0]
	}
	if len(cert.Subject.Province) > 0 {
		subject.State = cert.Subject.Province[0]
	}
	if len(cert.Subject.Locality) > 0 {
		subject.Locality = cert.Subject.Locality[0]
	}
	if len(cert.EmailAddresses) > 0 {
		subject.Email = cert.EmailAddresses[0]
	}
	return subject
}

// GenerateCertificateRequest produces a PKCS#10 CSR for the given
// subject along with the new private key backing it.
func (g *Generator) GenerateCertificateRequest(subject certmgr.SubjectInfo, keySize int) (csrPEM, keyPEM []byte, err error) {
	if ok, problems := g.ValidateSubjectInfo(subject); !ok {
		return nil, nil, fmt.Errorf("invalid subject info: %s", strings.Join(problems, "; "))
	}

	privatePEM, _, err := g.keys.GenerateRSAKeyPair(keySize)
	if err != nil {
		return nil, nil, err
	}
	key, err := keymgr.ParsePrivateKeyPEM(privatePEM, nil)
	if err != nil {
		return nil, nil, err
	}

	tmpl := &x509.CertificateRequest{
		Subject:            subjectName(subject),
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	if subject.Email != "" {
		tmpl.EmailAddresses = []string{subject.Email}
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate request: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: csrPEMType, Bytes: der}), privatePEM, nil
}

// GenerateFIRSCompliant builds a self-signed certificate matching the
// FIRS e-invoice signing profile: country fixed to NG, organizational
// unit fixed to the FIRS e-invoice designation, and validity defaulting
// to the two-year FIRS ceiling.
func (g *Generator) GenerateFIRSCompliant(org certmgr.SubjectInfo, validityDays int) (certPEM, keyPEM []byte, err error) {
	if validityDays <= 0 {
		validityDays = policy.FIRSValidityDays
	}

	org.Country = firsCountry
	org.OrganizationalUnit = firsOrganizationalUnit
	if org.CommonName == "" {
		org.CommonName = org.Organization
	}

	return g.GenerateSelfSigned(org, validityDays, policy.MinRSAKeySize)
}

// ValidateSubjectInfo checks subject attributes and returns a list of
// problems rather than failing on the first. CommonName and
// Organization are required; email and country formats are checked
// when present.
func (g *Generator) ValidateSubjectInfo(subject certmgr.SubjectInfo) (bool, []string) {
	var problems []string

	if strings.TrimSpace(subject.CommonName) == "" {
		problems = append(problems, "common_name is required")
	}
	if strings.TrimSpace(subject.Organization) == "" {
		problems = append(problems, "organization_name is required")
	}
	if subject.Email != "" && !strings.Contains(subject.Email, "@") {
		problems = append(problems, fmt.Sprintf("invalid email address: %s", subject.Email))
	}
	if subject.Country != "" && len(subject.Country) != 2 {
		problems = append(problems, fmt.Sprintf("country_name must be a 2-letter code, got %q", subject.Country))
	}

	return len(problems) == 0, problems
}

// ExtractInfo parses a PEM certificate into structured metadata.
func (g *Generator) ExtractInfo(certPEM []byte) (*CertificateInfo, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}

	info := &CertificateInfo{
		Subject:            nameToMap(cert.Subject),
		Issuer:             nameToMap(cert.Issuer),
		SerialNumber:       cert.SerialNumber.String(),
		NotValidBefore:     cert.NotBefore,
		NotValidAfter:      cert.NotAfter,
		IsSelfSigned:       cert.Subject.String() == cert.Issuer.String(),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
	}

	if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
		info.KeySize = pub.N.BitLen()
	}

	return info, nil
}

// certificateTemplate builds the base certificate template shared by
// all generation paths: random 128-bit serial, RFC 5280 subject key
// identifier, validity clamped to the policy ceiling.
func certificateTemplate(subject certmgr.SubjectInfo, validityDays int, pub crypto.PublicKey) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Exp(big.NewInt(2), big.NewInt(128), nil))
	if err != nil {
		return nil, fmt.Errorf("failed to make serial number: %w", err)
	}

	ski, err := makePublicKeyIdentifier(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to make public key identifier: %w", err)
	}

	validityDays = policy.ClampValidity(validityDays)
	now := time.Now().UTC()

	tmpl := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            subjectName(subject),
		NotBefore:          now,
		NotAfter:           now.AddDate(0, 0, validityDays),
		SubjectKeyId:       ski,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	if subject.Email != "" {
		tmpl.EmailAddresses = []string{subject.Email}
	}

	return tmpl, nil
}

// subjectName converts SubjectInfo to a pkix.Name.
func subjectName(subject certmgr.SubjectInfo) pkix.Name {
	name := pkix.Name{
		CommonName: subject.CommonName,
	}
	if subject.Organization != "" {
		name.Organization = []string{subject.Organization}
	}
	if subject.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{subject.OrganizationalUnit}
	}
	if subject.Country != "" {
		name.Country = []string{strings.ToUpper(subject.Country)}
	}
	if subject.State != "" {
		name.Province = []string{subject.State}
	}
	if subject.Locality != "" {
		name.Locality = []string{subject.Locality}
	}
	return name
}

// nameToMap flattens a pkix.Name into the string map exposed in
// CertificateInfo. Missing common names map to "Unknown".
func nameToMap(name pkix.Name) map[string]string {
	m := map[string]string{}
	if name.CommonName != "" {
		m["common_name"] = name.CommonName
	} else {
		m["common_name"] = "Unknown"
	}
	if len(name.Organization) > 0 {
		m["organization_name"] = name.Organization[0]
	}
	if len(name.OrganizationalUnit) > 0 {
		m["organizational_unit"] = name.OrganizationalUnit[0]
	}
	if len(name.Country) > 0 {
		m["country_name"] = name.Country[0]
	}
	if len(name.Province) > 0 {
		m["state"] = name.Province[0]
	}
	if len(name.Locality) > 0 {
		m["city"] = name.Locality[0]
	}
	return m
}

// makePublicKeyIdentifier builds a public key identifier in accordance
// with the first method described in RFC 5280 section 4.2.1.2.
func makePublicKeyIdentifier(pub crypto.PublicKey) ([]byte, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}

	id := sha1.Sum(keyBytes)

	return id[:], nil
}

// ParseCertificatePEM decodes and parses a single PEM certificate.
func ParseCertificatePEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != certificatePEMType {
		return nil, fmt.Errorf("%w: expected a CERTIFICATE block", ErrInvalidPEM)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// ParseCertificatesPEM decodes and parses every certificate block in
// the input, in order.
func ParseCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != certificatePEMType {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificates found", ErrInvalidPEM)
	}
	return certs, nil
}

// ParseCSRPEM decodes and parses a PEM certificate request.
func ParseCSRPEM(csrPEM []byte) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != csrPEMType {
		return nil, fmt.Errorf("%w: expected a CERTIFICATE REQUEST block", ErrInvalidPEM)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate request: %w", err)
	}
	return csr, nil
}

// EncodeCertificateDER wraps raw DER bytes in a certificate PEM block.
func EncodeCertificateDER(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: certificatePEMType, Bytes: der})
}

// EncodeCSRDER wraps raw DER bytes in a certificate request PEM block.
func EncodeCSRDER(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: csrPEMType, Bytes: der})
}
