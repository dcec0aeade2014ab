package service

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/keymgr"
)

// signatureAlgorithm names the only signing scheme the platform
// produces. Verification rejects anything else.
const signatureAlgorithm = "RSA-PSS-SHA256"

// ErrNoPrivateKey is returned when no private key can be located for a
// certificate.
var ErrNoPrivateKey = errors.New("no private key found for certificate")

// SignOptions tunes payload signing.
type SignOptions struct {
	// PrivateKeyPath overrides key lookup with an explicit path.
	PrivateKeyPath string
	// Passphrase decrypts the private key when it is encrypted at rest.
	Passphrase []byte
}

// SignData signs a payload with the private key belonging to a stored
// certificate using RSA-PSS over SHA-256. The key is located through
// the certificate's key reference; an explicit path wins, and a
// filename match on the subject common name remains as a fallback for
// records predating key references.
func (s *CertificateService) SignData(ctx context.Context, data []byte, certificateID string, opts SignOptions) (*certmgr.SignatureInfo, error) {
	record, err := s.store.GetCertificateInfo(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("certificate %s not found", certificateID)
	}

	keyPath, err := s.locatePrivateKey(record, opts.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	keyPEM, err := s.keys.LoadKey(keyPath, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	key, err := keymgr.ParsePrivateKeyPEM(keyPEM, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(data)
	signature, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign data: %w", err)
	}

	s.logger.Infow("signed payload",
		"certificate_id", certificateID, "bytes", len(data))

	return &certmgr.SignatureInfo{
		Signature:              base64.StdEncoding.EncodeToString(signature),
		Algorithm:              signatureAlgorithm,
		CertificateID:          certificateID,
		CertificateFingerprint: record.Fingerprint,
		SignedAt:               time.Now().UTC(),
		DataHash:               hex.EncodeToString(digest[:]),
	}, nil
}

// locatePrivateKey resolves the private key path for a certificate:
// explicit path, then the record's key reference, then a filename
// match against the subject common name.
func (s *CertificateService) locatePrivateKey(record *certmgr.StoredCertificate, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if record.KeyReference != "" {
		return record.KeyReference, nil
	}

	// Legacy records carry no key reference; fall back to matching
	// stored key filenames on the subject CN. Ambiguity resolves to
	// the newest key.
	matches, err := s.keys.FindKeyFiles(record.SubjectCN)
	if err != nil {
		return "", err
	}
	for _, path := range matches {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoPrivateKey, record.CertificateID)
}

// VerifySignature verifies a payload against a SignatureInfo. The
// overall verdict is the conjunction of three independent checks: the
// RSA-PSS signature, the payload hash recorded at signing time, and
// the certificate's validity (trusted chain or registered self-signed
// issuer, and a live store status). Each component outcome is reported
// so a caller can render exactly what failed.
func (s *CertificateService) VerifySignature(ctx context.Context, data []byte, info *certmgr.SignatureInfo, certificateID string) *certmgr.VerificationResult {
	result := &certmgr.VerificationResult{VerifiedAt: time.Now().UTC()}

	if certificateID == "" {
		certificateID = info.CertificateID
	}

	if info.Algorithm != signatureAlgorithm {
		result.VerificationError = fmt.Sprintf("unsupported signature algorithm %q", info.Algorithm)
		return result
	}

	certPEM, err := s.store.RetrieveCertificate(ctx, certificateID)
	if err != nil || certPEM == nil {
		result.VerificationError = fmt.Sprintf("certificate %s unavailable", certificateID)
		return result
	}
	cert, err := certgen.ParseCertificatePEM(certPEM)
	if err != nil {
		result.VerificationError = fmt.Sprintf("stored certificate does not parse: %v", err)
		return result
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		result.VerificationError = fmt.Sprintf("unsupported public key type %T", cert.PublicKey)
		return result
	}

	digest := sha256.Sum256(data)
	result.DataHashValid = hex.EncodeToString(digest[:]) == info.DataHash

	signature, err := base64.StdEncoding.DecodeString(info.Signature)
	if err != nil {
		result.VerificationError = "signature is not valid base64"
	} else {
		verifyErr := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		})
		result.SignatureValid = verifyErr == nil
	}

	result.CertificateValid, result.CertificateErrors = s.certificateUsable(ctx, cert, certPEM, certificateID)

	result.IsValid = result.SignatureValid && result.DataHashValid && result.CertificateValid
	return result
}

// certificateUsable decides whether a certificate may back signature
// verification: its store record must still be ACTIVE and its chain
// must either terminate at a trusted CA or be a self-signed
// certificate this platform stores.
func (s *CertificateService) certificateUsable(ctx context.Context, cert *x509.Certificate, certPEM []byte, certificateID string) (bool, []string) {
	var errs []string

	record, err := s.store.GetCertificateInfo(ctx, certificateID)
	if err != nil || record == nil {
		return false, []string{"certificate record unavailable"}
	}
	if record.Status != certmgr.StatusActive {
		errs = append(errs, fmt.Sprintf("certificate status is %s", record.Status))
	}

	validation := s.registry.ValidateCertificateChain(certPEM, nil)
	selfSigned := cert.Subject.String() == cert.Issuer.String()
	if !validation.IsValid && !selfSigned {
		errs = append(errs, validation.Errors...)
	}
	if selfSigned && validation.ChainInfo != nil {
		if validation.ChainInfo.IsExpired {
			errs = append(errs, "certificate has expired")
		}
		if validation.ChainInfo.IsNotYetValid {
			errs = append(errs, "certificate is not yet valid")
		}
	}

	revocation, err := s.registry.CheckCertificateRevocation(ctx, certPEM)
	if err == nil && revocation.Supported && revocation.Revoked {
		errs = append(errs, fmt.Sprintf("certificate has been revoked (%s)", revocation.Source))
	}

	return len(errs) == 0, errs
}
