package service

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"go.mozilla.org/pkcs7"

	"github.com/taxpoynt/certmgr/internal/certgen"
)

// Export formats.
const (
	FormatPEM   = "pem"
	FormatDER   = "der"
	FormatPKCS7 = "pkcs7"
)

// ExportOptions tunes certificate export.
type ExportOptions struct {
	Format            string
	IncludeChain      bool
	IncludePrivateKey bool
	// Passphrase encrypts the exported private key. Required when
	// IncludePrivateKey is set: keys never leave the platform in the
	// clear.
	Passphrase []byte
}

// ExportResult is the structured export payload. Binary formats (DER,
// PKCS#7) are base64-encoded in Data; PEM exports use Certificate and
// Chain directly.
type ExportResult struct {
	CertificateID string   `json:"certificate_id"`
	Format        string   `json:"format"`
	Certificate   string   `json:"certificate,omitempty"`
	Chain         []string `json:"chain,omitempty"`
	Data          string   `json:"data,omitempty"`
	PrivateKey    string   `json:"private_key,omitempty"`
}

// ExportCertificate renders a stored certificate in the requested
// format, optionally with its chain and its passphrase-encrypted
// private key.
func (s *CertificateService) ExportCertificate(ctx context.Context, certificateID string, opts ExportOptions) (*ExportResult, error) {
	certPEM, err := s.store.RetrieveCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if certPEM == nil {
		return nil, fmt.Errorf("certificate %s not found", certificateID)
	}

	result := &ExportResult{
		CertificateID: certificateID,
		Format:        opts.Format,
	}

	switch opts.Format {
	case FormatPEM, "":
		result.Format = FormatPEM
		result.Certificate = string(certPEM)
		if opts.IncludeChain {
			chain, err := s.CreateCertificateChain(ctx, certificateID, true)
			if err != nil {
				return nil, err
			}
			for _, link := range chain[1:] {
				result.Chain = append(result.Chain, string(link))
			}
		}

	case FormatDER:
		cert, err := certgen.ParseCertificatePEM(certPEM)
		if err != nil {
			return nil, err
		}
		result.Data = base64.StdEncoding.EncodeToString(cert.Raw)

	case FormatPKCS7:
		data, err := s.exportPKCS7(ctx, certificateID, certPEM, opts.IncludeChain)
		if err != nil {
			return nil, err
		}
		result.Data = base64.StdEncoding.EncodeToString(data)

	default:
		return nil, fmt.Errorf("unsupported export format %q", opts.Format)
	}

	if opts.IncludePrivateKey {
		keyPEM, err := s.exportPrivateKey(ctx, certificateID, opts.Passphrase)
		if err != nil {
			return nil, err
		}
		result.PrivateKey = string(keyPEM)
	}

	return result, nil
}

// exportPKCS7 builds a certs-only CMS SignedData structure holding the
// certificate and, optionally, its chain.
func (s *CertificateService) exportPKCS7(ctx context.Context, certificateID string, certPEM []byte, includeChain bool) ([]byte, error) {
	pems := [][]byte{certPEM}
	if includeChain {
		chain, err := s.CreateCertificateChain(ctx, certificateID, true)
		if err != nil {
			return nil, err
		}
		pems = chain
	}

	signedData, err := pkcs7.NewSignedData(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create CMS SignedData: %w", err)
	}
	for _, pemBytes := range pems {
		cert, err := certgen.ParseCertificatePEM(pemBytes)
		if err != nil {
			return nil, err
		}
		signedData.AddCertificate(cert)
	}

	data, err := signedData.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish CMS SignedData: %w", err)
	}
	return data, nil
}

// exportPrivateKey loads the certificate's private key and re-encrypts
// it under the export passphrase.
func (s *CertificateService) exportPrivateKey(ctx context.Context, certificateID string, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("a passphrase is required to export a private key")
	}

	record, err := s.store.GetCertificateInfo(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.KeyReference == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoPrivateKey, certificateID)
	}

	keyPEM, err := s.keys.LoadKey(record.KeyReference, nil)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(keyPEM)
	encBlock, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, passphrase, x509.PEMCipherAES256) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt exported key: %w", err)
	}
	return pem.EncodeToMemory(encBlock), nil
}
