package caintegration

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certstore"
)

// UnsupportedChecker is the explicit "no revocation source available"
// checker. It always reports Supported=false so callers cannot mistake
// the absence of a checker for a clean revocation status.
type UnsupportedChecker struct{}

// CheckRevocation reports the check as unsupported.
func (UnsupportedChecker) CheckRevocation(ctx context.Context, cert *x509.Certificate) (certmgr.RevocationStatus, error) {
	return certmgr.RevocationStatus{
		Revoked:   false,
		Supported: false,
		Source:    "none",
	}, nil
}

// StoreRevocationChecker consults the local certificate store: a
// certificate is considered revoked when its fingerprint matches a
// stored record with REVOKED status. This covers certificates this
// platform manages; it says nothing about externally issued ones.
type StoreRevocationChecker struct {
	Store *certstore.Store
}

// CheckRevocation looks the certificate up by fingerprint.
func (c *StoreRevocationChecker) CheckRevocation(ctx context.Context, cert *x509.Certificate) (certmgr.RevocationStatus, error) {
	fingerprint := sha256.Sum256(cert.Raw)
	record, err := c.Store.GetCertificateByFingerprint(ctx, hex.EncodeToString(fingerprint[:]))
	if err != nil {
		return certmgr.RevocationStatus{}, err
	}
	if record == nil {
		// Not managed here; the store cannot answer for it.
		return certmgr.RevocationStatus{Supported: false, Source: "store"}, nil
	}

	status := certmgr.RevocationStatus{
		Supported: true,
		Source:    "store",
	}
	if record.Status == certmgr.StatusRevoked {
		status.Revoked = true
		status.Reason = record.Metadata["revocation_reason"]
		if ts := record.Metadata["revocation_date"]; ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				status.RevokedAt = parsed
			}
		}
	}
	return status, nil
}

// CRLChecker checks revocation against the CRL distribution points
// embedded in the certificate.
type CRLChecker struct {
	Client *http.Client
}

// NewCRLChecker creates a CRL-based checker with a bounded HTTP client.
func NewCRLChecker() *CRLChecker {
	return &CRLChecker{
		Client: &http.Client{Timeout: submissionTimeout},
	}
}

// CheckRevocation downloads each CRL distribution point and searches
// it for the certificate's serial number. A certificate without
// distribution points yields Supported=false.
func (c *CRLChecker) CheckRevocation(ctx context.Context, cert *x509.Certificate) (certmgr.RevocationStatus, error) {
	if len(cert.CRLDistributionPoints) == 0 {
		return certmgr.RevocationStatus{Supported: false, Source: "crl"}, nil
	}

	for _, url := range cert.CRLDistributionPoints {
		list, err := c.fetchCRL(ctx, url)
		if err != nil {
			return certmgr.RevocationStatus{}, fmt.Errorf("failed to fetch CRL %s: %w", url, err)
		}

		for _, entry := range list.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return certmgr.RevocationStatus{
					Revoked:   true,
					Supported: true,
					RevokedAt: entry.RevocationTime,
					Source:    "crl",
				}, nil
			}
		}
	}

	return certmgr.RevocationStatus{Supported: true, Source: "crl"}, nil
}

// fetchCRL downloads and parses one CRL.
func (c *CRLChecker) fetchCRL(ctx context.Context, url string) (*x509.RevocationList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CRL endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	return x509.ParseRevocationList(data)
}
