// Package certstore is the durable, queryable repository of
// certificate metadata and PEM blobs. The index lives in a
// transactional database behind the CertificateRepository interface;
// blobs live as owner-only files under the store directory. A mutating
// operation is not done until the index reflects it.
package certstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/common"
)

const blobArchiveDir = "archive"

// StoreInput carries everything needed to persist a new certificate.
type StoreInput struct {
	PEM             []byte
	OrganizationID  string
	CertificateType string
	KeyReference    string
	Metadata        map[string]string
}

// Statistics summarizes the store contents.
type Statistics struct {
	TotalCertificates  int64            `json:"total_certificates"`
	StatusDistribution map[string]int64 `json:"status_distribution"`
	TypeDistribution   map[string]int64 `json:"type_distribution"`
	StorageSizeBytes   int64            `json:"storage_size_bytes"`
	StorageSizeMB      float64          `json:"storage_size_mb"`
}

// Store composes the certificate index with blob file storage.
type Store struct {
	repo    CertificateRepository
	certDir string
	logger  common.Logger
	now     func() time.Time
}

// New creates a certificate store rooted at certDir (created 0700 if
// absent) over the given index repository.
func New(repo CertificateRepository, certDir string, logger common.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(certDir, blobArchiveDir), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	return &Store{
		repo:    repo,
		certDir: certDir,
		logger:  logger.With("component", "certstore"),
		now:     time.Now,
	}, nil
}

// SetClock overrides the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// StoreCertificate parses and persists a certificate, returning its
// newly assigned id. The blob is written with owner-only permissions
// before the index insert; an id is only returned once the index entry
// is durable. Fails with certgen.ErrInvalidPEM when the input cannot
// be parsed.
func (s *Store) StoreCertificate(ctx context.Context, in StoreInput) (string, error) {
	cert, err := certgen.ParseCertificatePEM(in.PEM)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	fingerprint := sha256.Sum256(cert.Raw)
	certificateID := makeCertificateID(cert.SerialNumber.String(), cert.Subject.String(), now)

	blobPath := filepath.Join(s.certDir, certificateID+".pem")
	if err := writeFileExclusive(blobPath, in.PEM); err != nil {
		return "", fmt.Errorf("failed to write certificate blob: %w", err)
	}

	subjectCN := cert.Subject.CommonName
	if subjectCN == "" {
		subjectCN = "Unknown"
	}
	issuerCN := cert.Issuer.CommonName
	if issuerCN == "" {
		issuerCN = "Unknown"
	}

	record := &certmgr.StoredCertificate{
		CertificateID:   certificateID,
		SubjectCN:       subjectCN,
		IssuerCN:        issuerCN,
		SerialNumber:    cert.SerialNumber.String(),
		NotBefore:       cert.NotBefore,
		NotAfter:        cert.NotAfter,
		Fingerprint:     hex.EncodeToString(fingerprint[:]),
		Status:          certmgr.StatusActive,
		FilePath:        blobPath,
		OrganizationID:  in.OrganizationID,
		CertificateType: in.CertificateType,
		KeyReference:    in.KeyReference,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        in.Metadata,
	}

	if err := s.repo.Insert(ctx, record); err != nil {
		// Keep index and blob consistent: remove the orphan blob.
		os.Remove(blobPath)
		return "", err
	}

	s.logger.Infow("stored certificate",
		"certificate_id", certificateID,
		"subject_cn", subjectCN,
		"organization_id", in.OrganizationID,
		"type", in.CertificateType,
	)
	return certificateID, nil
}

// RetrieveCertificate returns the PEM blob for a certificate, or nil
// when the id is unknown. An index entry whose blob is missing logs a
// consistency warning and also returns nil.
func (s *Store) RetrieveCertificate(ctx context.Context, certificateID string) ([]byte, error) {
	record, err := s.repo.Get(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	data, err := os.ReadFile(record.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warnw("certificate blob missing for index entry",
				"certificate_id", certificateID, "path", record.FilePath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read certificate blob: %w", err)
	}
	return data, nil
}

// GetCertificateInfo returns the index record for a certificate, or
// nil when the id is unknown.
func (s *Store) GetCertificateInfo(ctx context.Context, certificateID string) (*certmgr.StoredCertificate, error) {
	return s.repo.Get(ctx, certificateID)
}

// GetCertificateByFingerprint returns the index record matching a
// SHA-256 fingerprint, or nil when no stored certificate matches.
func (s *Store) GetCertificateByFingerprint(ctx context.Context, fingerprint string) (*certmgr.StoredCertificate, error) {
	return s.repo.GetByFingerprint(ctx, fingerprint)
}

// ListCertificates returns index records matching the filter,
// newest-first.
func (s *Store) ListCertificates(ctx context.Context, filter ListFilter) ([]*certmgr.StoredCertificate, error) {
	return s.repo.List(ctx, filter)
}

// FindCertificatesBySubject returns records whose subject common name
// contains the fragment, case-insensitively.
func (s *Store) FindCertificatesBySubject(ctx context.Context, subjectFragment string) ([]*certmgr.StoredCertificate, error) {
	return s.repo.FindBySubject(ctx, subjectFragment)
}

// UpdateCertificateStatus transitions a certificate to a new status,
// merging (not replacing) any provided metadata. Returns false when
// the id is unknown. Illegal transitions, such as reactivating a
// revoked certificate, are rejected with an error.
func (s *Store) UpdateCertificateStatus(ctx context.Context, certificateID string, newStatus certmgr.Status, metadata map[string]string) (bool, error) {
	record, err := s.repo.Get(ctx, certificateID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	if !record.Status.CanTransition(newStatus) {
		return false, fmt.Errorf("illegal status transition %s -> %s for %s",
			record.Status, newStatus, certificateID)
	}

	record.Status = newStatus
	record.UpdatedAt = s.now().UTC()
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	for k, v := range metadata {
		record.Metadata[k] = v
	}

	if err := s.repo.Update(ctx, record); err != nil {
		return false, err
	}

	s.logger.Infow("certificate status updated",
		"certificate_id", certificateID, "status", string(newStatus))
	return true, nil
}

// MergeMetadata merges metadata into a certificate record without
// changing its status.
func (s *Store) MergeMetadata(ctx context.Context, certificateID string, metadata map[string]string) (bool, error) {
	record, err := s.repo.Get(ctx, certificateID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	for k, v := range metadata {
		record.Metadata[k] = v
	}
	record.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCertificate archives a certificate: the blob moves to the
// archive directory and the status becomes ARCHIVED. The index record
// is preserved for audit. When the blob is already missing the stale
// index entry is removed outright. Returns false when the id is
// unknown.
func (s *Store) DeleteCertificate(ctx context.Context, certificateID string) (bool, error) {
	record, err := s.repo.Get(ctx, certificateID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	archivePath := filepath.Join(s.certDir, blobArchiveDir, filepath.Base(record.FilePath))
	if err := os.Rename(record.FilePath, archivePath); err != nil {
		if os.IsNotExist(err) {
			s.logger.Warnw("blob already missing, removing stale index entry",
				"certificate_id", certificateID)
			return true, s.repo.Remove(ctx, certificateID)
		}
		return false, fmt.Errorf("failed to archive certificate blob: %w", err)
	}

	if record.Status == certmgr.StatusArchived {
		return true, nil
	}

	record.Status = certmgr.StatusArchived
	record.FilePath = archivePath
	record.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, record); err != nil {
		return false, err
	}

	s.logger.Infow("archived certificate", "certificate_id", certificateID)
	return true, nil
}

// CheckExpiringCertificates returns ACTIVE certificates expiring
// within daysAhead days, soonest first.
func (s *Store) CheckExpiringCertificates(ctx context.Context, daysAhead int) ([]*certmgr.StoredCertificate, error) {
	if daysAhead <= 0 {
		daysAhead = 30
	}
	cutoff := s.now().UTC().AddDate(0, 0, daysAhead)
	return s.repo.ExpiringBefore(ctx, cutoff)
}

// GetStorageStatistics summarizes index counts and on-disk blob usage.
func (s *Store) GetStorageStatistics(ctx context.Context) (*Statistics, error) {
	statusCounts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	typeCounts, err := s.repo.CountByType(ctx)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range statusCounts {
		total += n
	}

	var sizeBytes int64
	_ = filepath.Walk(s.certDir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info != nil && !info.IsDir() {
			sizeBytes += info.Size()
		}
		return nil
	})

	return &Statistics{
		TotalCertificates:  total,
		StatusDistribution: statusCounts,
		TypeDistribution:   typeCounts,
		StorageSizeBytes:   sizeBytes,
		StorageSizeMB:      float64(sizeBytes) / (1024 * 1024),
	}, nil
}

// makeCertificateID derives a stable, unguessable certificate id from
// the serial number, a hash of the subject, and the creation time.
func makeCertificateID(serial, subject string, created time.Time) string {
	subjectHash := sha256.Sum256([]byte(subject))
	serialHash := sha256.Sum256([]byte(serial))
	return fmt.Sprintf("cert-%s%s-%d",
		hex.EncodeToString(serialHash[:4]),
		hex.EncodeToString(subjectHash[:4]),
		created.Unix(),
	)
}

// writeFileExclusive creates a new file with mode 0600, failing if the
// path already exists. The restrictive mode applies from creation.
func writeFileExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
