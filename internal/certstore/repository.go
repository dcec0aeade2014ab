package certstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
	"gorm.io/gorm"
)

// ListFilter narrows a certificate listing. Zero-valued fields are
// ignored.
type ListFilter struct {
	OrganizationID  string
	CertificateType string
	Status          certmgr.Status
}

// CertificateRepository abstracts the durable certificate index so the
// store does not depend on a concrete database. Lookup methods return
// (nil, nil) for unknown ids; absence is not an error.
type CertificateRepository interface {
	Insert(ctx context.Context, cert *certmgr.StoredCertificate) error
	Get(ctx context.Context, certificateID string) (*certmgr.StoredCertificate, error)
	Update(ctx context.Context, cert *certmgr.StoredCertificate) error
	Remove(ctx context.Context, certificateID string) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*certmgr.StoredCertificate, error)
	List(ctx context.Context, filter ListFilter) ([]*certmgr.StoredCertificate, error)
	FindBySubject(ctx context.Context, subjectFragment string) ([]*certmgr.StoredCertificate, error)
	ExpiringBefore(ctx context.Context, cutoff time.Time) ([]*certmgr.StoredCertificate, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	CountByType(ctx context.Context) (map[string]int64, error)
}

// GormRepository is the gorm-backed certificate index.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a repository on the given database handle.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Model returns the gorm model migrated for this repository.
func (r *GormRepository) Model() interface{} {
	return &CertificateRecord{}
}

// Insert stores a new index record. The transaction commits before
// Insert returns, so a successful return means the index is durable.
func (r *GormRepository) Insert(ctx context.Context, cert *certmgr.StoredCertificate) error {
	if err := r.db.WithContext(ctx).Create(fromDomain(cert)).Error; err != nil {
		return fmt.Errorf("failed to insert certificate record: %w", err)
	}
	return nil
}

// Get fetches one record by id, returning (nil, nil) when absent.
func (r *GormRepository) Get(ctx context.Context, certificateID string) (*certmgr.StoredCertificate, error) {
	var record CertificateRecord
	err := r.db.WithContext(ctx).First(&record, "certificate_id = ?", certificateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query certificate record: %w", err)
	}
	return record.toDomain(), nil
}

// GetByFingerprint fetches one record by its SHA-256 fingerprint,
// returning (nil, nil) when absent.
func (r *GormRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*certmgr.StoredCertificate, error) {
	var record CertificateRecord
	err := r.db.WithContext(ctx).First(&record, "fingerprint = ?", fingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query certificate record: %w", err)
	}
	return record.toDomain(), nil
}

// Update persists every field of an existing record.
func (r *GormRepository) Update(ctx context.Context, cert *certmgr.StoredCertificate) error {
	result := r.db.WithContext(ctx).
		Model(&CertificateRecord{}).
		Where("certificate_id = ?", cert.CertificateID).
		Select("*").
		Omit("certificate_id", "created_at").
		Updates(fromDomain(cert))
	if result.Error != nil {
		return fmt.Errorf("failed to update certificate record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("certificate record %s not found", cert.CertificateID)
	}
	return nil
}

// Remove deletes the index record. Used only for reconciliation of
// index entries whose blob has gone missing; normal "deletion" archives
// instead.
func (r *GormRepository) Remove(ctx context.Context, certificateID string) error {
	err := r.db.WithContext(ctx).
		Delete(&CertificateRecord{}, "certificate_id = ?", certificateID).Error
	if err != nil {
		return fmt.Errorf("failed to remove certificate record: %w", err)
	}
	return nil
}

// List returns records matching the filter, newest-first by creation
// time.
func (r *GormRepository) List(ctx context.Context, filter ListFilter) ([]*certmgr.StoredCertificate, error) {
	query := r.db.WithContext(ctx).Model(&CertificateRecord{})
	if filter.OrganizationID != "" {
		query = query.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.CertificateType != "" {
		query = query.Where("certificate_type = ?", filter.CertificateType)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}

	var records []CertificateRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list certificate records: %w", err)
	}
	return toDomainSlice(records), nil
}

// FindBySubject returns records whose subject common name contains the
// fragment, case-insensitively, newest-first.
func (r *GormRepository) FindBySubject(ctx context.Context, subjectFragment string) ([]*certmgr.StoredCertificate, error) {
	pattern := "%" + strings.ToLower(subjectFragment) + "%"

	var records []CertificateRecord
	err := r.db.WithContext(ctx).
		Where("LOWER(subject_cn) LIKE ?", pattern).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search certificate records: %w", err)
	}
	return toDomainSlice(records), nil
}

// ExpiringBefore returns ACTIVE records expiring before the cutoff,
// soonest expiry first.
func (r *GormRepository) ExpiringBefore(ctx context.Context, cutoff time.Time) ([]*certmgr.StoredCertificate, error) {
	var records []CertificateRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND not_after <= ?", string(certmgr.StatusActive), cutoff).
		Order("not_after ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring certificates: %w", err)
	}
	return toDomainSlice(records), nil
}

// CountByStatus returns record counts grouped by status.
func (r *GormRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "status")
}

// CountByType returns record counts grouped by certificate type.
func (r *GormRepository) CountByType(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "certificate_type")
}

type groupCount struct {
	Key   string
	Count int64
}

func (r *GormRepository) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []groupCount
	err := r.db.WithContext(ctx).
		Model(&CertificateRecord{}).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count certificates by %s: %w", column, err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Key] = row.Count
	}
	return counts, nil
}

func toDomainSlice(records []CertificateRecord) []*certmgr.StoredCertificate {
	out := make([]*certmgr.StoredCertificate, len(records))
	for i := range records {
		out[i] = records[i].toDomain()
	}
	return out
}
