package caintegration

import (
	"context"
	"errors"
	"fmt"

	certmgr "github.com/taxpoynt/certmgr"
	"gorm.io/gorm"
)

// CARepository abstracts persistence of CA registrations. Lookups
// return (nil, nil) for unknown ids.
type CARepository interface {
	Insert(ctx context.Context, ca *certmgr.CAInfo) error
	Get(ctx context.Context, caID string) (*certmgr.CAInfo, error)
	Update(ctx context.Context, ca *certmgr.CAInfo) error
	List(ctx context.Context, caType certmgr.CAType) ([]*certmgr.CAInfo, error)
}

// GormCARepository is the gorm-backed CA registry store.
type GormCARepository struct {
	db *gorm.DB
}

// NewGormCARepository creates a repository on the given database handle.
func NewGormCARepository(db *gorm.DB) *GormCARepository {
	return &GormCARepository{db: db}
}

// Model returns the gorm model migrated for this repository.
func (r *GormCARepository) Model() interface{} {
	return &CARecord{}
}

// Insert stores a new CA registration.
func (r *GormCARepository) Insert(ctx context.Context, ca *certmgr.CAInfo) error {
	if err := r.db.WithContext(ctx).Create(fromDomain(ca)).Error; err != nil {
		return fmt.Errorf("failed to insert CA record: %w", err)
	}
	return nil
}

// Get fetches one CA registration, returning (nil, nil) when absent.
func (r *GormCARepository) Get(ctx context.Context, caID string) (*certmgr.CAInfo, error) {
	var record CARecord
	err := r.db.WithContext(ctx).First(&record, "ca_id = ?", caID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query CA record: %w", err)
	}
	return record.toDomain(), nil
}

// Update persists changes to an existing CA registration.
func (r *GormCARepository) Update(ctx context.Context, ca *certmgr.CAInfo) error {
	result := r.db.WithContext(ctx).
		Model(&CARecord{}).
		Where("ca_id = ?", ca.CAID).
		Select("*").
		Omit("ca_id", "created_at").
		Updates(fromDomain(ca))
	if result.Error != nil {
		return fmt.Errorf("failed to update CA record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("CA record %s not found", ca.CAID)
	}
	return nil
}

// List returns CA registrations, optionally filtered by type, sorted
// by name.
func (r *GormCARepository) List(ctx context.Context, caType certmgr.CAType) ([]*certmgr.CAInfo, error) {
	query := r.db.WithContext(ctx).Model(&CARecord{})
	if caType != "" {
		query = query.Where("type = ?", string(caType))
	}

	var records []CARecord
	if err := query.Order("name ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list CA records: %w", err)
	}

	out := make([]*certmgr.CAInfo, len(records))
	for i := range records {
		out[i] = records[i].toDomain()
	}
	return out, nil
}
