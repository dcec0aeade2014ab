package caintegration

import (
	"time"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certstore"
)

// CARecord is the gorm model backing the CA registry.
type CARecord struct {
	CAID           string    `gorm:"primaryKey"`
	Name           string    `gorm:"index;not null"`
	Type           string    `gorm:"index;not null"`
	BaseURL        string
	CertificatePEM string            `gorm:"type:text;not null"`
	TrustLevel     string            `gorm:"not null"`
	IsActive       bool              `gorm:"not null"`
	Metadata       certstore.JSONMap `gorm:"type:text"`
	CreatedAt      time.Time         `gorm:"not null"`
	UpdatedAt      time.Time         `gorm:"not null"`
}

// TableName returns the table name for CA registry records.
func (CARecord) TableName() string {
	return "certificate_authorities"
}

// toDomain converts the record to the domain entity.
func (r *CARecord) toDomain() *certmgr.CAInfo {
	return &certmgr.CAInfo{
		CAID:           r.CAID,
		Name:           r.Name,
		Type:           certmgr.CAType(r.Type),
		BaseURL:        r.BaseURL,
		CertificatePEM: r.CertificatePEM,
		TrustLevel:     certmgr.TrustLevel(r.TrustLevel),
		IsActive:       r.IsActive,
		Metadata:       map[string]string(r.Metadata),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// fromDomain converts a domain entity to a registry record.
func fromDomain(ca *certmgr.CAInfo) *CARecord {
	return &CARecord{
		CAID:           ca.CAID,
		Name:           ca.Name,
		Type:           string(ca.Type),
		BaseURL:        ca.BaseURL,
		CertificatePEM: ca.CertificatePEM,
		TrustLevel:     string(ca.TrustLevel),
		IsActive:       ca.IsActive,
		Metadata:       certstore.JSONMap(ca.Metadata),
		CreatedAt:      ca.CreatedAt,
		UpdatedAt:      ca.UpdatedAt,
	}
}
