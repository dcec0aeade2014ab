package certstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
)

// JSONMap stores a string map as a JSON text column.
type JSONMap map[string]string

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for JSONMap", value)
	}

	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// CertificateRecord is the gorm model backing the certificate index.
type CertificateRecord struct {
	CertificateID   string    `gorm:"primaryKey"`
	SubjectCN       string    `gorm:"index;not null"`
	IssuerCN        string    `gorm:"not null"`
	SerialNumber    string    `gorm:"index;not null"`
	NotBefore       time.Time `gorm:"not null"`
	NotAfter        time.Time `gorm:"index;not null"`
	Fingerprint     string    `gorm:"uniqueIndex;not null"`
	Status          string    `gorm:"index;not null"`
	FilePath        string    `gorm:"not null"`
	OrganizationID  string    `gorm:"index"`
	CertificateType string    `gorm:"index"`
	KeyReference    string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
	Metadata        JSONMap   `gorm:"type:text"`
}

// TableName returns the table name for certificate index records.
func (CertificateRecord) TableName() string {
	return "certificates"
}

// toDomain converts the record to the domain entity.
func (r *CertificateRecord) toDomain() *certmgr.StoredCertificate {
	return &certmgr.StoredCertificate{
		CertificateID:   r.CertificateID,
		SubjectCN:       r.SubjectCN,
		IssuerCN:        r.IssuerCN,
		SerialNumber:    r.SerialNumber,
		NotBefore:       r.NotBefore,
		NotAfter:        r.NotAfter,
		Fingerprint:     r.Fingerprint,
		Status:          certmgr.Status(r.Status),
		FilePath:        r.FilePath,
		OrganizationID:  r.OrganizationID,
		CertificateType: r.CertificateType,
		KeyReference:    r.KeyReference,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Metadata:        map[string]string(r.Metadata),
	}
}

// fromDomain converts a domain entity to an index record.
func fromDomain(c *certmgr.StoredCertificate) *CertificateRecord {
	return &CertificateRecord{
		CertificateID:   c.CertificateID,
		SubjectCN:       c.SubjectCN,
		IssuerCN:        c.IssuerCN,
		SerialNumber:    c.SerialNumber,
		NotBefore:       c.NotBefore,
		NotAfter:        c.NotAfter,
		Fingerprint:     c.Fingerprint,
		Status:          string(c.Status),
		FilePath:        c.FilePath,
		OrganizationID:  c.OrganizationID,
		CertificateType: c.CertificateType,
		KeyReference:    c.KeyReference,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		Metadata:        JSONMap(c.Metadata),
	}
}
