package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/certstore"
	"github.com/taxpoynt/certmgr/internal/common"
	"gorm.io/gorm"
)

// RequestStatus tracks a certificate request's own lifecycle,
// independent of any certificate lifecycle.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestSubmitted RequestStatus = "submitted"
	RequestIssued    RequestStatus = "issued"
	RequestFailed    RequestStatus = "failed"
)

// ErrRequestNotFound is returned for unknown request ids.
var ErrRequestNotFound = errors.New("certificate request not found")

// CertificateRequest is a pending or completed request for a CA-issued
// certificate.
type CertificateRequest struct {
	RequestID       string        `json:"request_id"`
	OrganizationID  string        `json:"organization_id"`
	SubjectCN       string        `json:"subject_cn"`
	CertificateType string        `json:"certificate_type"`
	KeySize         int           `json:"key_size"`
	CSRPEM          string        `json:"csr_pem"`
	PrivateKeyPath  string        `json:"-"`
	Status          RequestStatus `json:"status"`
	CAID            string        `json:"ca_id,omitempty"`
	CertificateID   string        `json:"certificate_id,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// RequestRecord is the gorm model backing certificate requests.
type RequestRecord struct {
	RequestID       string `gorm:"primaryKey"`
	OrganizationID  string `gorm:"index"`
	SubjectCN       string `gorm:"not null"`
	CertificateType string
	KeySize         int
	CSRPEM          string `gorm:"type:text;not null"`
	PrivateKeyPath  string `gorm:"not null"`
	Status          string `gorm:"index;not null"`
	CAID            string
	CertificateID   string
	ErrorMessage    string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for request records.
func (RequestRecord) TableName() string {
	return "certificate_requests"
}

func (r *RequestRecord) toDomain() *CertificateRequest {
	return &CertificateRequest{
		RequestID:       r.RequestID,
		OrganizationID:  r.OrganizationID,
		SubjectCN:       r.SubjectCN,
		CertificateType: r.CertificateType,
		KeySize:         r.KeySize,
		CSRPEM:          r.CSRPEM,
		PrivateKeyPath:  r.PrivateKeyPath,
		Status:          RequestStatus(r.Status),
		CAID:            r.CAID,
		CertificateID:   r.CertificateID,
		ErrorMessage:    r.ErrorMessage,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// CertificateRequestService runs the request workflow: build a CSR,
// hold it with its private key, submit it to a CA, and store the
// resulting certificate.
type CertificateRequestService struct {
	db     *gorm.DB
	parent *CertificateService
	logger common.Logger
	now    func() time.Time
}

// NewCertificateRequestService wires the request workflow over the
// orchestration service and its database.
func NewCertificateRequestService(db *gorm.DB, parent *CertificateService, logger common.Logger) *CertificateRequestService {
	return &CertificateRequestService{
		db:     db,
		parent: parent,
		logger: logger.With("component", "certrequest"),
		now:    time.Now,
	}
}

// Model returns the gorm model migrated for this service.
func (s *CertificateRequestService) Model() interface{} {
	return &RequestRecord{}
}

// CreateCertificateRequest generates a CSR and private key for the
// subject, persists the key with owner-only permissions, and records
// the request as PENDING. Returns the request id, the CSR PEM, and
// the private key path.
func (s *CertificateRequestService) CreateCertificateRequest(ctx context.Context, subject certmgr.SubjectInfo, organizationID, certificateType string, keySize int) (string, []byte, string, error) {
	csrPEM, keyPEM, err := s.parent.gen.GenerateCertificateRequest(subject, keySize)
	if err != nil {
		return "", nil, "", err
	}

	keyPath, err := s.parent.keys.StoreKey(keyPEM, subject.CommonName, "private")
	if err != nil {
		return "", nil, "", err
	}

	now := s.now().UTC()
	record := &RequestRecord{
		RequestID:       "req-" + uuid.New().String(),
		OrganizationID:  organizationID,
		SubjectCN:       subject.CommonName,
		CertificateType: certificateType,
		KeySize:         keySize,
		CSRPEM:          string(csrPEM),
		PrivateKeyPath:  keyPath,
		Status:          string(RequestPending),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", nil, "", fmt.Errorf("failed to persist certificate request: %w", err)
	}

	s.logger.Infow("created certificate request",
		"request_id", record.RequestID, "subject_cn", subject.CommonName)
	return record.RequestID, csrPEM, keyPath, nil
}

// SubmitRequestToCA submits a pending request's CSR to the given CA.
// On success the signed certificate is stored with the request's key
// reference and the request becomes ISSUED; any failure marks the
// request FAILED with the CA's message. The returned values are always
// structured: (success, message, certificateID).
func (s *CertificateRequestService) SubmitRequestToCA(ctx context.Context, requestID, caID string, validityDays int) (bool, string, string, error) {
	request, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return false, "", "", err
	}

	csr, err := certgen.ParseCSRPEM([]byte(request.CSRPEM))
	if err != nil {
		return false, "", "", fmt.Errorf("stored CSR does not parse: %w", err)
	}

	s.updateStatus(ctx, requestID, RequestSubmitted, caID, "", "")

	result, err := s.parent.registry.SubmitCSR(ctx, caID, csr, certmgr.SignOptions{
		ValidityDays:    validityDays,
		CertificateType: request.CertificateType,
		OrganizationID:  request.OrganizationID,
	})
	if err != nil {
		s.updateStatus(ctx, requestID, RequestFailed, caID, "", err.Error())
		return false, err.Error(), "", nil
	}
	if !result.OK {
		s.updateStatus(ctx, requestID, RequestFailed, caID, "", result.Message)
		return false, result.Message, "", nil
	}

	certificateID, err := s.parent.store.StoreCertificate(ctx, certstore.StoreInput{
		PEM:             result.CertificatePEM,
		OrganizationID:  request.OrganizationID,
		CertificateType: request.CertificateType,
		KeyReference:    request.PrivateKeyPath,
		Metadata: map[string]string{
			"request_id": requestID,
			"issued_by":  caID,
		},
	})
	if err != nil {
		s.updateStatus(ctx, requestID, RequestFailed, caID, "", err.Error())
		return false, err.Error(), "", nil
	}

	s.updateStatus(ctx, requestID, RequestIssued, caID, certificateID, "")
	s.logger.Infow("certificate issued for request",
		"request_id", requestID, "ca_id", caID, "certificate_id", certificateID)
	return true, "certificate issued", certificateID, nil
}

// GetRequest fetches one request by id.
func (s *CertificateRequestService) GetRequest(ctx context.Context, requestID string) (*CertificateRequest, error) {
	var record RequestRecord
	err := s.db.WithContext(ctx).First(&record, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query certificate request: %w", err)
	}
	return record.toDomain(), nil
}

// ListRequests returns requests for an organization, newest-first.
func (s *CertificateRequestService) ListRequests(ctx context.Context, organizationID string) ([]*CertificateRequest, error) {
	query := s.db.WithContext(ctx).Model(&RequestRecord{})
	if organizationID != "" {
		query = query.Where("organization_id = ?", organizationID)
	}

	var records []RequestRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list certificate requests: %w", err)
	}

	out := make([]*CertificateRequest, len(records))
	for i := range records {
		out[i] = records[i].toDomain()
	}
	return out, nil
}

// updateStatus persists a request status change; failures are logged,
// not returned, so the caller's structured result stands.
func (s *CertificateRequestService) updateStatus(ctx context.Context, requestID string, status RequestStatus, caID, certificateID, errMsg string) {
	updates := map[string]interface{}{
		"status":     string(status),
		"updated_at": s.now().UTC(),
	}
	if caID != "" {
		updates["ca_id"] = caID
	}
	if certificateID != "" {
		updates["certificate_id"] = certificateID
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}

	err := s.db.WithContext(ctx).
		Model(&RequestRecord{}).
		Where("request_id = ?", requestID).
		Updates(updates).Error
	if err != nil {
		s.logger.Errorw("failed to update request status",
			"request_id", requestID, "status", string(status), "error", err)
	}
}
