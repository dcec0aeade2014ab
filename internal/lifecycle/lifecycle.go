// Package lifecycle drives the time-based certificate operations:
// expiry scanning, renewal, revocation, and compliance checking. Every
// state-changing operation appends an audit event before returning,
// including failures, so the event log is a complete trail of
// attempted actions.
package lifecycle

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strconv"
	"strings"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
	"github.com/taxpoynt/certmgr/internal/certgen"
	"github.com/taxpoynt/certmgr/internal/certstore"
	"github.com/taxpoynt/certmgr/internal/common"
	"github.com/taxpoynt/certmgr/internal/keymgr"
	"github.com/taxpoynt/certmgr/internal/policy"
)

// ExpirationReport buckets ACTIVE certificates by proximity to expiry.
// A certificate can appear in several warning buckets when it has
// crossed several thresholds.
type ExpirationReport struct {
	Expired       []*certmgr.StoredCertificate `json:"expired"`
	ExpiringSoon  []*certmgr.StoredCertificate `json:"expiring_soon"`
	NeedsRenewal  []*certmgr.StoredCertificate `json:"needs_renewal"`
	Warning60Days []*certmgr.StoredCertificate `json:"warning_60_days"`
	Warning30Days []*certmgr.StoredCertificate `json:"warning_30_days"`
	Warning7Days  []*certmgr.StoredCertificate `json:"warning_7_days"`
}

// RenewalResult is one certificate's outcome inside an automatic
// renewal run.
type RenewalResult struct {
	CertificateID    string `json:"certificate_id"`
	SubjectCN        string `json:"subject_cn"`
	Success          bool   `json:"success"`
	NewCertificateID string `json:"new_certificate_id,omitempty"`
	Message          string `json:"message,omitempty"`
}

// RenewalRun summarizes an automatic renewal sweep.
type RenewalRun struct {
	Processed  int             `json:"processed"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	DryRun     bool            `json:"dry_run"`
	Results    []RenewalResult `json:"results"`
}

// ComplianceIssue flags one certificate's rule violation.
type ComplianceIssue struct {
	CertificateID string `json:"certificate_id"`
	SubjectCN     string `json:"subject_cn"`
	Issue         string `json:"issue"`
}

// ComplianceReport summarizes a compliance scan.
type ComplianceReport struct {
	TotalCertificates int               `json:"total_certificates"`
	Compliant         int               `json:"compliant"`
	NonCompliant      int               `json:"non_compliant"`
	Issues            []ComplianceIssue `json:"issues"`
	Recommendations   []string          `json:"recommendations"`
}

// Manager orchestrates lifecycle operations over the store, generator
// and key manager.
type Manager struct {
	store  *certstore.Store
	gen    *certgen.Generator
	keys   *keymgr.Manager
	events EventLog
	logger common.Logger
	now    func() time.Time

	renewalWindowDays int
}

// NewManager creates a lifecycle manager. The event log must already
// be open; the manager does not own its lifetime.
func NewManager(store *certstore.Store, gen *certgen.Generator, keys *keymgr.Manager, events EventLog, logger common.Logger) *Manager {
	return &Manager{
		store:             store,
		gen:               gen,
		keys:              keys,
		events:            events,
		logger:            logger.With("component", "lifecycle"),
		now:               time.Now,
		renewalWindowDays: policy.DefaultRenewalWindowDays,
	}
}

// SetClock overrides the manager's clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetRenewalWindow overrides how many days before expiry a certificate
// is considered due for renewal.
func (m *Manager) SetRenewalWindow(days int) {
	if days > 0 {
		m.renewalWindowDays = days
	}
}

// CheckCertificateExpiration scans ACTIVE certificates and buckets
// them by days until expiry. Certificates found already expired are
// transitioned to EXPIRED immediately: expiry is a pure function of
// time, not an external event, so the scan is where it is observed.
// Running the scan twice in succession yields the same buckets without
// duplicate transitions.
func (m *Manager) CheckCertificateExpiration(ctx context.Context, organizationID string) (*ExpirationReport, error) {
	active, err := m.store.ListCertificates(ctx, certstore.ListFilter{
		OrganizationID: organizationID,
		Status:         certmgr.StatusActive,
	})
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	report := &ExpirationReport{}

	for _, cert := range active {
		days := cert.DaysUntilExpiry(now)

		if now.After(cert.NotAfter) {
			report.Expired = append(report.Expired, cert)
			m.expireCertificate(ctx, cert)
			continue
		}

		if days <= m.renewalWindowDays {
			report.NeedsRenewal = append(report.NeedsRenewal, cert)
			report.ExpiringSoon = append(report.ExpiringSoon, cert)
		} else if days <= policy.ExpiryWarningThresholds[0] {
			report.ExpiringSoon = append(report.ExpiringSoon, cert)
		}

		if days <= policy.ExpiryWarningThresholds[0] {
			report.Warning60Days = append(report.Warning60Days, cert)
		}
		if days <= policy.ExpiryWarningThresholds[1] {
			report.Warning30Days = append(report.Warning30Days, cert)
		}
		if days <= policy.ExpiryWarningThresholds[2] {
			report.Warning7Days = append(report.Warning7Days, cert)
		}
	}

	return report, nil
}

// expireCertificate transitions one certificate to EXPIRED and records
// the observation. Failures are logged but do not abort the scan.
func (m *Manager) expireCertificate(ctx context.Context, cert *certmgr.StoredCertificate) {
	ok, err := m.store.UpdateCertificateStatus(ctx, cert.CertificateID, certmgr.StatusExpired, map[string]string{
		"expired_detected_at": m.now().UTC().Format(time.RFC3339),
	})
	if err != nil || !ok {
		m.logger.Errorw("failed to mark certificate expired",
			"certificate_id", cert.CertificateID, "error", err)
		m.appendEvent(cert.CertificateID, certmgr.ActionExpirationWarning, false, errString(err), nil)
		return
	}

	m.appendEvent(cert.CertificateID, certmgr.ActionExpirationWarning, true, "", map[string]string{
		"transition": "active->expired",
		"not_after":  cert.NotAfter.Format(time.RFC3339),
	})
}

// RenewCertificate replaces a certificate with a freshly issued one
// carrying the same subject. When reuseKey is true and the old
// certificate has a resolvable key reference, the existing key pair is
// kept; otherwise a new key pair is generated and stored. The old
// certificate is archived with a pointer to its successor, and exactly
// one RENEWAL event is recorded whatever the outcome. Returns
// ("", false) on failure rather than an error: renewal is a batch-safe
// operation.
func (m *Manager) RenewCertificate(ctx context.Context, certificateID string, validityDays int, reuseKey bool) (string, bool) {
	fail := func(msg string) (string, bool) {
		m.logger.Errorw("certificate renewal failed", "certificate_id", certificateID, "reason", msg)
		m.appendEvent(certificateID, certmgr.ActionRenewal, false, msg, nil)
		return "", false
	}

	record, err := m.store.GetCertificateInfo(ctx, certificateID)
	if err != nil {
		return fail(err.Error())
	}
	if record == nil {
		return fail("certificate not found")
	}

	certPEM, err := m.store.RetrieveCertificate(ctx, certificateID)
	if err != nil || certPEM == nil {
		return fail("certificate blob unavailable")
	}
	oldCert, err := certgen.ParseCertificatePEM(certPEM)
	if err != nil {
		return fail(fmt.Sprintf("stored certificate does not parse: %v", err))
	}

	subject := certgen.SubjectFromCertificate(oldCert)
	validityDays = policy.ClampValidity(validityDays)
	now := m.now().UTC()

	var newCertPEM []byte
	var keyRef string

	if reuseKey && record.KeyReference != "" {
		keyPEM, err := m.keys.LoadKey(record.KeyReference, nil)
		if err != nil {
			return fail(fmt.Sprintf("cannot reuse key: %v", err))
		}
		key, err := keymgr.ParsePrivateKeyPEM(keyPEM, nil)
		if err != nil {
			return fail(fmt.Sprintf("cannot reuse key: %v", err))
		}
		newCertPEM, err = m.gen.GenerateSelfSignedWithKey(subject, validityDays, key)
		if err != nil {
			return fail(err.Error())
		}
		keyRef = record.KeyReference
	} else {
		var keyPEM []byte
		newCertPEM, keyPEM, err = m.gen.GenerateSelfSigned(subject, validityDays, policy.MinRSAKeySize)
		if err != nil {
			return fail(err.Error())
		}
		keyRef, err = m.keys.StoreKey(keyPEM, subject.CommonName, "private")
		if err != nil {
			return fail(err.Error())
		}
	}

	newID, err := m.store.StoreCertificate(ctx, certstore.StoreInput{
		PEM:             newCertPEM,
		OrganizationID:  record.OrganizationID,
		CertificateType: record.CertificateType,
		KeyReference:    keyRef,
		Metadata: mergeMaps(record.Metadata, map[string]string{
			"renewed_from": certificateID,
			"renewal_date": now.Format(time.RFC3339),
		}),
	})
	if err != nil {
		return fail(err.Error())
	}

	if _, err := m.store.MergeMetadata(ctx, certificateID, map[string]string{
		"renewed_to": newID,
	}); err != nil {
		return fail(err.Error())
	}
	if _, err := m.store.DeleteCertificate(ctx, certificateID); err != nil {
		return fail(err.Error())
	}

	m.appendEvent(certificateID, certmgr.ActionRenewal, true, "", map[string]string{
		"new_certificate_id": newID,
		"validity_days":      strconv.Itoa(validityDays),
		"key_reused":         strconv.FormatBool(keyRef == record.KeyReference && record.KeyReference != ""),
	})
	m.logger.Infow("renewed certificate",
		"certificate_id", certificateID, "new_certificate_id", newID)
	return newID, true
}

// RevokeCertificate transitions a certificate to REVOKED with the
// given reason. A REVOCATION event is recorded whatever the outcome.
func (m *Manager) RevokeCertificate(ctx context.Context, certificateID, reason string, revokedAt time.Time) bool {
	if revokedAt.IsZero() {
		revokedAt = m.now().UTC()
	}

	ok, err := m.store.UpdateCertificateStatus(ctx, certificateID, certmgr.StatusRevoked, map[string]string{
		"revocation_reason": reason,
		"revocation_date":   revokedAt.Format(time.RFC3339),
	})
	if err != nil || !ok {
		m.appendEvent(certificateID, certmgr.ActionRevocation, false, errString(err), nil)
		return false
	}

	m.appendEvent(certificateID, certmgr.ActionRevocation, true, "", map[string]string{
		"reason":     reason,
		"revoked_at": revokedAt.Format(time.RFC3339),
	})
	m.logger.Infow("revoked certificate", "certificate_id", certificateID, "reason", reason)
	return true
}

// PerformAutomaticRenewal renews every certificate due for renewal, or
// simulates doing so when dryRun is set. Individual failures never
// abort the sweep; each certificate's outcome is captured in Results
// and one AUTOMATIC_RENEWAL summary event is recorded for the run.
func (m *Manager) PerformAutomaticRenewal(ctx context.Context, organizationID string, dryRun bool) (*RenewalRun, error) {
	report, err := m.CheckCertificateExpiration(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	run := &RenewalRun{DryRun: dryRun}
	for _, cert := range report.NeedsRenewal {
		run.Processed++
		result := RenewalResult{
			CertificateID: cert.CertificateID,
			SubjectCN:     cert.SubjectCN,
		}

		if dryRun {
			result.Success = true
			result.Message = "would renew"
		} else if newID, ok := m.RenewCertificate(ctx, cert.CertificateID, policy.DefaultValidityDays, false); ok {
			result.Success = true
			result.NewCertificateID = newID
		} else {
			result.Message = "renewal failed; see renewal events"
		}

		if result.Success {
			run.Successful++
		} else {
			run.Failed++
		}
		run.Results = append(run.Results, result)
	}

	m.appendEvent("", certmgr.ActionAutomaticRenewal, run.Failed == 0, "", map[string]string{
		"processed":  strconv.Itoa(run.Processed),
		"successful": strconv.Itoa(run.Successful),
		"failed":     strconv.Itoa(run.Failed),
		"dry_run":    strconv.FormatBool(dryRun),
	})
	return run, nil
}

// CheckComplianceStatus evaluates every ACTIVE certificate against the
// FIRS e-invoicing rules and records one COMPLIANCE_CHECK event.
func (m *Manager) CheckComplianceStatus(ctx context.Context, organizationID string) (*ComplianceReport, error) {
	active, err := m.store.ListCertificates(ctx, certstore.ListFilter{
		OrganizationID: organizationID,
		Status:         certmgr.StatusActive,
	})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{TotalCertificates: len(active)}
	seen := map[string]bool{}

	for _, record := range active {
		certPEM, err := m.store.RetrieveCertificate(ctx, record.CertificateID)
		issues := EvaluateCertificate(record, certPEM)
		if err != nil {
			issues = append(issues, "certificate blob unavailable")
		}

		if len(issues) == 0 {
			report.Compliant++
			continue
		}
		report.NonCompliant++
		for _, issue := range issues {
			report.Issues = append(report.Issues, ComplianceIssue{
				CertificateID: record.CertificateID,
				SubjectCN:     record.SubjectCN,
				Issue:         issue,
			})
			if !seen[issue] {
				seen[issue] = true
				report.Recommendations = append(report.Recommendations, recommendationFor(issue))
			}
		}
	}

	m.appendEvent("", certmgr.ActionComplianceCheck, true, "", map[string]string{
		"total":         strconv.Itoa(report.TotalCertificates),
		"compliant":     strconv.Itoa(report.Compliant),
		"non_compliant": strconv.Itoa(report.NonCompliant),
	})
	return report, nil
}

// GetLifecycleEvents returns audit events newest-first.
func (m *Manager) GetLifecycleEvents(filter EventFilter) ([]*certmgr.LifecycleEvent, error) {
	return m.events.List(filter)
}

// EvaluateCertificate applies the FIRS compliance rules to one
// certificate and returns the list of violations. A nil certPEM skips
// the checks that need the parsed certificate.
func EvaluateCertificate(record *certmgr.StoredCertificate, certPEM []byte) []string {
	var issues []string

	validityDays := int(record.NotAfter.Sub(record.NotBefore).Hours() / 24)
	if validityDays > policy.MaxValidityDays {
		issues = append(issues, fmt.Sprintf("validity period %d days exceeds the %d-day ceiling",
			validityDays, policy.MaxValidityDays))
	}

	if certPEM != nil {
		if cert, err := certgen.ParseCertificatePEM(certPEM); err == nil {
			if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok && pub.N.BitLen() < policy.MinRSAKeySize {
				issues = append(issues, fmt.Sprintf("key size %d is below the %d-bit minimum",
					pub.N.BitLen(), policy.MinRSAKeySize))
			}
			if record.CertificateType == "firs_einvoice" {
				hasNG := false
				for _, c := range cert.Subject.Country {
					if c == "NG" {
						hasNG = true
					}
				}
				if !hasNG {
					issues = append(issues, "subject country is not NG")
				}
			}
		}
	}

	return issues
}

// recommendationFor maps a compliance issue to its remediation.
func recommendationFor(issue string) string {
	switch {
	case strings.Contains(issue, "validity period"):
		return fmt.Sprintf("reissue with a validity of at most %d days", policy.MaxValidityDays)
	case strings.Contains(issue, "key size"):
		return fmt.Sprintf("rotate to a key of at least %d bits", policy.MinRSAKeySize)
	case strings.Contains(issue, "country"):
		return "reissue with subject country NG for FIRS e-invoice signing"
	default:
		return "review certificate against FIRS onboarding requirements"
	}
}

// appendEvent records one lifecycle event, logging rather than failing
// when the sink is unavailable: audit must not break the operation it
// audits, but the miss is loudly visible.
func (m *Manager) appendEvent(certificateID string, action certmgr.LifecycleAction, success bool, errMsg string, details map[string]string) {
	event := &certmgr.LifecycleEvent{
		CertificateID: certificateID,
		Action:        action,
		Timestamp:     m.now().UTC(),
		Details:       details,
		Success:       success,
		ErrorMessage:  errMsg,
	}
	if err := m.events.Append(event); err != nil {
		m.logger.Errorw("failed to append lifecycle event",
			"action", string(action), "certificate_id", certificateID, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return "operation did not apply"
	}
	return err.Error()
}

func mergeMaps(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
