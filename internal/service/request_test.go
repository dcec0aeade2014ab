package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/taxpoynt/certmgr/internal/certgen"
)

func TestCertificateRequestWorkflow(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	reqID, csrPEM, keyPath, err := h.requests.CreateCertificateRequest(ctx, serviceSubject(), "org-001", "general", 2048)
	if err != nil {
		t.Fatalf("CreateCertificateRequest failed: %v", err)
	}
	if !strings.HasPrefix(reqID, "req-") {
		t.Errorf("request id = %q, want req- prefix", reqID)
	}
	csr, err := certgen.ParseCSRPEM(csrPEM)
	if err != nil {
		t.Fatalf("returned CSR does not parse: %v", err)
	}
	if csr.Subject.CommonName != "invoice.acme.ng" {
		t.Errorf("CSR CN = %q", csr.Subject.CommonName)
	}
	if _, err := os.Stat(keyPath); err != nil {
		t.Fatalf("private key was not persisted: %v", err)
	}

	request, err := h.requests.GetRequest(ctx, reqID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if request.Status != RequestPending {
		t.Errorf("status = %s, want pending", request.Status)
	}

	caID := registerSigningCA(t, h)
	ok, msg, certID, err := h.requests.SubmitRequestToCA(ctx, reqID, caID, 365)
	if err != nil {
		t.Fatalf("SubmitRequestToCA failed: %v", err)
	}
	if !ok {
		t.Fatalf("submission rejected: %s", msg)
	}
	if certID == "" {
		t.Fatal("no certificate id returned")
	}

	request, err = h.requests.GetRequest(ctx, reqID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if request.Status != RequestIssued {
		t.Errorf("status = %s, want issued", request.Status)
	}
	if request.CertificateID != certID {
		t.Errorf("request certificate id = %q, want %q", request.CertificateID, certID)
	}
	if request.CAID != caID {
		t.Errorf("request CA id = %q, want %q", request.CAID, caID)
	}

	record, err := h.store.GetCertificateInfo(ctx, certID)
	if err != nil || record == nil {
		t.Fatalf("issued certificate not stored: %v", err)
	}
	if record.KeyReference != keyPath {
		t.Errorf("key reference = %q, want the request's key %q", record.KeyReference, keyPath)
	}
	if record.Metadata["request_id"] != reqID || record.Metadata["issued_by"] != caID {
		t.Errorf("metadata = %v", record.Metadata)
	}
	if record.IssuerCN != "TaxPoynt Issuing CA" {
		t.Errorf("issuer CN = %q", record.IssuerCN)
	}

	// The issued certificate signs with the key generated at request time.
	if _, err := h.svc.SignData(ctx, []byte("payload"), certID, SignOptions{}); err != nil {
		t.Errorf("signing with the request's key failed: %v", err)
	}
}

func TestSubmitRequestToUnknownCA(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	reqID, _, _, err := h.requests.CreateCertificateRequest(ctx, serviceSubject(), "org-001", "general", 2048)
	if err != nil {
		t.Fatalf("CreateCertificateRequest failed: %v", err)
	}

	ok, msg, _, err := h.requests.SubmitRequestToCA(ctx, reqID, "ca-missing", 365)
	if err != nil {
		t.Fatalf("SubmitRequestToCA returned an error: %v", err)
	}
	if ok {
		t.Fatal("submission to an unknown CA succeeded")
	}
	if !strings.Contains(msg, "not registered") {
		t.Errorf("message = %q", msg)
	}

	request, err := h.requests.GetRequest(ctx, reqID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if request.Status != RequestFailed {
		t.Errorf("status = %s, want failed", request.Status)
	}
	if request.ErrorMessage == "" {
		t.Error("failed request carries no error message")
	}
}

func TestGetRequestNotFound(t *testing.T) {
	h := newTestService(t)

	_, err := h.requests.GetRequest(context.Background(), "req-missing")
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("error = %v, want ErrRequestNotFound", err)
	}
}

func TestListRequestsFiltersByOrganization(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	for _, org := range []string{"org-001", "org-001", "org-002"} {
		if _, _, _, err := h.requests.CreateCertificateRequest(ctx, serviceSubject(), org, "general", 2048); err != nil {
			t.Fatalf("CreateCertificateRequest failed: %v", err)
		}
	}

	all, err := h.requests.ListRequests(ctx, "")
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered list length = %d, want 3", len(all))
	}

	scoped, err := h.requests.ListRequests(ctx, "org-001")
	if err != nil {
		t.Fatalf("ListRequests failed: %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("filtered list length = %d, want 2", len(scoped))
	}
	for _, r := range scoped {
		if r.OrganizationID != "org-001" {
			t.Errorf("request %s belongs to %s", r.RequestID, r.OrganizationID)
		}
	}
}
