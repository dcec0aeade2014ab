package service

import (
	"context"
	"errors"
	"testing"

	certmgr "github.com/taxpoynt/certmgr"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	id, err := h.svc.IssueSelfSigned(ctx, serviceSubject(), "org-001", "general", 365, 2048)
	if err != nil {
		t.Fatalf("IssueSelfSigned failed: %v", err)
	}

	payload := []byte(`{"invoice_number":"INV-2026-0001","total":125000}`)
	info, err := h.svc.SignData(ctx, payload, id, SignOptions{})
	if err != nil {
		t.Fatalf("SignData failed: %v", err)
	}
	if info.Algorithm != "RSA-PSS-SHA256" {
		t.Errorf("algorithm = %q", info.Algorithm)
	}
	if info.CertificateID != id {
		t.Errorf("certificate id = %q, want %q", info.CertificateID, id)
	}
	if len(info.DataHash) != 64 {
		t.Errorf("data hash length = %d, want 64 hex chars", len(info.DataHash))
	}

	result := h.svc.VerifySignature(ctx, payload, info, "")
	if !result.SignatureValid {
		t.Error("signature reported invalid")
	}
	if !result.DataHashValid {
		t.Error("data hash reported invalid")
	}
	if !result.CertificateValid {
		t.Errorf("certificate reported invalid: %v", result.CertificateErrors)
	}
	if !result.IsValid {
		t.Error("overall verdict invalid for an untampered payload")
	}
}

func TestVerifySignatureDetectsTampering(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	id, err := h.svc.IssueSelfSigned(ctx, serviceSubject(), "org-001", "general", 365, 2048)
	if err != nil {
		t.Fatalf("IssueSelfSigned failed: %v", err)
	}

	payload := []byte(`{"invoice_number":"INV-2026-0001","total":125000}`)
	info, err := h.svc.SignData(ctx, payload, id, SignOptions{})
	if err != nil {
		t.Fatalf("SignData failed: %v", err)
	}

	tampered := []byte(`{"invoice_number":"INV-2026-0001","total":925000}`)
	result := h.svc.VerifySignature(ctx, tampered, info, "")
	if result.IsValid {
		t.Fatal("tampered payload verified")
	}
	if result.DataHashValid {
		t.Error("data hash valid for tampered payload")
	}
	if result.SignatureValid {
		t.Error("signature valid for tampered payload")
	}
}

func TestVerifySignatureRejectsUnknownAlgorithm(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	id, err := h.svc.IssueSelfSigned(ctx, serviceSubject(), "org-001", "general", 365, 2048)
	if err != nil {
		t.Fatalf("IssueSelfSigned failed: %v", err)
	}

	payload := []byte("payload")
	info, err := h.svc.SignData(ctx, payload, id, SignOptions{})
	if err != nil {
		t.Fatalf("SignData failed: %v", err)
	}
	info.Algorithm = "RSA-SHA1"

	result := h.svc.VerifySignature(ctx, payload, info, "")
	if result.IsValid {
		t.Fatal("unknown algorithm verified")
	}
	if result.VerificationError == "" {
		t.Error("no verification error reported for unknown algorithm")
	}
}

func TestVerifySignatureRejectsRevokedCertificate(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	id, err := h.svc.IssueSelfSigned(ctx, serviceSubject(), "org-001", "general", 365, 2048)
	if err != nil {
		t.Fatalf("IssueSelfSigned failed: %v", err)
	}

	payload := []byte("payload")
	info, err := h.svc.SignData(ctx, payload, id, SignOptions{})
	if err != nil {
		t.Fatalf("SignData failed: %v", err)
	}

	if _, err := h.store.UpdateCertificateStatus(ctx, id, certmgr.StatusRevoked, nil); err != nil {
		t.Fatalf("failed to revoke certificate: %v", err)
	}

	result := h.svc.VerifySignature(ctx, payload, info, "")
	if result.IsValid {
		t.Fatal("signature from a revoked certificate verified")
	}
	if !result.SignatureValid {
		t.Error("cryptographic signature should still check out")
	}
	if result.CertificateValid {
		t.Error("revoked certificate reported usable")
	}
	found := false
	for _, msg := range result.CertificateErrors {
		if msg == "certificate has been revoked (store)" {
			found = true
		}
	}
	if !found {
		t.Errorf("revocation not reported in certificate errors: %v", result.CertificateErrors)
	}
}

func TestSignDataWithoutPrivateKey(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	// Store a certificate directly, bypassing key persistence. The
	// record carries no key reference and no key file matches its CN.
	orphan := serviceSubject()
	orphan.CommonName = "orphan.acme.ng"
	certPEM, _, err := h.gen.GenerateSelfSigned(orphan, 365, 2048)
	if err != nil {
		t.Fatalf("failed to generate certificate: %v", err)
	}
	id, err := h.store.StoreCertificate(ctx, certstoreInput(certPEM))
	if err != nil {
		t.Fatalf("failed to store certificate: %v", err)
	}

	_, err = h.svc.SignData(ctx, []byte("payload"), id, SignOptions{})
	if !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("error = %v, want ErrNoPrivateKey", err)
	}
}

func TestSignDataUnknownCertificate(t *testing.T) {
	h := newTestService(t)

	_, err := h.svc.SignData(context.Background(), []byte("payload"), "cert-missing", SignOptions{})
	if err == nil {
		t.Fatal("expected error for unknown certificate")
	}
}
