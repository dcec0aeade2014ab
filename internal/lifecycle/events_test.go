package lifecycle

import (
	"path/filepath"
	"testing"
	"time"

	certmgr "github.com/taxpoynt/certmgr"
)

func newTestEventLog(t *testing.T) *BoltEventLog {
	t.Helper()
	log, err := OpenBoltEventLog(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenBoltEventLog: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestEventLogAppendAssignsIdentity(t *testing.T) {
	log := newTestEventLog(t)

	event := &certmgr.LifecycleEvent{
		CertificateID: "cert-1",
		Action:        certmgr.ActionRenewal,
		Success:       true,
	}
	if err := log.Append(event); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if event.EventID == "" {
		t.Errorf("event id not assigned")
	}
	if event.Timestamp.IsZero() {
		t.Errorf("timestamp not assigned")
	}
}

func TestEventLogListNewestFirst(t *testing.T) {
	log := newTestEventLog(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := log.Append(&certmgr.LifecycleEvent{
			CertificateID: "cert-1",
			Action:        certmgr.ActionRenewal,
			Timestamp:     base.Add(time.Duration(i) * time.Hour),
			Success:       true,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := log.List(EventFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("listed %d events, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.After(events[i-1].Timestamp) {
			t.Errorf("events not newest-first at index %d", i)
		}
	}
}

func TestEventLogFilters(t *testing.T) {
	log := newTestEventLog(t)

	appendEvent := func(certID string, action certmgr.LifecycleAction) {
		t.Helper()
		if err := log.Append(&certmgr.LifecycleEvent{
			CertificateID: certID,
			Action:        action,
			Success:       true,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	appendEvent("cert-1", certmgr.ActionRenewal)
	appendEvent("cert-1", certmgr.ActionRevocation)
	appendEvent("cert-2", certmgr.ActionRenewal)

	byCert, err := log.List(EventFilter{CertificateID: "cert-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byCert) != 2 {
		t.Errorf("certificate filter matched %d events, want 2", len(byCert))
	}

	byAction, err := log.List(EventFilter{Action: certmgr.ActionRevocation})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byAction) != 1 || byAction[0].CertificateID != "cert-1" {
		t.Errorf("action filter returned %v", byAction)
	}

	limited, err := log.List(EventFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit not applied, got %d events", len(limited))
	}
}

func TestEventLogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	log, err := OpenBoltEventLog(path)
	if err != nil {
		t.Fatalf("OpenBoltEventLog: %v", err)
	}
	if err := log.Append(&certmgr.LifecycleEvent{
		CertificateID: "cert-1",
		Action:        certmgr.ActionComplianceCheck,
		Success:       true,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenBoltEventLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	events, err := reopened.List(EventFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 || events[0].CertificateID != "cert-1" {
		t.Errorf("events lost across reopen: %v", events)
	}
}
