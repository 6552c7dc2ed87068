package dea

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestHandler_SyncEvent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	h := NewHandler(svc)
	e := echo.New()

	body := `{
		"event_type": "missed_dose",
		"patient_id": "` + uuid.New().String() + `",
		"payload": {"bottles": 2}
	}`
	req := httptest.NewRequest(http.MethodPost, "/dea/sync", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.SyncEvent(e.NewContext(req, rec)); err != nil {
		t.Fatalf("SyncEvent handler: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201", rec.Code)
	}

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !referencePattern.MatchString(report.ReferenceNumber) {
		t.Errorf("reference %q", report.ReferenceNumber)
	}
	if len(repo.reports) != 1 {
		t.Errorf("expected 1 stored report, got %d", len(repo.reports))
	}
}

func TestHandler_SyncEvent_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/dea/sync", strings.NewReader(`{"event_type":"missed_dose"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.SyncEvent(e.NewContext(req, rec))
	if err == nil {
		t.Fatal("expected error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("got %v, want 400", err)
	}
}

func TestHandler_Summary(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.SetSummarySources(&stubScanRepo{}, &stubAlertRepo{})
	h := NewHandler(svc)
	e := echo.New()

	if _, err := svc.SyncEvent(context.Background(), SyncRequest{
		EventType: EventMissedDose,
		PatientID: uuid.New(),
	}); err != nil {
		t.Fatalf("setup sync: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/dea/sync", nil)
	rec := httptest.NewRecorder()

	if err := h.Summary(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Summary handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var sum Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sum.TotalReports != 1 {
		t.Errorf("total reports %d, want 1", sum.TotalReports)
	}
}
