package compliance

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

func newHandlerFixture(t *testing.T) (*Handler, *holdFixture, *echo.Echo) {
	t.Helper()
	f := newHoldFixture(t)
	return NewHandler(f.svc), f, echo.New()
}

func httpErrCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_OpenHold(t *testing.T) {
	h, f, e := newHandlerFixture(t)

	body := `{
		"patient_id": "` + uuid.New().String() + `",
		"hold_type": "manual_review",
		"reason": "inconsistent pill counts",
		"severity": "high",
		"clearing_roles": ["physician"],
		"created_by_id": "` + uuid.New().String() + `"
	}`
	req := httptest.NewRequest(http.MethodPost, "/takehome/holds", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.OpenHold(e.NewContext(req, rec)); err != nil {
		t.Fatalf("OpenHold handler: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201", rec.Code)
	}

	var hold Hold
	if err := json.Unmarshal(rec.Body.Bytes(), &hold); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if hold.Status != HoldStatusActive {
		t.Errorf("status %q, want active", hold.Status)
	}
	if len(f.holds.holds) != 1 {
		t.Errorf("repo holds %d rows, want 1", len(f.holds.holds))
	}
}

func TestHandler_OpenHold_MissingReason(t *testing.T) {
	h, _, e := newHandlerFixture(t)

	body := `{"patient_id":"` + uuid.New().String() + `","hold_type":"manual_review"}`
	req := httptest.NewRequest(http.MethodPost, "/takehome/holds", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.OpenHold(e.NewContext(req, rec))
	if err == nil || httpErrCode(t, err) != http.StatusBadRequest {
		t.Errorf("got %v, want 400", err)
	}
}

func TestHandler_ClearHold(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	hold := openHold(t, f)

	body := `{"cleared_by_id":"` + uuid.New().String() + `","notes":"counseling completed"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/takehome/holds/:id")
	c.SetParamNames("id")
	c.SetParamValues(hold.ID.String())

	if err := h.ClearHold(c); err != nil {
		t.Fatalf("ClearHold handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var got Hold
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != HoldStatusCleared {
		t.Errorf("status %q, want cleared", got.Status)
	}
}

func TestHandler_ClearHold_Conflict(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	hold := openHold(t, f)
	if _, err := f.svc.ClearHold(context.Background(), ClearRequest{HoldID: hold.ID, ClearedByID: uuid.New()}); err != nil {
		t.Fatalf("setup clear: %v", err)
	}

	body := `{"cleared_by_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/takehome/holds/:id")
	c.SetParamNames("id")
	c.SetParamValues(hold.ID.String())

	err := h.ClearHold(c)
	if err == nil || httpErrCode(t, err) != http.StatusConflict {
		t.Errorf("got %v, want 409", err)
	}
}

func TestHandler_OverrideHold(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	hold := openHold(t, f)

	body := `{
		"justification": "patient hospitalized, family picked up verified dose",
		"overridden_by_id": "` + uuid.New().String() + `"
	}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/takehome/holds/:id/override")
	c.SetParamNames("id")
	c.SetParamValues(hold.ID.String())

	if err := h.OverrideHold(c); err != nil {
		t.Fatalf("OverrideHold handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var result OverrideResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Hold.Status != HoldStatusCleared {
		t.Errorf("hold status %q, want cleared", result.Hold.Status)
	}
	if result.DEAReference == nil {
		t.Error("expected dea reference in override result")
	}

	// The requester IP lands in the audit row.
	audits, _ := f.audits.ListByHold(context.Background(), hold.ID)
	if len(audits) != 1 || audits[0].OriginIP == nil {
		t.Error("expected audit row with origin ip")
	}
}

func TestHandler_OverrideHold_ShortJustification(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	hold := openHold(t, f)

	body := `{"justification":"too short","overridden_by_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/takehome/holds/:id/override")
	c.SetParamNames("id")
	c.SetParamValues(hold.ID.String())

	err := h.OverrideHold(c)
	if err == nil || httpErrCode(t, err) != http.StatusBadRequest {
		t.Errorf("got %v, want 400", err)
	}
}

func TestHandler_ListHolds(t *testing.T) {
	h, f, e := newHandlerFixture(t)
	hold := openHold(t, f)
	openHold(t, f)

	req := httptest.NewRequest(http.MethodGet, "/?patient_id="+hold.PatientID.String(), nil)
	rec := httptest.NewRecorder()

	if err := h.ListHolds(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ListHolds: %v", err)
	}

	var resp struct {
		Data  []*Hold `json:"data"`
		Total int     `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("total %d, want 1", resp.Total)
	}
	if resp.Data[0].PatientName == nil {
		t.Error("expected patient name joined into the listing")
	}
}

func TestHandler_ListReviewsDue(t *testing.T) {
	h, f, e := newHandlerFixture(t)

	hold := openHold(t, f)
	if _, err := f.svc.OverrideHold(context.Background(), OverrideRequest{
		HoldID:         hold.ID,
		Justification:  "patient hospitalized, family picked up verified dose",
		OverriddenByID: uuid.New(),
	}); err != nil {
		t.Fatalf("OverrideHold: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/takehome/holds/reviews-due", nil)
	rec := httptest.NewRecorder()

	if err := h.ListReviewsDue(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ListReviewsDue handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	var audits []*OverrideAudit
	if err := json.Unmarshal(rec.Body.Bytes(), &audits); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("expected 1 due review, got %d", len(audits))
	}
	if audits[0].HoldID != hold.ID {
		t.Errorf("due review hold %s, want %s", audits[0].HoldID, hold.ID)
	}
}

func TestHandler_GetHold_NotFound(t *testing.T) {
	h, _, e := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/takehome/holds/:id")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetHold(c)
	if err == nil || httpErrCode(t, err) != http.StatusNotFound {
		t.Errorf("got %v, want 404", err)
	}
}
