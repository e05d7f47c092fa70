package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/servicecenter/scheduler/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc := newTestService()
	h := NewHandler(svc, zerolog.Nop())
	e := echo.New()
	api := e.Group("/api/v1", auth.DevAuthMiddleware())
	h.RegisterRoutes(api)
	return h, e
}

func do(e *echo.Echo, method, path, body, user, roles string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(auth.DevUserHeader, user)
	req.Header.Set(auth.DevRolesHeader, roles)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

const bookBody = `{"vehicle_number":"KA-01-1","vehicle_type":"car","service_type":"wash","appointment_date":"2025-06-01","appointment_time":"11:00"}`

func TestHandler_Book(t *testing.T) {
	_, e := newTestHandler()

	rec := do(e, http.MethodPost, "/api/v1/appointments", bookBody, "cust-1", "customer")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AppointmentID int64        `json:"appointment_id"`
		Appointment   *Appointment `json:"appointment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AppointmentID == 0 || resp.Appointment.CustomerID != "cust-1" {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
	if resp.Appointment.Status != StatusPending {
		t.Errorf("expected Pending, got %s", resp.Appointment.Status)
	}
}

func TestHandler_Book_Conflict(t *testing.T) {
	_, e := newTestHandler()
	do(e, http.MethodPost, "/api/v1/appointments", bookBody, "cust-1", "customer")

	rec := do(e, http.MethodPost, "/api/v1/appointments", bookBody, "cust-2", "customer")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_Book_BadRequest(t *testing.T) {
	_, e := newTestHandler()
	tests := []struct {
		name string
		body string
	}{
		{"missing fields", `{"vehicle_number":"KA-01-1"}`},
		{"bad slot", strings.Replace(bookBody, "11:00", "10:15", 1)},
		{"bad date", strings.Replace(bookBody, "2025-06-01", "01/06/2025", 1)},
		{"malformed json", `{"vehicle_number":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/v1/appointments", tt.body, "cust-1", "customer")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_Book_RequiresCustomerRole(t *testing.T) {
	_, e := newTestHandler()
	rec := do(e, http.MethodPost, "/api/v1/appointments", bookBody, "tech-1", "technician")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_AvailableSlots(t *testing.T) {
	_, e := newTestHandler()
	do(e, http.MethodPost, "/api/v1/appointments", bookBody, "cust-1", "customer")

	rec := do(e, http.MethodGet, "/api/v1/appointments/available-slots/2025-06-01", "", "cust-2", "customer")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Date  string     `json:"date"`
		Slots []TimeSlot `json:"available_slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []TimeSlot{Slot0800, Slot0930, Slot1230, Slot1400, Slot1530}
	if resp.Date != "2025-06-01" || !equalSlots(resp.Slots, want) {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_AvailableSlots_InvalidDate(t *testing.T) {
	_, e := newTestHandler()
	rec := do(e, http.MethodGet, "/api/v1/appointments/available-slots/2020-01-01", "", "cust-1", "customer")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_ListByCustomer_Ownership(t *testing.T) {
	_, e := newTestHandler()
	do(e, http.MethodPost, "/api/v1/appointments", bookBody, "cust-1", "customer")

	if rec := do(e, http.MethodGet, "/api/v1/appointments/user/cust-1", "", "cust-1", "customer"); rec.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/appointments/user/cust-1", "", "tech-1", "technician"); rec.Code != http.StatusOK {
		t.Errorf("technician: expected 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/appointments/user/cust-1", "", "cust-2", "customer"); rec.Code != http.StatusForbidden {
		t.Errorf("other customer: expected 403, got %d", rec.Code)
	}
}

func TestHandler_Get(t *testing.T) {
	h, e := newTestHandler()
	a := mustBook(t, h.svc, bookingFor("cust-1", testDate, Slot0800))
	path := "/api/v1/appointments/" + itoa(a.ID)

	if rec := do(e, http.MethodGet, path, "", "cust-1", "customer"); rec.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, path, "", "cust-2", "customer"); rec.Code != http.StatusNotFound {
		t.Errorf("other customer: expected 404, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/v1/appointments/abc", "", "cust-1", "customer"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestHandler_ListAll(t *testing.T) {
	h, e := newTestHandler()
	mustBook(t, h.svc, bookingFor("cust-1", testDate, Slot0800))
	mustBook(t, h.svc, bookingFor("cust-2", testDate, Slot0930))

	rec := do(e, http.MethodGet, "/api/v1/appointments?limit=1", "", "admin-1", "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
		Links   []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || !resp.HasMore {
		t.Errorf("unexpected page %s", rec.Body.String())
	}
	if len(resp.Links) != 2 || resp.Links[1].Href != "/api/v1/appointments?limit=1&offset=1" {
		t.Errorf("unexpected links %+v", resp.Links)
	}

	if rec := do(e, http.MethodGet, "/api/v1/appointments", "", "tech-1", "technician"); rec.Code != http.StatusForbidden {
		t.Errorf("technician: expected 403, got %d", rec.Code)
	}
}

func TestHandler_SetStatus(t *testing.T) {
	h, e := newTestHandler()
	a := mustBook(t, h.svc, bookingFor("cust-1", testDate, Slot0800))
	path := "/api/v1/appointments/" + itoa(a.ID) + "/status"

	rec := do(e, http.MethodPatch, path, `{"status_":"Confirmed"}`, "tech-1", "technician")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Previous Status `json:"previous_status"`
		Status   Status `json:"status_"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Previous != StatusPending || resp.Status != StatusConfirmed {
		t.Errorf("unexpected response %s", rec.Body.String())
	}

	if rec := do(e, http.MethodPatch, path, `{"status_":"Done"}`, "tech-1", "technician"); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status: expected 400, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPatch, "/api/v1/appointments/999/status", `{"status_":"Pending"}`, "tech-1", "technician"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPatch, path, `{"status_":"Pending"}`, "cust-1", "customer"); rec.Code != http.StatusForbidden {
		t.Errorf("customer: expected 403, got %d", rec.Code)
	}
}

func TestHandler_Reschedule(t *testing.T) {
	h, e := newTestHandler()
	x := mustBook(t, h.svc, bookingFor("cust-1", testDate, Slot0800))
	mustBook(t, h.svc, bookingFor("cust-2", testDate, Slot0930))
	path := "/api/v1/appointments/" + itoa(x.ID)

	rec := do(e, http.MethodPatch, path, `{"appointment_time":"09:30"}`, "tech-1", "technician")
	if rec.Code != http.StatusConflict {
		t.Errorf("taken slot: expected 409, got %d", rec.Code)
	}

	rec = do(e, http.MethodPatch, path, `{"appointment_time":"14:00"}`, "tech-1", "technician")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Previous SlotInfo `json:"previous"`
		Current  SlotInfo `json:"current"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Previous.Time != Slot0800 || resp.Current.Time != Slot1400 {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_Delete(t *testing.T) {
	h, e := newTestHandler()
	a := mustBook(t, h.svc, bookingFor("cust-1", testDate, Slot0800))
	path := "/api/v1/appointments/" + itoa(a.ID)

	if rec := do(e, http.MethodDelete, path, "", "tech-1", "technician"); rec.Code != http.StatusForbidden {
		t.Errorf("technician: expected 403, got %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, path, "", "admin-1", "admin"); rec.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, path, "", "admin-1", "admin"); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestHandler_StorageFaultIsOpaque(t *testing.T) {
	svc := NewService(failingRepo{NewMemoryRepository()}, FixedClock{T: testNow}, nil, zerolog.Nop())
	h := NewHandler(svc, zerolog.Nop())
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("date")
	c.SetParamValues("2025-06-01")

	err := h.AvailableSlots(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if strings.Contains(httpErr.Error(), "connection refused") {
		t.Error("storage detail leaked to the client")
	}
}
