package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jalsetu/apiserver/internal/notify"
	"github.com/jalsetu/apiserver/internal/services"
	"github.com/jalsetu/apiserver/internal/testutil"
	"github.com/jalsetu/apiserver/types"
)

type recordingDeliverer struct {
	deliveries []notify.Delivery
}

func (d *recordingDeliverer) Deliver(_ context.Context, delivery notify.Delivery) notify.Report {
	d.deliveries = append(d.deliveries, delivery)
	report := notify.Report{}
	for _, channel := range delivery.Channels {
		if channel == notify.ChannelWhatsApp {
			report[channel] = "failed: twilio unavailable"
			continue
		}
		report[channel] = notify.StatusSent
	}
	return report
}

type staticAnalytics struct{}

func (staticAnalytics) ReportStatusCounts(context.Context) (map[types.ReportStatus]int, error) {
	return map[types.ReportStatus]int{types.StatusPending: 2}, nil
}

func (staticAnalytics) AverageResolutionHours(context.Context) (float64, error) { return 0, nil }

func (staticAnalytics) TechnicianWorkload(context.Context) ([]types.TechnicianWorkload, error) {
	return nil, nil
}

func (staticAnalytics) ScheduleCounts(context.Context) (types.ScheduleCounts, error) {
	return types.ScheduleCounts{}, nil
}

type testAPI struct {
	router    *chi.Mux
	inbox     *testutil.OTPInbox
	photos    *testutil.Photos
	deliverer *recordingDeliverer
}

func newTestAPI(t *testing.T, requireOTP bool) *testAPI {
	t.Helper()

	users := testutil.NewUsers()
	api := &testAPI{
		inbox:     testutil.NewOTPInbox(),
		photos:    testutil.NewPhotos(),
		deliverer: &recordingDeliverer{},
	}
	events := &testutil.Events{}

	authService := services.NewAuthService(users, testutil.NewSessions(), testutil.NewOTPs(), api.inbox, services.AuthOptions{
		Secret:     "handler-test-secret",
		RequireOTP: requireOTP,
	})
	userService := services.NewUserService(users)
	reportService := services.NewReportService(testutil.NewReports(), users, api.photos, events)
	scheduleService := services.NewScheduleService(testutil.NewSchedules(), users, events)
	analyticsService := services.NewAnalyticsService(staticAnalytics{}, nil)
	authMiddleware := RequireAuth(authService)

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, authService, nil)
		})
		r.Route("/users", func(r chi.Router) {
			UserRouter(r, userService, authMiddleware)
		})
		r.Route("/reports", func(r chi.Router) {
			ReportRouter(r, reportService, authMiddleware)
		})
		r.Route("/schedules", func(r chi.Router) {
			ScheduleRouter(r, scheduleService, authMiddleware)
		})
		r.Route("/email", func(r chi.Router) {
			EmailRouter(r, api.deliverer, userService, authMiddleware)
		})
		r.Route("/analytics", func(r chi.Router) {
			AnalyticsRouter(r, analyticsService, authMiddleware)
		})
	})
	api.router = router
	return api
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// signup registers an account with the given role and returns its token and id.
func (a *testAPI) signup(t *testing.T, email string, role types.Role) (string, int) {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":     email,
		"password":  "password123",
		"full_name": strings.Split(email, "@")[0],
		"phone":     "+919800000000",
		"address":   "Main Road",
		"role":      string(role),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: %d %s", email, rec.Code, rec.Body.String())
	}
	var result services.AuthResult
	decode(t, rec, &result)
	return result.Token, result.Account.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, false)
	expectStatus(t, api.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func TestAuthEndpoints(t *testing.T) {
	api := newTestAPI(t, false)

	token, _ := api.signup(t, "asha@example.com", types.RoleResident)
	if token == "" {
		t.Fatal("expected token when otp is disabled")
	}

	rec := api.do(t, http.MethodGet, "/api/auth/me", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var me types.Account
	decode(t, rec, &me)
	if me.Email != "asha@example.com" || me.Role() != types.RoleResident {
		t.Fatalf("me = %+v", me)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatal("password hash leaked")
	}

	rec = api.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "asha@example.com", "password": "password123", "full_name": "Asha",
	})
	expectStatus(t, rec, http.StatusConflict)

	expectStatus(t, api.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "asha@example.com", Password: "nope"}), http.StatusUnauthorized)

	rec = api.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "asha@example.com", Password: "password123"})
	expectStatus(t, rec, http.StatusOK)
	var login services.AuthResult
	decode(t, rec, &login)

	expectStatus(t, api.do(t, http.MethodPost, "/api/auth/logout", login.Token, nil), http.StatusNoContent)
	expectStatus(t, api.do(t, http.MethodGet, "/api/auth/me", login.Token, nil), http.StatusUnauthorized)
	// The first session is untouched.
	expectStatus(t, api.do(t, http.MethodGet, "/api/auth/me", token, nil), http.StatusOK)

	expectStatus(t, api.do(t, http.MethodGet, "/api/auth/me", "", nil), http.StatusUnauthorized)
	expectStatus(t, api.do(t, http.MethodGet, "/api/auth/me", "not-a-jwt", nil), http.StatusUnauthorized)
}

func TestSignupWithOTPOverHTTP(t *testing.T) {
	api := newTestAPI(t, true)

	rec := api.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "new@example.com", "password": "password123", "full_name": "New Resident",
	})
	expectStatus(t, rec, http.StatusCreated)
	var pending services.AuthResult
	decode(t, rec, &pending)
	if !pending.OTPRequired || pending.Token != "" {
		t.Fatalf("signup = %+v", pending)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Email: "new@example.com", Password: "password123"}), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodPost, "/api/auth/verify-otp", "", VerifyOTPRequest{Email: "new@example.com", OTP: "abcdef"}), http.StatusBadRequest)

	rec = api.do(t, http.MethodPost, "/api/auth/verify-otp", "", VerifyOTPRequest{Email: "new@example.com", OTP: api.inbox.Code("new@example.com")})
	expectStatus(t, rec, http.StatusOK)
	var verified services.AuthResult
	decode(t, rec, &verified)
	if verified.Token == "" || !verified.Account.EmailVerified {
		t.Fatalf("verify = %+v", verified)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/auth/resend-otp", "", ResendOTPRequest{Email: "new@example.com"}), http.StatusBadRequest)
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, false)
	resident, _ := api.signup(t, "ravi@example.com", types.RoleResident)
	officer, _ := api.signup(t, "officer@example.com", types.RoleOfficer)
	technician, techID := api.signup(t, "tech@example.com", types.RoleTechnician)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("full_name", "Ravi Kumar")
	_ = writer.WriteField("phone", "+919812345678")
	_ = writer.WriteField("address", "Ward 4")
	_ = writer.WriteField("notes", "water gushing")
	_ = writer.WriteField("lat", "12.9716")
	_ = writer.WriteField("lng", "77.5946")
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="photo"; filename="leak.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write([]byte("fake-jpeg"))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/reports", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+resident)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)

	var report types.Report
	decode(t, rec, &report)
	if report.Status != types.StatusPending || report.Location == nil || report.PhotoURL == nil {
		t.Fatalf("created = %+v", report)
	}
	base := fmt.Sprintf("/api/reports/%d", report.ID)

	expectStatus(t, api.do(t, http.MethodPost, base+"/approve", officer, nil), http.StatusConflict)
	expectStatus(t, api.do(t, http.MethodPost, base+"/assign", resident, AssignRequest{TechnicianID: techID}), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodPost, base+"/assign", officer, AssignRequest{TechnicianID: techID}), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+"/accept", technician, nil), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+"/complete", technician, CompleteRequest{}), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodPost, base+"/complete", technician, CompleteRequest{CompletionNotes: "pipe resealed"}), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+"/reject", officer, ReasonRequest{Reason: " "}), http.StatusBadRequest)

	rec = api.do(t, http.MethodPost, base+"/approve", officer, nil)
	expectStatus(t, rec, http.StatusOK)
	var approved map[string]any
	decode(t, rec, &approved)
	if approved["status"] != "approved" || approved["approved_by"] == nil || approved["rejection_reason"] != nil {
		t.Fatalf("approved = %v", approved)
	}

	rec = api.do(t, http.MethodGet, base+"/photo", resident, nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "fake-jpeg" || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("photo = %q (%s)", rec.Body.String(), rec.Header().Get("Content-Type"))
	}
	expectStatus(t, api.do(t, http.MethodGet, base+"/completion-photo", resident, nil), http.StatusNotFound)

	rec = api.do(t, http.MethodGet, "/api/reports?status=approved&limit=5", officer, nil)
	expectStatus(t, rec, http.StatusOK)
	var list ReportListResponse
	decode(t, rec, &list)
	if list.Total != 1 || list.Limit != 5 || list.Page != 1 {
		t.Fatalf("list = %+v", list)
	}

	expectStatus(t, api.do(t, http.MethodGet, "/api/reports?status=fixed", officer, nil), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodGet, "/api/reports/abc", officer, nil), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodGet, "/api/reports/999", officer, nil), http.StatusNotFound)
	expectStatus(t, api.do(t, http.MethodDelete, base, resident, nil), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodDelete, base, officer, nil), http.StatusNoContent)
	if api.photos.Len() != 0 {
		t.Fatal("photo left behind after delete")
	}
}

func TestCreateReportJSONWithSamples(t *testing.T) {
	api := newTestAPI(t, false)
	resident, _ := api.signup(t, "gps@example.com", types.RoleResident)

	rec := api.do(t, http.MethodPost, "/api/reports", resident, map[string]any{
		"full_name": "Gita",
		"phone":     "+919811111111",
		"address":   "Canal Street",
		"gps_samples": []map[string]float64{
			{"lat": 10.0, "lng": 76.0, "accuracy": 5},
			{"lat": 10.0001, "lng": 76.0001, "accuracy": 5},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	var report types.Report
	decode(t, rec, &report)
	if report.Location == nil || report.Location.Accuracy <= 0 {
		t.Fatalf("location = %+v", report.Location)
	}

	rec = api.do(t, http.MethodPost, "/api/reports", resident, map[string]any{
		"full_name":   "Gita",
		"phone":       "+919811111111",
		"address":     "Canal Street",
		"gps_samples": []map[string]float64{{"lat": 10, "lng": 76, "accuracy": 500}},
	})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestScheduleEndpoints(t *testing.T) {
	api := newTestAPI(t, false)
	controller, _ := api.signup(t, "flow@example.com", types.RoleController)
	resident, residentID := api.signup(t, "home@example.com", types.RoleResident)

	open := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec := api.do(t, http.MethodPost, "/api/schedules", controller, map[string]any{
		"user_id":              residentID,
		"area":                 "Ward 4",
		"scheduled_open_time":  open,
		"scheduled_close_time": open.Add(2 * time.Hour),
	})
	expectStatus(t, rec, http.StatusCreated)
	var schedule types.Schedule
	decode(t, rec, &schedule)
	base := fmt.Sprintf("/api/schedules/%d", schedule.ID)

	expectStatus(t, api.do(t, http.MethodPost, "/api/schedules", resident, map[string]any{"area": "x"}), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodGet, "/api/schedules/active", resident, nil), http.StatusNotFound)
	expectStatus(t, api.do(t, http.MethodPost, base+"/open", resident, nil), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodPost, base+"/open", controller, nil), http.StatusOK)

	rec = api.do(t, http.MethodGet, "/api/schedules/active", resident, nil)
	expectStatus(t, rec, http.StatusOK)
	var active types.Schedule
	decode(t, rec, &active)
	if active.ID != schedule.ID || !active.IsActive {
		t.Fatalf("active = %+v", active)
	}

	expectStatus(t, api.do(t, http.MethodPost, base+"/interrupt", controller, ReasonRequest{}), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodPost, base+"/interrupt", controller, ReasonRequest{Reason: "burst main"}), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+"/close", controller, nil), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+"/close", controller, nil), http.StatusConflict)
	expectStatus(t, api.do(t, http.MethodPost, base+"/open", controller, nil), http.StatusConflict)

	rec = api.do(t, http.MethodGet, "/api/schedules?active=false", resident, nil)
	expectStatus(t, rec, http.StatusOK)
	var schedules []types.Schedule
	decode(t, rec, &schedules)
	if len(schedules) != 1 || schedules[0].ActualCloseTime == nil {
		t.Fatalf("schedules = %+v", schedules)
	}
	expectStatus(t, api.do(t, http.MethodGet, "/api/schedules?active=maybe", resident, nil), http.StatusBadRequest)
}

func TestUserEndpoints(t *testing.T) {
	api := newTestAPI(t, false)
	officer, _ := api.signup(t, "officer@example.com", types.RoleOfficer)
	resident, residentID := api.signup(t, "res@example.com", types.RoleResident)
	api.signup(t, "tech@example.com", types.RoleTechnician)

	rec := api.do(t, http.MethodPut, "/api/users/me", resident, services.ProfileUpdate{Phone: "+911234567890"})
	expectStatus(t, rec, http.StatusOK)
	var updated types.Account
	decode(t, rec, &updated)
	if updated.Profile.Phone != "+911234567890" || updated.Profile.FullName != "res" {
		t.Fatalf("updated = %+v", updated.Profile)
	}

	expectStatus(t, api.do(t, http.MethodGet, "/api/users", resident, nil), http.StatusForbidden)
	rec = api.do(t, http.MethodGet, "/api/users?role=maintenance_technician", officer, nil)
	expectStatus(t, rec, http.StatusOK)
	var technicians []types.Account
	decode(t, rec, &technicians)
	if len(technicians) != 1 || technicians[0].Role() != types.RoleTechnician {
		t.Fatalf("technicians = %+v", technicians)
	}
	expectStatus(t, api.do(t, http.MethodGet, "/api/users?role=mayor", officer, nil), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d", residentID), officer, nil), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodGet, "/api/users/404", officer, nil), http.StatusNotFound)
}

func TestEmailSend(t *testing.T) {
	api := newTestAPI(t, false)
	officer, _ := api.signup(t, "officer@example.com", types.RoleOfficer)
	resident, residentID := api.signup(t, "res@example.com", types.RoleResident)

	expectStatus(t, api.do(t, http.MethodPost, "/api/email/send", resident, SendRequest{Email: "x@example.com", Message: "hi"}), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodPost, "/api/email/send", officer, SendRequest{UserID: residentID}), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodPost, "/api/email/send", officer, SendRequest{Message: "hi", Channels: []string{"pigeon"}}), http.StatusBadRequest)
	expectStatus(t, api.do(t, http.MethodPost, "/api/email/send", officer, SendRequest{Message: "hi"}), http.StatusBadRequest)

	rec := api.do(t, http.MethodPost, "/api/email/send", officer, SendRequest{
		UserID:   residentID,
		Message:  "Supply resumes at 6 pm",
		Channels: []string{"email", "whatsapp"},
	})
	expectStatus(t, rec, http.StatusOK)
	var resp SendResponse
	decode(t, rec, &resp)
	if resp.Results[notify.ChannelEmail] != notify.StatusSent || !strings.HasPrefix(resp.Results[notify.ChannelWhatsApp], "failed") || !resp.Failed {
		t.Fatalf("response = %+v", resp)
	}

	if len(api.deliverer.deliveries) != 1 {
		t.Fatalf("deliveries = %d", len(api.deliverer.deliveries))
	}
	got := api.deliverer.deliveries[0]
	if got.Email != "res@example.com" || got.Phone != "+919800000000" || got.Subject != defaultSubject {
		t.Fatalf("delivery = %+v", got)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	api := newTestAPI(t, false)
	controller, _ := api.signup(t, "flow@example.com", types.RoleController)
	technician, _ := api.signup(t, "tech@example.com", types.RoleTechnician)

	expectStatus(t, api.do(t, http.MethodGet, "/api/analytics", technician, nil), http.StatusForbidden)
	rec := api.do(t, http.MethodGet, "/api/analytics", controller, nil)
	expectStatus(t, rec, http.StatusOK)
	var summary types.Analytics
	decode(t, rec, &summary)
	if summary.TotalReports != 2 || len(summary.ReportsByStatus) != len(types.ReportStatuses()) {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestParsePagination(t *testing.T) {
	cases := []struct {
		query               string
		page, limit, offset int
		wantErr             bool
	}{
		{"", 1, 20, 0, false},
		{"page=3&limit=10", 3, 10, 20, false},
		{"per_page=500", 1, 100, 0, false},
		{"page=0", 0, 0, 0, true},
		{"limit=x", 0, 0, 0, true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		page, limit, offset, err := parsePagination(req)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err = %v", tc.query, err)
		}
		if page != tc.page || limit != tc.limit || offset != tc.offset {
			t.Fatalf("%q: got %d/%d/%d", tc.query, page, limit, offset)
		}
	}
}
