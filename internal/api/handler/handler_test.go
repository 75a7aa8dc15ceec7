package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"classgate/internal/dto"
	"classgate/internal/model"
	"classgate/internal/repository"
	"classgate/internal/service"
	"classgate/pkg/jwt"
	"classgate/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock AuthService ──

type mockAuthService struct {
	loginResult      *dto.TokenResponse
	loginErr         error
	refreshResult    *dto.TokenResponse
	refreshErr       error
	logoutErr        error
	getCurrentResult *dto.UserResponse
	getCurrentErr    error
}

func (m *mockAuthService) Login(_ context.Context, _ *dto.LoginRequest) (*dto.TokenResponse, error) {
	return m.loginResult, m.loginErr
}
func (m *mockAuthService) Refresh(_ context.Context, _ *dto.RefreshRequest) (*dto.TokenResponse, error) {
	return m.refreshResult, m.refreshErr
}
func (m *mockAuthService) Logout(_ context.Context, _ *jwt.Claims) error {
	return m.logoutErr
}
func (m *mockAuthService) GetCurrentUser(_ context.Context, _ string) (*dto.UserResponse, error) {
	return m.getCurrentResult, m.getCurrentErr
}

// ── Mock SessionService ──

type mockSessionService struct {
	createResult *dto.SessionResponse
	createErr    error
	getResult    *dto.SessionResponse
	getErr       error
	listResult   []dto.SessionResponse
	listTotal    int64
	listErr      error
	updateResult *dto.SessionResponse
	updateErr    error
	actionResult *dto.SessionResponse
	actionErr    error
	liveResult   *dto.LiveStatusResponse
	liveErr      error
	keysResult   []dto.FirstPhaseKeyResponse
	keysErr      error
	rotateResult *dto.LiveKeyResponse
	rotateErr    error
	importResult *dto.ImportICSResponse
	importErr    error
	ownedResult  *model.AttendanceSession
	ownedErr     error
	joinResult   *model.AttendanceSession
	joinErr      error
}

func (m *mockSessionService) Create(_ context.Context, _ *dto.CreateSessionRequest, _ string) (*dto.SessionResponse, error) {
	return m.createResult, m.createErr
}
func (m *mockSessionService) GetByID(_ context.Context, _, _ string) (*dto.SessionResponse, error) {
	return m.getResult, m.getErr
}
func (m *mockSessionService) List(_ context.Context, _ string, _ *dto.PaginationRequest) ([]dto.SessionResponse, int64, error) {
	return m.listResult, m.listTotal, m.listErr
}
func (m *mockSessionService) Update(_ context.Context, _ string, _ *dto.UpdateSessionRequest, _ string) (*dto.SessionResponse, error) {
	return m.updateResult, m.updateErr
}
func (m *mockSessionService) Open(_ context.Context, _, _ string) (*dto.SessionResponse, error) {
	return m.actionResult, m.actionErr
}
func (m *mockSessionService) Pause(_ context.Context, _, _ string) (*dto.SessionResponse, error) {
	return m.actionResult, m.actionErr
}
func (m *mockSessionService) Close(_ context.Context, _, _ string) (*dto.SessionResponse, error) {
	return m.actionResult, m.actionErr
}
func (m *mockSessionService) Live(_ context.Context, _, _ string) (*dto.LiveStatusResponse, error) {
	return m.liveResult, m.liveErr
}
func (m *mockSessionService) Keys(_ context.Context, _, _ string) ([]dto.FirstPhaseKeyResponse, error) {
	return m.keysResult, m.keysErr
}
func (m *mockSessionService) Rotate(_ context.Context, _, _ string, _ time.Duration) (*dto.LiveKeyResponse, error) {
	return m.rotateResult, m.rotateErr
}
func (m *mockSessionService) ImportICS(_ context.Context, _ *dto.ImportICSRequest, _ string) (*dto.ImportICSResponse, error) {
	return m.importResult, m.importErr
}
func (m *mockSessionService) GetOwned(_ context.Context, _, _ string) (*model.AttendanceSession, error) {
	return m.ownedResult, m.ownedErr
}
func (m *mockSessionService) LoadForJoin(_ context.Context, _, _ string) (*model.AttendanceSession, error) {
	return m.joinResult, m.joinErr
}

// ── Mock KeyPoolService ──

type mockKeyPoolService struct {
	redeemResult *model.AttendanceRecord
	redeemErr    error
}

func (m *mockKeyPoolService) Seed(_ context.Context, _ *repository.Repository, _ string, _ int) ([]model.FirstPhaseKey, error) {
	return nil, nil
}
func (m *mockKeyPoolService) Redeem(_ context.Context, _ *model.AttendanceSession, _, _, _, _ string) (*model.AttendanceRecord, error) {
	return m.redeemResult, m.redeemErr
}
func (m *mockKeyPoolService) ListBySession(_ context.Context, _ string) ([]model.FirstPhaseKey, error) {
	return nil, nil
}

// ── Mock RecorderService ──

type mockRecorderService struct {
	completeResult *model.AttendanceRecord
	completeErr    error
	overrideResult *model.AttendanceRecord
	overrideErr    error
	deleteErr      error
}

func (m *mockRecorderService) CompleteSecondPhase(_ context.Context, _ *model.AttendanceSession, _, _ string) (*model.AttendanceRecord, error) {
	return m.completeResult, m.completeErr
}
func (m *mockRecorderService) ManualOverride(_ context.Context, _ *model.AttendanceSession, _, _ string) (*model.AttendanceRecord, error) {
	return m.overrideResult, m.overrideErr
}
func (m *mockRecorderService) Delete(_ context.Context, _, _ string) error {
	return m.deleteErr
}

// ── Mock ExportService ──

type mockExportService struct {
	buf      *bytes.Buffer
	filename string
	err      error
}

func (m *mockExportService) ExportRoster(_ context.Context, _ *model.AttendanceSession) (*bytes.Buffer, string, error) {
	return m.buf, m.filename, m.err
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

const (
	testSessionUUID = "11111111-1111-1111-1111-111111111111"
	testCourseUUID  = "22222222-2222-2222-2222-222222222222"
)

func setAuth(c *gin.Context, role string) {
	c.Set("user_id", "test-user-id")
	c.Set("role", role)
	c.Set("claims", &jwt.Claims{UserID: "test-user-id", Role: role, TokenType: jwt.TokenTypeAccess})
}

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseResponse(w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func testSession() *model.AttendanceSession {
	return &model.AttendanceSession{
		SessionID:       testSessionUUID,
		CourseID:        testCourseUUID,
		TeacherID:       "test-user-id",
		Label:           "第3周 周一",
		ScheduledAt:     time.Now().Add(-10 * time.Minute),
		DurationMinutes: 45,
		OpenIntent:      true,
		Status:          model.StatusActive,
	}
}

// ═══════════════════════════════════════════════════════════
// AuthHandler Tests
// ═══════════════════════════════════════════════════════════

func TestAuthHandler_Login_Success(t *testing.T) {
	mock := &mockAuthService{
		loginResult: &dto.TokenResponse{
			AccessToken:  "test-access-token",
			RefreshToken: "test-refresh-token",
			ExpiresIn:    900,
		},
	}
	h := NewAuthHandler(mock)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/auth/login", jsonBody(dto.LoginRequest{
		Email:    "wang@example.com",
		Password: "password123",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 0 {
		t.Errorf("expected code 0, got %d", resp.Code)
	}
}

func TestAuthHandler_Login_BadJSON(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader([]byte("invalid json")))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{loginErr: service.ErrInvalidCredentials})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/auth/login", jsonBody(dto.LoginRequest{
		Email:    "wang@example.com",
		Password: "wrong",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 11001 {
		t.Errorf("expected error code 11001, got %d", resp.Code)
	}
}

func TestAuthHandler_Refresh_Invalid(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{refreshErr: service.ErrInvalidRefresh})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/auth/refresh", jsonBody(dto.RefreshRequest{
		RefreshToken: "stale-token",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/auth/refresh", h.RefreshToken)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 11002 {
		t.Errorf("expected error code 11002, got %d", resp.Code)
	}
}

func TestAuthHandler_Logout_Success(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/auth/logout", nil)

	r := gin.New()
	r.POST("/auth/logout", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.Logout(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestAuthHandler_GetCurrentUser_Unauthenticated(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth/me", nil)

	r := gin.New()
	r.GET("/auth/me", h.GetCurrentUser)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// SessionHandler Tests
// ═══════════════════════════════════════════════════════════

func TestSessionHandler_CreateSession_Success(t *testing.T) {
	mock := &mockSessionService{
		createResult: &dto.SessionResponse{ID: testSessionUUID, Status: "future"},
	}
	h := NewSessionHandler(mock, &mockExportService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sessions", jsonBody(dto.CreateSessionRequest{
		CourseID:        testCourseUUID,
		Label:           "第3周 周一",
		Date:            "2026-03-02",
		StartTime:       "10:00",
		DurationMinutes: 45,
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/sessions", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.CreateSession(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
}

func TestSessionHandler_CreateSession_NotCourseOwner(t *testing.T) {
	mock := &mockSessionService{createErr: service.ErrNotCourseOwner}
	h := NewSessionHandler(mock, &mockExportService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sessions", jsonBody(dto.CreateSessionRequest{
		CourseID:        testCourseUUID,
		Label:           "第3周 周一",
		Date:            "2026-03-02",
		StartTime:       "10:00",
		DurationMinutes: 45,
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/sessions", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.CreateSession(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 12004 {
		t.Errorf("expected error code 12004, got %d", resp.Code)
	}
}

func TestSessionHandler_ListSessions_Paged(t *testing.T) {
	mock := &mockSessionService{
		listResult: []dto.SessionResponse{{ID: testSessionUUID}},
		listTotal:  1,
	}
	h := NewSessionHandler(mock, &mockExportService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions?page=1&page_size=10", nil)

	r := gin.New()
	r.GET("/sessions", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.ListSessions(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestSessionHandler_OpenSession_BeforeStart(t *testing.T) {
	mock := &mockSessionService{actionErr: service.ErrSessionNotStarted}
	h := NewSessionHandler(mock, &mockExportService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sessions/"+testSessionUUID+"/open", nil)

	r := gin.New()
	r.POST("/sessions/:id/open", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.OpenSession(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 12009 {
		t.Errorf("expected error code 12009, got %d", resp.Code)
	}
}

func TestSessionHandler_RotateKey_Success(t *testing.T) {
	mock := &mockSessionService{
		rotateResult: &dto.LiveKeyResponse{Code: "831042", RemainingSeconds: 30},
	}
	h := NewSessionHandler(mock, &mockExportService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sessions/"+testSessionUUID+"/rotate", jsonBody(dto.RotateKeyRequest{
		WindowSeconds: 60,
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/sessions/:id/rotate", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.RotateKey(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestSessionHandler_ImportICS_Success(t *testing.T) {
	mock := &mockSessionService{
		importResult: &dto.ImportICSResponse{Created: 3},
	}
	h := NewSessionHandler(mock, &mockExportService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sessions/import-ics", jsonBody(dto.ImportICSRequest{
		CourseID:        testCourseUUID,
		Content:         "BEGIN:VCALENDAR\nEND:VCALENDAR",
		DurationMinutes: 45,
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/sessions/import-ics", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.ImportICS(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
}

func TestSessionHandler_ExportRoster_Success(t *testing.T) {
	mock := &mockSessionService{ownedResult: testSession()}
	export := &mockExportService{
		buf:      bytes.NewBufferString("excel content"),
		filename: "签到名册_第3周.xlsx",
	}
	h := NewSessionHandler(mock, export)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/"+testSessionUUID+"/export", nil)

	r := gin.New()
	r.GET("/sessions/:id/export", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.ExportRoster(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("unexpected content type: %s", ct)
	}
	if w.Header().Get("Content-Disposition") == "" {
		t.Error("expected Content-Disposition header")
	}
}

func TestSessionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"NotFound", service.ErrSessionNotFound, 404, 12001},
		{"NotOwner", service.ErrNotSessionOwner, 403, 12002},
		{"CourseNotFound", service.ErrCourseNotFound, 404, 12003},
		{"TimeFormat", service.ErrTimeFormat, 400, 12005},
		{"Closed", service.ErrSessionIsClosed, 409, 12007},
		{"ScheduleLocked", service.ErrScheduleLocked, 409, 12008},
		{"NotStarted", service.ErrSessionNotStarted, 409, 12009},
		{"NoWindow", service.ErrNoRemainingWindow, 409, 12013},
		{"BadICS", service.ErrICSInvalid, 400, 12014},
		{"InternalError", errors.New("unknown"), 500, 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSessionService{getErr: tt.err}
			h := NewSessionHandler(mock, &mockExportService{})

			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/sessions/"+testSessionUUID, nil)

			r := gin.New()
			r.GET("/sessions/:id", func(c *gin.Context) {
				setAuth(c, "teacher")
				h.GetSession(c)
			})
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			resp := parseResponse(w)
			if resp.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, resp.Code)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════
// RecordHandler Tests
// ═══════════════════════════════════════════════════════════

func TestRecordHandler_Override_Success(t *testing.T) {
	sessionSvc := &mockSessionService{ownedResult: testSession()}
	recorderSvc := &mockRecorderService{
		overrideResult: &model.AttendanceRecord{
			StudentID:            "student-001",
			SecondPhaseCompleted: true,
			IsManualEntry:        true,
		},
	}
	h := NewRecordHandler(sessionSvc, recorderSvc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/sessions/"+testSessionUUID+"/records/student-001",
		jsonBody(dto.ManualOverrideRequest{Mode: "create"}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.PUT("/sessions/:id/records/:student_id", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.OverrideRecord(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRecordHandler_Override_SessionNotEnded(t *testing.T) {
	sessionSvc := &mockSessionService{ownedResult: testSession()}
	recorderSvc := &mockRecorderService{overrideErr: service.ErrSessionNotEnded}
	h := NewRecordHandler(sessionSvc, recorderSvc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/sessions/"+testSessionUUID+"/records/student-001",
		jsonBody(dto.ManualOverrideRequest{Mode: "create"}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.PUT("/sessions/:id/records/:student_id", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.OverrideRecord(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 13001 {
		t.Errorf("expected error code 13001, got %d", resp.Code)
	}
}

func TestRecordHandler_Override_BadMode(t *testing.T) {
	h := NewRecordHandler(&mockSessionService{}, &mockRecorderService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/sessions/"+testSessionUUID+"/records/student-001",
		jsonBody(map[string]string{"mode": "upsert"}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.PUT("/sessions/:id/records/:student_id", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.OverrideRecord(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRecordHandler_Delete_Success(t *testing.T) {
	sessionSvc := &mockSessionService{ownedResult: testSession()}
	h := NewRecordHandler(sessionSvc, &mockRecorderService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/sessions/"+testSessionUUID+"/records/student-001", nil)

	r := gin.New()
	r.DELETE("/sessions/:id/records/:student_id", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.DeleteRecord(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRecordHandler_Delete_NotFound(t *testing.T) {
	sessionSvc := &mockSessionService{ownedResult: testSession()}
	h := NewRecordHandler(sessionSvc, &mockRecorderService{deleteErr: service.ErrRecordNotFound})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/sessions/"+testSessionUUID+"/records/student-001", nil)

	r := gin.New()
	r.DELETE("/sessions/:id/records/:student_id", func(c *gin.Context) {
		setAuth(c, "teacher")
		h.DeleteRecord(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// JoinHandler Tests
// ═══════════════════════════════════════════════════════════

func TestJoinHandler_Join_Success(t *testing.T) {
	sessionSvc := &mockSessionService{joinResult: testSession()}
	keyPoolSvc := &mockKeyPoolService{
		redeemResult: &model.AttendanceRecord{StudentID: "test-user-id"},
	}
	h := NewJoinHandler(sessionSvc, keyPoolSvc, &mockRecorderService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/join", jsonBody(dto.JoinRequest{
		SessionID: testSessionUUID,
		Key:       "KXN4P7Q2",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/join", func(c *gin.Context) {
		setAuth(c, "student")
		h.Join(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body struct {
		Data dto.JoinResponse `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if !body.Data.Success {
		t.Error("expected success=true")
	}
	if body.Data.Phase != 1 {
		t.Errorf("expected phase 1, got %d", body.Data.Phase)
	}
}

func TestJoinHandler_Join_DeepLink(t *testing.T) {
	sessionSvc := &mockSessionService{joinResult: testSession()}
	keyPoolSvc := &mockKeyPoolService{
		redeemResult: &model.AttendanceRecord{StudentID: "test-user-id"},
	}
	h := NewJoinHandler(sessionSvc, keyPoolSvc, &mockRecorderService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/join?session="+testSessionUUID+"&key=KXN4P7Q2", nil)

	r := gin.New()
	r.GET("/join", func(c *gin.Context) {
		setAuth(c, "student")
		h.Join(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestJoinHandler_Join_KeyAlreadyUsed(t *testing.T) {
	sessionSvc := &mockSessionService{joinResult: testSession()}
	keyPoolSvc := &mockKeyPoolService{redeemErr: service.ErrKeyAlreadyUsed}
	h := NewJoinHandler(sessionSvc, keyPoolSvc, &mockRecorderService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/join", jsonBody(dto.JoinRequest{
		SessionID: testSessionUUID,
		Key:       "KXN4P7Q2",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/join", func(c *gin.Context) {
		setAuth(c, "student")
		h.Join(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 13102 {
		t.Errorf("expected error code 13102, got %d", resp.Code)
	}
}

func TestJoinHandler_Join_NotEnrolled(t *testing.T) {
	sessionSvc := &mockSessionService{joinErr: service.ErrStudentNotEnrolled}
	h := NewJoinHandler(sessionSvc, &mockKeyPoolService{}, &mockRecorderService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/join", jsonBody(dto.JoinRequest{
		SessionID: testSessionUUID,
		Key:       "KXN4P7Q2",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/join", func(c *gin.Context) {
		setAuth(c, "student")
		h.Join(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestJoinHandler_JoinLive_DeepLink(t *testing.T) {
	sessionSvc := &mockSessionService{joinResult: testSession()}
	recorderSvc := &mockRecorderService{
		completeResult: &model.AttendanceRecord{StudentID: "test-user-id", SecondPhaseCompleted: true},
	}
	h := NewJoinHandler(sessionSvc, &mockKeyPoolService{}, recorderSvc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/join-live?session="+testSessionUUID+"&key=831042", nil)

	r := gin.New()
	r.GET("/join-live", func(c *gin.Context) {
		setAuth(c, "student")
		h.JoinLive(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body struct {
		Data dto.JoinResponse `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Data.Phase != 2 {
		t.Errorf("expected phase 2, got %d", body.Data.Phase)
	}
}

func TestJoinHandler_JoinLive_RepeatSubmitIdempotent(t *testing.T) {
	sessionSvc := &mockSessionService{joinResult: testSession()}
	recorderSvc := &mockRecorderService{completeErr: service.ErrAlreadyCompleted}
	h := NewJoinHandler(sessionSvc, &mockKeyPoolService{}, recorderSvc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/join-live", jsonBody(dto.JoinRequest{
		SessionID: testSessionUUID,
		Key:       "831042",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/join-live", func(c *gin.Context) {
		setAuth(c, "student")
		h.JoinLive(c)
	})
	r.ServeHTTP(w, req)

	// 已确认后重复提交按幂等成功返回
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body struct {
		Data dto.JoinResponse `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if !body.Data.Success || body.Data.Phase != 2 {
		t.Errorf("expected idempotent success with phase 2, got success=%v phase=%d", body.Data.Success, body.Data.Phase)
	}
}

func TestJoinHandler_JoinLive_ExpiredKey(t *testing.T) {
	sessionSvc := &mockSessionService{joinResult: testSession()}
	recorderSvc := &mockRecorderService{completeErr: service.ErrInvalidOrExpiredKey}
	h := NewJoinHandler(sessionSvc, &mockKeyPoolService{}, recorderSvc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/join-live", jsonBody(dto.JoinRequest{
		SessionID: testSessionUUID,
		Key:       "831042",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/join-live", func(c *gin.Context) {
		setAuth(c, "student")
		h.JoinLive(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 13105 {
		t.Errorf("expected error code 13105, got %d", resp.Code)
	}
}

func TestJoinHandler_JoinLive_NoFirstPhase(t *testing.T) {
	sessionSvc := &mockSessionService{joinResult: testSession()}
	recorderSvc := &mockRecorderService{completeErr: service.ErrNoFirstPhaseRecord}
	h := NewJoinHandler(sessionSvc, &mockKeyPoolService{}, recorderSvc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/join-live", jsonBody(dto.JoinRequest{
		SessionID: testSessionUUID,
		Key:       "831042",
	}))
	req.Header.Set("Content-Type", "application/json")

	r := gin.New()
	r.POST("/join-live", func(c *gin.Context) {
		setAuth(c, "student")
		h.JoinLive(c)
	})
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	resp := parseResponse(w)
	if resp.Code != 13103 {
		t.Errorf("expected error code 13103, got %d", resp.Code)
	}
}
