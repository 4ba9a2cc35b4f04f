package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/middleware"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpFn       func(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error)
	signInFn       func(ctx context.Context, email, password string) (*model.Session, error)
	signOutFn      func(ctx context.Context, sessionID string) error
	refreshFn      func(ctx context.Context, token string) (*model.Session, error)
	confirmEmailFn func(ctx context.Context, token string) error
}

func (m *mockAuthService) SignUp(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password, attrs)
	}
	return nil, nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) Refresh(ctx context.Context, token string) (*model.Session, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, token)
	}
	return nil, model.NewInvalidTokenError()
}

func (m *mockAuthService) ConfirmEmail(ctx context.Context, token string) error {
	if m.confirmEmailFn != nil {
		return m.confirmEmailFn(ctx, token)
	}
	return nil
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

var testAuthConfig = AuthHandlerConfig{
	BaseURL:       "http://localhost:3000",
	SessionMaxAge: 86400,
}

func testSession(token, principalID string) *model.Session {
	return &model.Session{
		ID:          "session-" + principalID,
		Token:       token,
		PrincipalID: principalID,
		Email:       principalID + "@example.com",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_SignIn_SetsCookieAndReturnsToken(t *testing.T) {
	svc := &mockAuthService{
		signInFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			if email != "renter@example.com" || password != "correct-horse" {
				return nil, model.NewInvalidCredentialsError()
			}
			return testSession("signed-token", "renter-1"), nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	body := `{"email":"renter@example.com","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("セッションCookieが設定されていない")
	}
	if cookie.Value != "signed-token" || !cookie.HttpOnly || cookie.MaxAge != 86400 {
		t.Errorf("cookie = %+v", cookie)
	}

	var got sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.Token != "signed-token" || got.PrincipalID != "renter-1" {
		t.Errorf("response = %+v", got)
	}
}

func TestAuthHandler_SignIn_InvalidCredentials_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(`{"email":"a@b.c","password":"nope"}`))
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("失敗時にセッションCookieを設定してはならない")
	}
}

func TestAuthHandler_SignIn_InvalidJSON_Returns400(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		signInFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(`{"email":`))
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_SignUp_PassesAttributes(t *testing.T) {
	var gotAttrs identity.SignUpAttributes
	svc := &mockAuthService{
		signUpFn: func(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error) {
			gotAttrs = attrs
			return testSession("new-token", "renter-2"), nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig)

	body := `{"email":"new@example.com","password":"long-enough","first_name":"Jane","last_name":"Doe","phone":"555-0100"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.SignUp(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	want := identity.SignUpAttributes{FirstName: "Jane", LastName: "Doe", Phone: "555-0100"}
	if gotAttrs != want {
		t.Errorf("attrs = %+v, want %+v", gotAttrs, want)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) == nil {
		t.Error("確認不要の場合はセッションCookieを設定するはず")
	}
}

func TestAuthHandler_SignUp_RejectsAdministratorField(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		signUpFn: func(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}, testAuthConfig)

	body := `{"email":"new@example.com","password":"long-enough","is_administrator":true}`
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.SignUp(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_SignUp_ConfirmationRequired_Returns202WithoutCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{"email":"new@example.com","password":"long-enough"}`))
	w := httptest.NewRecorder()

	h.SignUp(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var got signUpResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !got.ConfirmationRequired || got.Session != nil {
		t.Errorf("response = %+v", got)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("確認待ちの場合はセッションCookieを設定してはならない")
	}
}

func TestAuthHandler_SignUp_EmailTaken_Returns409(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		signUpFn: func(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error) {
			return nil, model.NewEmailTakenError()
		},
	}, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{"email":"dup@example.com","password":"long-enough"}`))
	w := httptest.NewRecorder()

	h.SignUp(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestAuthHandler_SignOut_DeletesSessionAndClearsCookie(t *testing.T) {
	var deleted string
	h := NewAuthHandler(&mockAuthService{
		signOutFn: func(ctx context.Context, sessionID string) error {
			deleted = sessionID
			return nil
		},
	}, testAuthConfig)

	session := testSession("tok", "renter-1")
	req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	req = req.WithContext(middleware.ContextWithView(req.Context(),
		model.AuthView{SignedIn: true, PrincipalID: "renter-1", Settled: true}, session))
	w := httptest.NewRecorder()

	h.SignOut(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != session.ID {
		t.Errorf("deleted = %q, want %q", deleted, session.ID)
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("セッションCookieが削除されていない: %+v", cookie)
	}
}

func TestAuthHandler_SignOut_FailureStillClearsCookie(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		signOutFn: func(ctx context.Context, sessionID string) error {
			return model.NewUnavailableError(errors.New("db down"))
		},
	}, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	req = req.WithContext(middleware.ContextWithView(req.Context(),
		model.AuthView{SignedIn: true, PrincipalID: "renter-1", Settled: true}, testSession("tok", "renter-1")))
	w := httptest.NewRecorder()

	h.SignOut(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if cookie := findCookie(w.Result(), middleware.SessionCookieName); cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("失敗時もCookieは削除するはず: %+v", cookie)
	}
}

func TestAuthHandler_SignOut_WithoutSession_Returns204(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		signOutFn: func(ctx context.Context, sessionID string) error {
			t.Fatal("service should not be called")
			return nil
		},
	}, testAuthConfig)

	w := httptest.NewRecorder()
	h.SignOut(w, httptest.NewRequest(http.MethodPost, "/auth/signout", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestAuthHandler_Refresh_ReissuesToken(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		refreshFn: func(ctx context.Context, token string) (*model.Session, error) {
			if token != "old-token" {
				t.Errorf("token = %q, want %q", token, "old-token")
			}
			return testSession("new-token", "renter-1"), nil
		},
	}, testAuthConfig)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req = req.WithContext(middleware.ContextWithView(req.Context(),
		model.AuthView{SignedIn: true, PrincipalID: "renter-1", Settled: true}, testSession("old-token", "renter-1")))
	w := httptest.NewRecorder()

	h.Refresh(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if cookie := findCookie(w.Result(), middleware.SessionCookieName); cookie == nil || cookie.Value != "new-token" {
		t.Errorf("cookie = %+v, want new-token", cookie)
	}
}

func TestAuthHandler_Session_NoSession_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	w := httptest.NewRecorder()
	h.Session(w, httptest.NewRequest(http.MethodGet, "/auth/session", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Confirm(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
	}{
		{"確認成功", "?token=abc", nil, http.StatusSeeOther},
		{"トークンなし", "", nil, http.StatusUnauthorized},
		{"不正なトークン", "?token=bad", model.NewInvalidTokenError(), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{
				confirmEmailFn: func(ctx context.Context, token string) error {
					return tt.err
				},
			}, testAuthConfig)

			w := httptest.NewRecorder()
			h.Confirm(w, httptest.NewRequest(http.MethodGet, "/auth/confirm"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusSeeOther {
				if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "http://localhost:3000/auth?mode=login") {
					t.Errorf("Location = %q", loc)
				}
			}
		})
	}
}

func TestAuthHandler_Me_ReturnsView(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithView(req.Context(),
		model.AuthView{SignedIn: true, PrincipalID: "admin-1", IsAdministrator: true, Settled: true}, nil))
	w := httptest.NewRecorder()

	h.Me(w, req)

	var got viewResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := viewResponse{SignedIn: true, PrincipalID: "admin-1", IsAdministrator: true, Settled: true}
	if got != want {
		t.Errorf("view = %+v, want %+v", got, want)
	}
}
