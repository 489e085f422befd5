package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shotokan2003/sen-ai/internal/model"
	"github.com/shotokan2003/sen-ai/internal/security"
)

// --- モック定義 ---

type mockResolver struct {
	resolveFn func(ctx context.Context, token string) (*model.User, error)
}

func (m *mockResolver) ResolvePrincipal(ctx context.Context, token string) (*model.User, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, nil
}

const testCookieName = "resume_session"

func newTestSessionConfig(resolver *mockResolver) (SessionConfig, *security.CookieSigner) {
	signer := security.NewCookieSigner("test-secret")
	return SessionConfig{
		CookieName: testCookieName,
		Resolver:   resolver,
		Verifier:   signer,
	}, signer
}

// --- テスト ---

func TestRequireAuth_ValidSignedCookie_InjectsUser(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			if token == "valid-token" {
				return &model.User{ID: 1, Email: "a@x.com"}, nil
			}
			return nil, nil
		},
	}
	config, signer := newTestSessionConfig(resolver)
	mw := NewRequireAuthMiddleware(config)

	var capturedUser *model.User
	var capturedToken string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUser, _ = UserFromContext(r.Context())
		capturedToken, _ = SessionTokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: signer.Sign("valid-token")})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUser == nil || capturedUser.ID != 1 {
		t.Errorf("user = %+v, want ID 1", capturedUser)
	}
	if capturedToken != "valid-token" {
		t.Errorf("token = %q, want %q", capturedToken, "valid-token")
	}
}

func TestRequireAuth_NoCookie_Returns401JSON(t *testing.T) {
	config, _ := newTestSessionConfig(&mockResolver{})
	mw := NewRequireAuthMiddleware(config)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "Unauthorized" {
		t.Errorf("error = %q, want %q", body.Error, "Unauthorized")
	}
	if body.Message != "Please log in to access this resource" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestRequireAuth_TamperedCookie_Returns401(t *testing.T) {
	resolveCalled := false
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			resolveCalled = true
			return &model.User{ID: 1}, nil
		},
	}
	config, signer := newTestSessionConfig(resolver)
	mw := NewRequireAuthMiddleware(config)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: signer.Sign("valid-token") + "x"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	// 署名不正のトークンはストアに問い合わせない
	if resolveCalled {
		t.Error("resolver should not be called for tampered cookie")
	}
}

func TestRequireAuth_ExpiredOrUnknownSession_Returns401(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, nil // 期限切れ・不明はnil, nil
		},
	}
	config, signer := newTestSessionConfig(resolver)
	mw := NewRequireAuthMiddleware(config)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: signer.Sign("expired-token")})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRequireAuth_StoreUnreachable_Returns500(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, model.NewStoreError("find session", errors.New("connection refused"))
		},
	}
	config, signer := newTestSessionConfig(resolver)
	mw := NewRequireAuthMiddleware(config)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: signer.Sign("some-token")})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	// ストア障害は未認証(401)と区別する
	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

func TestOptionalAuth_NoCookie_ProceedsAnonymously(t *testing.T) {
	config, _ := newTestSessionConfig(&mockResolver{})
	mw := NewOptionalAuthMiddleware(config)

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if _, ok := UserFromContext(r.Context()); ok {
			t.Error("expected anonymous context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Fatal("handler should be called")
	}
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestOptionalAuth_ValidCookie_InjectsUser(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return &model.User{ID: 7, Email: "b@x.com"}, nil
		},
	}
	config, signer := newTestSessionConfig(resolver)
	mw := NewOptionalAuthMiddleware(config)

	var capturedUser *model.User
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: signer.Sign("valid-token")})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if capturedUser == nil || capturedUser.ID != 7 {
		t.Errorf("user = %+v, want ID 7", capturedUser)
	}
}

func TestOptionalAuth_StoreUnreachable_Returns500(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, model.NewStoreError("find session", errors.New("connection refused"))
		},
	}
	config, signer := newTestSessionConfig(resolver)
	mw := NewOptionalAuthMiddleware(config)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: signer.Sign("some-token")})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	// ストアを読めない間は認証状態を匿名と断定できない
	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

func TestOptionalAuth_UnknownSession_ProceedsAnonymously(t *testing.T) {
	config, signer := newTestSessionConfig(&mockResolver{})
	mw := NewOptionalAuthMiddleware(config)

	handlerCalled := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if _, ok := UserFromContext(r.Context()); ok {
			t.Error("expected anonymous context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	req.AddCookie(&http.Cookie{Name: testCookieName, Value: signer.Sign("stale-token")})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Fatal("optional auth must not reject an unknown session")
	}
}

func TestUserFromContext_Empty_ReturnsFalse(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("expected false for empty context")
	}
}
