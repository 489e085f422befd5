// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shotokan2003/sen-ai/internal/metrics"
	"github.com/shotokan2003/sen-ai/internal/middleware"
	"github.com/shotokan2003/sen-ai/internal/model"
)

const oauthStateCookie = "oauth_state"

// 認証失敗時にフロントエンドへ伝えるエラーパラメータ
const (
	errParamAuthFailed   = "auth_failed"
	errParamServerError  = "server_error"
	errParamInvalidState = "invalid_state"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, token string) error
}

// TokenSigner はセッショントークンのCookie署名インターフェース。
// security.CookieSignerの部分集合として定義する。
type TokenSigner interface {
	Sign(token string) string
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL    string
	CookieName     string
	CookieDomain   string
	CookieSecure   bool
	CookieHTTPOnly bool
	SessionMaxAge  int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	signer    TokenSigner
	config    AuthHandlerConfig
	collector metrics.MetricsCollector // 省略可
}

// NewAuthHandler はAuthHandlerを生成する。collectorはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, signer TokenSigner, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	return &AuthHandler{
		service:   service,
		signer:    signer,
		config:    config,
		collector: collector,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	url := h.service.GetLoginURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// 認証に失敗した場合はフロントエンドのログインページへ
// 原因を示すクエリパラメータ付きでリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		h.recordLoginFailure("invalid_state")
		h.redirectToLogin(w, r, errParamInvalidState)
		return
	}

	// stateクッキーを削除
	h.clearStateCookie(w)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		h.recordLoginFailure("missing_code")
		h.redirectToLogin(w, r, errParamAuthFailed)
		return
	}

	// 3. 認証処理
	session, user, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))

		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeProviderExchange {
			h.recordLoginFailure("provider_exchange")
			h.redirectToLogin(w, r, errParamAuthFailed)
			return
		}
		h.recordLoginFailure("store")
		h.redirectToLogin(w, r, errParamServerError)
		return
	}

	// 4. 署名付きセッションCookieを設定
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    h.signer.Sign(session.ID),
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: h.config.CookieHTTPOnly,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if h.collector != nil {
		// 初回ログインではcreated_atとlast_loginが同一行挿入で一致する
		h.collector.RecordLoginSuccess(user.CreatedAt.Equal(user.LastLogin))
		h.collector.RecordSessionCreated()
	}

	// 5. フロントエンドのダッシュボードにリダイレクト
	http.Redirect(w, r, h.config.FrontendURL+"/dashboard", http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。認証必須。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.SessionTokenFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized,
			model.NewAuthorizationError("Please log in to access this resource"))
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
		// 削除を確認できていないためCookieは残し、成功として扱わない
		middleware.WriteAPIError(w, &model.APIError{
			Code:    model.ErrCodeSessionDestruction,
			Message: "Failed to log out",
		})
		return
	}

	// セッションCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: h.config.CookieHTTPOnly,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if h.collector != nil {
		h.collector.RecordLogout()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

// Profile は現在のログインユーザー情報を返す。認証必須。
// GET /auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized,
			model.NewAuthorizationError("Please log in to access this resource"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userPayload(user),
	})
}

// Status は認証状態を返す。未認証でも200を返す。
// GET /auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
			"user":          nil,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          userPayload(user),
	})
}

// TestProtected は認証ガードの動作確認用エンドポイント。認証必須。
// GET /auth/test-protected
func (h *AuthHandler) TestProtected(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized,
			model.NewAuthorizationError("Please log in to access this resource"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "You have accessed a protected route",
		"user":      user.Email,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// LoginPage は未認証クライアントにログイン手順を案内する。
// 認証済みの場合はフロントエンドのダッシュボードへリダイレクトする。
// GET /auth/login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserFromContext(r.Context()); ok {
		http.Redirect(w, r, h.config.FrontendURL+"/dashboard", http.StatusTemporaryRedirect)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Please authenticate with Google",
		"loginUrl":      "/auth/google",
		"authenticated": false,
	})
}

// redirectToLogin はフロントエンドのログインページへエラーパラメータ付きでリダイレクトする。
func (h *AuthHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, errParam string) {
	http.Redirect(w, r, h.config.FrontendURL+"/login?error="+errParam, http.StatusTemporaryRedirect)
}

// clearStateCookie はOAuth stateクッキーを削除する。
func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// recordLoginFailure はログイン失敗メトリクスを記録する。
func (h *AuthHandler) recordLoginFailure(reason string) {
	if h.collector != nil {
		h.collector.RecordLoginFailure(reason)
	}
}

// userPayload はAPIレスポンス用のユーザー表現を返す。
// 内部識別子であるgoogle_idは公開しない。
func userPayload(user *model.User) map[string]any {
	return map[string]any{
		"id":             user.ID,
		"email":          user.Email,
		"name":           user.Name,
		"profilePicture": user.ProfilePicture,
		"lastLogin":      user.LastLogin.UTC().Format(time.RFC3339),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
