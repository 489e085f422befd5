// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shotokan2003/sen-ai/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// sessionTokenContextKey は検証済みセッショントークンを格納するためのキー。
var sessionTokenContextKey = contextKey("session_token")

// PrincipalResolver はセッショントークンからユーザーを解決するインターフェース。
// auth.Serviceの部分集合として定義する。
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, token string) (*model.User, error)
}

// CookieVerifier は署名付きCookie値の検証インターフェース。
// security.CookieSignerの部分集合として定義する。
type CookieVerifier interface {
	Verify(signed string) (string, bool)
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	CookieName string
	Resolver   PrincipalResolver
	Verifier   CookieVerifier
}

// sessionToken はリクエストのCookieから検証済みのセッショントークンを取り出す。
// Cookieが無い、または署名が不正な場合は空文字を返す。
func (c SessionConfig) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(c.CookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	token, ok := c.Verifier.Verify(cookie.Value)
	if !ok {
		slog.Warn("session cookie signature verification failed",
			slog.String("path", r.URL.Path),
		)
		return ""
	}
	return token
}

// NewRequireAuthMiddleware は認証必須ルート用のミドルウェアを返す。
// 署名付きCookieからセッショントークンを検証し、ユーザーを解決して
// リクエストコンテキストに注入する。未認証リクエストには401を返す。
// 期限切れセッションは存在しないものとして扱う。
func NewRequireAuthMiddleware(config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := config.sessionToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized,
					model.NewAuthorizationError("Please log in to access this resource"))
				return
			}

			user, err := config.Resolver.ResolvePrincipal(r.Context(), token)
			if err != nil {
				// ストア到達不能は未認証と区別し5xxとして返す
				slog.Error("failed to resolve principal",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized,
					model.NewAuthorizationError("Please log in to access this resource"))
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			ctx = context.WithValue(ctx, sessionTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOptionalAuthMiddleware は認証任意ルート用のミドルウェアを返す。
// 有効なセッションがあればユーザーをコンテキストに注入し、
// 無ければ匿名のまま後続ハンドラーに委譲する。未認証は拒否しないが、
// セッションストアの読み取り失敗は必須ルートと同様に5xxとして返す。
func NewOptionalAuthMiddleware(config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := config.sessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := config.Resolver.ResolvePrincipal(r.Context(), token)
			if err != nil {
				slog.Error("failed to resolve principal",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := ContextWithUser(r.Context(), user)
			ctx = context.WithValue(ctx, sessionTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// SessionTokenFromContext は検証済みセッショントークンを取得する。
// ログアウト処理で破棄対象のセッションを特定するために使用する。
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(sessionTokenContextKey).(string)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// ContextWithSessionToken はコンテキストにセッショントークンを注入する。
// テスト用。
func ContextWithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenContextKey, token)
}
