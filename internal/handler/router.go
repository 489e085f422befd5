package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shotokan2003/sen-ai/internal/metrics"
	"github.com/shotokan2003/sen-ai/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionConfig      middleware.SessionConfig
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	Signer      TokenSigner
	AuthConfig  AuthHandlerConfig

	// 観測
	HealthChecker   HealthChecker
	Collector       metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer // nilの場合/metricsを公開しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → CORS → SecurityHeaders → Logging → Recovery
//
// その内側で、認証フローのルートにはIP単位のレート制限を、
// 認証必須ルートにはRequireAuth → RateLimit(General)を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// 全ルートに効く外側のチェーン
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Collector != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Collector))
	}
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Signer, deps.AuthConfig, deps.Collector)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	requireAuth := middleware.NewRequireAuthMiddleware(deps.SessionConfig)
	optionalAuth := middleware.NewOptionalAuthMiddleware(deps.SessionConfig)

	// 未定義ルートは統一フォーマットの404を返す
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteNotFound(w)
	})

	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー（未認証・IP単位のレート制限）
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthFlowMiddleware())
			r.Get("/google", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
		})

		// ログイン案内（認証済みならダッシュボードへリダイレクト）
		r.With(optionalAuth).Get("/login", authHandler.LoginPage)

		// 認証状態の確認（未認証でも200）
		r.With(optionalAuth).Get("/status", authHandler.Status)

		// 認証必須ルート
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/logout", authHandler.Logout)
			r.Get("/profile", authHandler.Profile)
			r.Get("/test-protected", authHandler.TestProtected)
		})
	})

	// ヘルスチェック（認証任意）
	r.With(optionalAuth).Get("/health", healthHandler.Health)

	// Prometheusスクレイプ
	if deps.MetricsGatherer != nil {
		r.Get("/metrics", metrics.Handler(deps.MetricsGatherer).ServeHTTP)
	}

	return r
}
