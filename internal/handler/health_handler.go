package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shotokan2003/sen-ai/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なDB疎通確認のインターフェース。
// *sql.DB を受け付けることができる。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックエンドポイントのハンドラー。
type HealthHandler struct {
	db HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health はサーバーの稼働状態を返す。
// 認証済みかどうかのフラグを含むが、未認証でも200を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	_, authenticated := middleware.UserFromContext(r.Context())

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.PingContext(ctx); err != nil {
			slog.Error("health check db ping failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":        "unavailable",
				"message":       "Database unreachable",
				"authenticated": authenticated,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "OK",
		"message":       "Auth server is running",
		"authenticated": authenticated,
	})
}
