// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionSecret        string
	SessionMaxAge        int           // セッション有効期間（秒）
	SessionSweepInterval time.Duration // 期限切れセッションの掃除間隔
	SessionCookieName    string

	// ストア呼び出しのタイムアウト上限
	StoreTimeout time.Duration

	// ログイン時にemail/name/profile_pictureを最新のプロバイダー値で
	// 上書きするかどうか。falseの場合は初回取得値を保持しlast_loginのみ更新する。
	RefreshProfileOnLogin bool

	// Rate Limit（req/min）
	RateLimitAuth    int // OAuthフロー（未認証、IP単位）
	RateLimitGeneral int // 認証済みAPI（ユーザー単位）

	// Server
	ServerPort  string
	FrontendURL string

	// Cookie
	CookieSecure   bool
	CookieDomain   string
	CookieHTTPOnly bool

	// CORS
	CORSAllowedOrigins []string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.FrontendURL = os.Getenv("FRONTEND_URL")
	if cfg.FrontendURL == "" {
		missing = append(missing, "FRONTEND_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", 15*time.Minute)
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "resume_session")
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.RefreshProfileOnLogin = getEnvBool("REFRESH_PROFILE_ON_LOGIN", false)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "4000")
	cfg.CookieSecure = strings.HasPrefix(cfg.FrontendURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	// 参照実装ではフロントエンドと兄弟バックエンドがJavaScriptから
	// Cookieを読むためHttpOnlyを無効にしている。XSS露出とのトレードオフ
	// なので明示的な設定項目として公開する。
	cfg.CookieHTTPOnly = getEnvBool("COOKIE_HTTPONLY", false)
	cfg.CORSAllowedOrigins = getEnvStringSlice("CORS_ALLOWED_ORIGINS",
		[]string{cfg.FrontendURL, "http://localhost:8000"})

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
