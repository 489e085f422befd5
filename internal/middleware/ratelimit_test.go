package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shotokan2003/sen-ai/internal/model"
)

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimit_General_AllowsRequestsWithinBurst(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		AuthFlowRate:    1,
		AuthFlowBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handlerCallCount := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: 1}))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimit_General_Returns429WhenExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AuthFlowRate:    1,
		AuthFlowBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest := func() *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: 1}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result()
	}

	doRequest()
	doRequest()
	resp := doRequest() // バースト超過

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "Too Many Requests" {
		t.Errorf("error = %q, want %q", body.Error, "Too Many Requests")
	}
}

func TestRateLimit_General_IsolatesClients(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthFlowRate:    1,
		AuthFlowBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest := func(userID int64) int {
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req = req.WithContext(ContextWithUser(req.Context(), &model.User{ID: userID}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := doRequest(1); got != http.StatusOK {
		t.Errorf("user 1 first request: status = %d, want %d", got, http.StatusOK)
	}
	if got := doRequest(1); got != http.StatusTooManyRequests {
		t.Errorf("user 1 second request: status = %d, want %d", got, http.StatusTooManyRequests)
	}
	// 別ユーザーには影響しない
	if got := doRequest(2); got != http.StatusOK {
		t.Errorf("user 2 first request: status = %d, want %d", got, http.StatusOK)
	}
}

func TestRateLimit_General_AnonymousKeyedByIP(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthFlowRate:    1,
		AuthFlowBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	doRequest := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	if got := doRequest("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("first request: status = %d, want %d", got, http.StatusOK)
	}
	if got := doRequest("10.0.0.1:5678"); got != http.StatusTooManyRequests {
		t.Errorf("same IP different port: status = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := doRequest("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("different IP: status = %d, want %d", got, http.StatusOK)
	}
}

// --- AuthFlowMiddleware (認証フロー) のテスト ---

func TestRateLimit_AuthFlow_KeyedByIP(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AuthFlowRate:    1,
		AuthFlowBurst:   2,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.AuthFlowMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))

	doRequest := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	doRequest("10.0.0.1:1234")
	doRequest("10.0.0.1:1234")
	if got := doRequest("10.0.0.1:1234"); got != http.StatusTooManyRequests {
		t.Errorf("burst exceeded: status = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := doRequest("10.0.0.9:1234"); got != http.StatusTemporaryRedirect {
		t.Errorf("different IP: status = %d, want %d", got, http.StatusTemporaryRedirect)
	}
}

func TestRateLimit_AuthFlow_IndependentOfGeneral(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AuthFlowRate:    1,
		AuthFlowBurst:   1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	authHandler := rl.AuthFlowMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	generalHandler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	authHandler.ServeHTTP(w, req)

	req = httptest.NewRequest(http.MethodGet, "/auth/google", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w = httptest.NewRecorder()
	authHandler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("auth flow should be exhausted, got %d", w.Result().StatusCode)
	}

	// 認証フローが枯渇してもAPI全般の制限には影響しない
	req = httptest.NewRequest(http.MethodGet, "/auth/status", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w = httptest.NewRecorder()
	generalHandler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general limit should be unaffected, got %d", w.Result().StatusCode)
	}
}

// --- クリーンアップのテスト ---

func TestRateLimit_Cleanup_RemovesStaleEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthFlowRate:    1,
		AuthFlowBurst:   1,
		CleanupInterval: 10 * time.Millisecond,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.getOrCreateLimiter(&rl.generalMu, rl.generalLimiters, "ip:10.0.0.1", cfg.GeneralRate, cfg.GeneralBurst)
	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Fatalf("limiter count = %d, want 1", got)
	}

	// 最終アクセスからCleanupInterval*2を超えるまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for rl.GeneralLimiterCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := rl.GeneralLimiterCount(); got != 0 {
		t.Errorf("limiter count after cleanup = %d, want 0", got)
	}
}

// --- clientIP のテスト ---

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q, want %q", got, "203.0.113.7")
	}
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("clientIP = %q, want %q", got, "10.0.0.1")
	}
}
