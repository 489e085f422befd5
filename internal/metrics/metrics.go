// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordLoginSuccess(newUser bool)
	RecordLoginFailure(reason string)
	RecordLogout()
	RecordSessionCreated()
	RecordSessionsSwept(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess    *prometheus.CounterVec
	loginFail       *prometheus.CounterVec
	logouts         prometheus.Counter
	sessionsCreated prometheus.Counter
	sessionsSwept   prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "senai_login_success_total",
			Help: "ログイン成功の合計数（新規・既存別）",
		}, []string{"user_kind"}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "senai_login_fail_total",
			Help: "ログイン失敗の合計数（原因別）",
		}, []string{"reason"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "senai_logout_total",
			Help: "ログアウト成功の合計数",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "senai_sessions_created_total",
			Help: "作成されたセッションの合計数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "senai_sessions_swept_total",
			Help: "スイープで削除された期限切れセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "senai_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.logouts,
		c.sessionsCreated,
		c.sessionsSwept,
		c.httpStatus,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess(newUser bool) {
	kind := "existing"
	if newUser {
		kind = "new"
	}
	c.loginSuccess.WithLabelValues(kind).Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordLogout はログアウト成功を記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordSessionCreated はセッション作成を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionsSwept はスイープで削除されたセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
