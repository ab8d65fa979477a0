// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ログイン方式ラベルの値
const (
	MethodPassword  = "password"
	MethodFederated = "federated"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordRegistration(outcome string)
	RecordLogin(method, outcome string)
	RecordTokenValidation(result string)
	RecordIntrospectionLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations        *prometheus.CounterVec
	logins               *prometheus.CounterVec
	tokenValidations     *prometheus.CounterVec
	introspectionLatency prometheus.Histogram
	httpStatus           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogguer_registrations_total",
			Help: "ユーザー登録の試行数（結果別）",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogguer_logins_total",
			Help: "ログインの試行数（方式・結果別）",
		}, []string{"method", "outcome"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogguer_token_validations_total",
			Help: "セッショントークン検証の回数（結果別）",
		}, []string{"result"}),
		introspectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blogguer_federated_introspection_seconds",
			Help:    "外部IdPトークン検証のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogguer_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.tokenValidations,
		c.introspectionLatency,
		c.httpStatus,
	)

	return c
}

// RecordRegistration はユーザー登録の結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogin はログインの結果を記録する。
func (c *Collector) RecordLogin(method, outcome string) {
	c.logins.WithLabelValues(method, outcome).Inc()
}

// RecordTokenValidation はトークン検証の結果を記録する。resultは "valid" かエラーコード。
func (c *Collector) RecordTokenValidation(result string) {
	c.tokenValidations.WithLabelValues(result).Inc()
}

// RecordIntrospectionLatency は外部IdP呼び出しのレイテンシを記録する。
func (c *Collector) RecordIntrospectionLatency(duration time.Duration) {
	c.introspectionLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成とテストで使用する。
type Nop struct{}

func (Nop) RecordRegistration(string)                {}
func (Nop) RecordLogin(string, string)               {}
func (Nop) RecordTokenValidation(string)             {}
func (Nop) RecordIntrospectionLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)                     {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
