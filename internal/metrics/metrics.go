// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordBookingCreated()
	RecordBookingRejected(kind string)
	RecordBookingTransition(from, to string)
	RecordAuthResolution(outcome string)
	RecordStaleProfileFetch()
	RecordHTTPStatus(statusCode int)
	RecordSessionsCleaned(count int64)
	RecordCleanupLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	bookingsCreated    prometheus.Counter
	bookingRejections  *prometheus.CounterVec
	bookingTransitions *prometheus.CounterVec
	authResolutions    *prometheus.CounterVec
	staleProfileFetch  prometheus.Counter
	httpStatus         *prometheus.CounterVec
	sessionsCleaned    prometheus.Counter
	cleanupLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheelhaven_bookings_created_total",
			Help: "作成された予約の合計数",
		}),
		bookingRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheelhaven_booking_rejections_total",
			Help: "エラー分類別の予約作成拒否数",
		}, []string{"kind"}),
		bookingTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheelhaven_booking_transitions_total",
			Help: "遷移元・遷移先別の予約ステータス変更数",
		}, []string{"from", "to"}),
		authResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheelhaven_auth_resolutions_total",
			Help: "結果別の認可状態導出数",
		}, []string{"outcome"}),
		staleProfileFetch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheelhaven_stale_profile_fetches_total",
			Help: "後続のセッション変更により破棄されたプロフィール取得数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheelhaven_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheelhaven_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
		cleanupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wheelhaven_cleanup_latency_seconds",
			Help:    "セッションクリーンアップのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.bookingsCreated,
		c.bookingRejections,
		c.bookingTransitions,
		c.authResolutions,
		c.staleProfileFetch,
		c.httpStatus,
		c.sessionsCleaned,
		c.cleanupLatency,
	)

	return c
}

// RecordBookingCreated は予約作成を記録する。
func (c *Collector) RecordBookingCreated() {
	c.bookingsCreated.Inc()
}

// RecordBookingRejected は予約作成の拒否を記録する。
func (c *Collector) RecordBookingRejected(kind string) {
	c.bookingRejections.WithLabelValues(kind).Inc()
}

// RecordBookingTransition は予約ステータスの変更を記録する。
func (c *Collector) RecordBookingTransition(from, to string) {
	c.bookingTransitions.WithLabelValues(from, to).Inc()
}

// RecordAuthResolution は認可状態の導出結果を記録する。
func (c *Collector) RecordAuthResolution(outcome string) {
	c.authResolutions.WithLabelValues(outcome).Inc()
}

// RecordStaleProfileFetch は破棄されたプロフィール取得を記録する。
func (c *Collector) RecordStaleProfileFetch() {
	c.staleProfileFetch.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除されたセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// RecordCleanupLatency はクリーンアップのレイテンシを記録する。
func (c *Collector) RecordCleanupLatency(duration time.Duration) {
	c.cleanupLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
