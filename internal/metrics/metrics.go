// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// 認証サービスと投稿パイプラインから利用する。
type Recorder interface {
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordPublish(status string)
	RecordUploadLatency(duration time.Duration)
	RecordImageResize()
	SetActiveSessions(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess   prometheus.Counter
	loginFail      prometheus.Counter
	publishTotal   *prometheus.CounterVec
	uploadLatency  prometheus.Histogram
	imageResizes   prometheus.Counter
	activeSessions prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skypost_login_success_total",
			Help: "Blueskyログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skypost_login_fail_total",
			Help: "Blueskyログイン失敗の合計数",
		}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skypost_publish_total",
			Help: "投稿試行の結果別合計数",
		}, []string{"status"}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "skypost_upload_latency_seconds",
			Help:    "画像アップロードのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		imageResizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skypost_image_resize_total",
			Help: "寸法超過によりリサイズされた画像の合計数",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skypost_active_sessions",
			Help: "保持中のBlueskyセッション数",
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.publishTotal,
		c.uploadLatency,
		c.imageResizes,
		c.activeSessions,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFail.Inc()
}

// RecordPublish は投稿試行の結果（published / failed）を記録する。
func (c *Collector) RecordPublish(status string) {
	c.publishTotal.WithLabelValues(status).Inc()
}

// RecordUploadLatency は画像アップロードのレイテンシを記録する。
func (c *Collector) RecordUploadLatency(duration time.Duration) {
	c.uploadLatency.Observe(duration.Seconds())
}

// RecordImageResize は画像リサイズの発生を記録する。
func (c *Collector) RecordImageResize() {
	c.imageResizes.Inc()
}

// SetActiveSessions は保持中のセッション数を記録する。
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// compile-time interface check
var _ Recorder = (*Collector)(nil)

// NopRecorder は何も記録しないRecorder。テストで使用する。
type NopRecorder struct{}

func (NopRecorder) RecordLoginSuccess()               {}
func (NopRecorder) RecordLoginFailure()               {}
func (NopRecorder) RecordPublish(string)              {}
func (NopRecorder) RecordUploadLatency(time.Duration) {}
func (NopRecorder) RecordImageResize()                {}
func (NopRecorder) SetActiveSessions(int)             {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
