// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェアやハンドラー層から利用する。
type MetricsCollector interface {
	RecordWebhookEvent(eventType string, result string)
	RecordAccessDecision(decision string)
	RecordRateLimitHit(bucket string)
	RecordSyncOutcome(result string)
	RecordAdminCheck(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookEvents   *prometheus.CounterVec
	accessDecisions *prometheus.CounterVec
	rateLimitHits   *prometheus.CounterVec
	syncOutcomes    *prometheus.CounterVec
	adminChecks     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_webhook_events_total",
			Help: "受信Webhookイベントの種別・結果別の合計数",
		}, []string{"type", "result"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_access_decisions_total",
			Help: "アクセス制御ゲートの判定結果別の合計数",
		}, []string{"decision"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_rate_limit_hits_total",
			Help: "レート制限超過のバケット別の合計数",
		}, []string{"bucket"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_sync_total",
			Help: "ディレクトリ同期の結果別の合計数",
		}, []string{"result"}),
		adminChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_admin_checks_total",
			Help: "管理者権限確認の結果別の合計数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.accessDecisions,
		c.rateLimitHits,
		c.syncOutcomes,
		c.adminChecks,
	)

	return c
}

// RecordWebhookEvent は受信Webhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType string, result string) {
	c.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// RecordAccessDecision はゲートの判定結果を記録する。
func (c *Collector) RecordAccessDecision(decision string) {
	c.accessDecisions.WithLabelValues(decision).Inc()
}

// RecordRateLimitHit はレート制限超過を記録する。
func (c *Collector) RecordRateLimitHit(bucket string) {
	c.rateLimitHits.WithLabelValues(bucket).Inc()
}

// RecordSyncOutcome はディレクトリ同期の結果を記録する。
func (c *Collector) RecordSyncOutcome(result string) {
	c.syncOutcomes.WithLabelValues(result).Inc()
}

// RecordAdminCheck は管理者権限確認の結果を記録する。
func (c *Collector) RecordAdminCheck(result string) {
	c.adminChecks.WithLabelValues(result).Inc()
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

// Noop は何も記録しないコレクター。テストおよびメトリクス無効時用。
type Noop struct{}

func (Noop) RecordWebhookEvent(eventType string, result string) {}
func (Noop) RecordAccessDecision(decision string)               {}
func (Noop) RecordRateLimitHit(bucket string)                   {}
func (Noop) RecordSyncOutcome(result string)                    {}
func (Noop) RecordAdminCheck(result string)                     {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
