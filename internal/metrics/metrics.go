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
// keystore、rewrite、proxy、threadsの各層から利用する。
type MetricsCollector interface {
	RecordKeystoreStore(backend, outcome string)
	RecordKeystoreResolve(backend, outcome string)
	RecordRewriteFailure(level string)
	RecordProxyFetch(statusCode int, bytes int64, duration time.Duration)
	RecordProxyCache(outcome string)
	RecordUpstreamFetch(kind, outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	keystoreStore   *prometheus.CounterVec
	keystoreResolve *prometheus.CounterVec
	rewriteFail     *prometheus.CounterVec
	proxyStatus     *prometheus.CounterVec
	proxyBytes      prometheus.Counter
	proxyLatency    prometheus.Histogram
	proxyCache      *prometheus.CounterVec
	upstreamFetch   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		keystoreStore: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shoelace_keystore_store_total",
			Help: "バックエンド・結果別のキーストア保存数",
		}, []string{"backend", "outcome"}),
		keystoreResolve: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shoelace_keystore_resolve_total",
			Help: "バックエンド・結果別のキーストア解決数",
		}, []string{"backend", "outcome"}),
		rewriteFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shoelace_rewrite_failures_total",
			Help: "階層別のメディア書き換え失敗数",
		}, []string{"level"}),
		proxyStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shoelace_proxy_fetch_total",
			Help: "オリジンのステータスコード別のプロキシ取得数",
		}, []string{"status_code"}),
		proxyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shoelace_proxy_bytes_total",
			Help: "プロキシが中継したバイト数の合計",
		}),
		proxyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shoelace_proxy_fetch_latency_seconds",
			Help:    "オリジン取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		proxyCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shoelace_proxy_cache_total",
			Help: "プロキシのバイトキャッシュのヒット・ミス数",
		}, []string{"outcome"}),
		upstreamFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shoelace_upstream_fetch_total",
			Help: "種別・結果別の上流プロバイダー取得数",
		}, []string{"kind", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shoelace_upstream_fetch_latency_seconds",
			Help:    "上流プロバイダー取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shoelace_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.keystoreStore,
		c.keystoreResolve,
		c.rewriteFail,
		c.proxyStatus,
		c.proxyBytes,
		c.proxyLatency,
		c.proxyCache,
		c.upstreamFetch,
		c.upstreamLatency,
		c.httpStatus,
	)

	return c
}

// RecordKeystoreStore はキーストアへの保存結果を記録する。
func (c *Collector) RecordKeystoreStore(backend, outcome string) {
	c.keystoreStore.WithLabelValues(backend, outcome).Inc()
}

// RecordKeystoreResolve はキーストアの解決結果を記録する。
func (c *Collector) RecordKeystoreResolve(backend, outcome string) {
	c.keystoreResolve.WithLabelValues(backend, outcome).Inc()
}

// RecordRewriteFailure はメディア書き換えの失敗を記録する。
func (c *Collector) RecordRewriteFailure(level string) {
	c.rewriteFail.WithLabelValues(level).Inc()
}

// RecordProxyFetch はオリジン取得の結果を記録する。
// statusCodeが0の場合は接続レベルの失敗として扱う。
func (c *Collector) RecordProxyFetch(statusCode int, bytes int64, duration time.Duration) {
	c.proxyStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	if bytes > 0 {
		c.proxyBytes.Add(float64(bytes))
	}
	c.proxyLatency.Observe(duration.Seconds())
}

// RecordProxyCache はバイトキャッシュのヒット・ミスを記録する。
func (c *Collector) RecordProxyCache(outcome string) {
	c.proxyCache.WithLabelValues(outcome).Inc()
}

// RecordUpstreamFetch は上流プロバイダー取得の結果とレイテンシを記録する。
func (c *Collector) RecordUpstreamFetch(kind, outcome string, duration time.Duration) {
	c.upstreamFetch.WithLabelValues(kind, outcome).Inc()
	c.upstreamLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
