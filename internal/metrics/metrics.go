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
// ハンドラー・サービス層・ワーカーから利用する。
type MetricsCollector interface {
	RecordSearch(operation string)
	RecordSearchError(category string)
	RecordHTTPStatus(statusCode int)
	RecordRequestDuration(duration time.Duration)
	RecordCountCacheHit()
	RecordCountCacheMiss()
	RecordCountOverflow()
	RecordDirtyMark(reason string)
	RecordRefreshRun(duration time.Duration, refreshed, deleted int)
	RecordRefreshFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	searches           *prometheus.CounterVec
	searchErrors       *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	requestDuration    prometheus.Histogram
	countCacheHits     prometheus.Counter
	countCacheMisses   prometheus.Counter
	countOverflow      prometheus.Counter
	dirtyMarks         *prometheus.CounterVec
	refreshRuns        prometheus.Counter
	refreshFailures    prometheus.Counter
	refreshDuration    prometheus.Histogram
	documentsRefreshed prometheus.Counter
	documentsDeleted   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsearch_searches_total",
			Help: "検索操作（count/list/map）の合計数",
		}, []string{"operation"}),
		searchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsearch_search_errors_total",
			Help: "カテゴリ別の検索エラー数",
		}, []string{"category"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsearch_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsearch_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		countCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsearch_count_cache_hits_total",
			Help: "件数キャッシュのヒット数",
		}),
		countCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsearch_count_cache_misses_total",
			Help: "件数キャッシュのミス数",
		}),
		countOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsearch_count_overflow_total",
			Help: "100件を超えた件数プローブの数",
		}),
		dirtyMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsearch_dirty_marks_total",
			Help: "理由別のダーティマーク数",
		}, []string{"reason"}),
		refreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsearch_refresh_runs_total",
			Help: "リフレッシュ実行の合計数",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsearch_refresh_failures_total",
			Help: "リフレッシュ失敗の合計数",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsearch_refresh_duration_seconds",
			Help:    "リフレッシュ1回あたりの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		documentsRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsearch_documents_refreshed_total",
			Help: "再構築された検索ドキュメントの合計数",
		}),
		documentsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomsearch_documents_deleted_total",
			Help: "削除された検索ドキュメントの合計数",
		}),
	}

	reg.MustRegister(
		c.searches,
		c.searchErrors,
		c.httpStatus,
		c.requestDuration,
		c.countCacheHits,
		c.countCacheMisses,
		c.countOverflow,
		c.dirtyMarks,
		c.refreshRuns,
		c.refreshFailures,
		c.refreshDuration,
		c.documentsRefreshed,
		c.documentsDeleted,
	)

	return c
}

// RecordSearch は検索操作の実行を記録する。
func (c *Collector) RecordSearch(operation string) {
	c.searches.WithLabelValues(operation).Inc()
}

// RecordSearchError は検索エラーをカテゴリ別に記録する。
func (c *Collector) RecordSearchError(category string) {
	c.searchErrors.WithLabelValues(category).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration はHTTPリクエストの処理時間を記録する。
func (c *Collector) RecordRequestDuration(duration time.Duration) {
	c.requestDuration.Observe(duration.Seconds())
}

// RecordCountCacheHit は件数キャッシュのヒットを記録する。
func (c *Collector) RecordCountCacheHit() {
	c.countCacheHits.Inc()
}

// RecordCountCacheMiss は件数キャッシュのミスを記録する。
func (c *Collector) RecordCountCacheMiss() {
	c.countCacheMisses.Inc()
}

// RecordCountOverflow は100件超の件数プローブを記録する。
func (c *Collector) RecordCountOverflow() {
	c.countOverflow.Inc()
}

// RecordDirtyMark はダーティマークの挿入を理由別に記録する。
func (c *Collector) RecordDirtyMark(reason string) {
	c.dirtyMarks.WithLabelValues(reason).Inc()
}

// RecordRefreshRun はリフレッシュ1回の実行結果を記録する。
func (c *Collector) RecordRefreshRun(duration time.Duration, refreshed, deleted int) {
	c.refreshRuns.Inc()
	c.refreshDuration.Observe(duration.Seconds())
	c.documentsRefreshed.Add(float64(refreshed))
	c.documentsDeleted.Add(float64(deleted))
}

// RecordRefreshFailure はリフレッシュの失敗を記録する。
func (c *Collector) RecordRefreshFailure() {
	c.refreshFailures.Inc()
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
