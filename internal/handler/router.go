package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/roomsearch/internal/metrics"
	"github.com/hitoshi/roomsearch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 検索
	SearchService SearchServiceInterface
	TileService   TileServiceInterface

	// 変更通知（nilの場合はエンドポイントを公開しない）
	DirtyTracker DirtyTrackerInterface

	// 監視
	Metrics         *metrics.Collector
	MetricsGatherer prometheus.Gatherer
	Logger          *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit
//
// レート制限は検索API（GeneralMiddleware）とタイル配信（MapMiddleware）で
// 別系統にする。/health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Collectorがnilのときにnilインターフェースを渡すための変換
	var searchMetrics SearchMetricsRecorder
	var httpMetrics middleware.MetricsRecorder
	if deps.Metrics != nil {
		searchMetrics = deps.Metrics
		httpMetrics = deps.Metrics
	}

	// 全ルート共通のミドルウェア
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, httpMetrics))

	searchHandler := NewSearchHandler(deps.SearchService, searchMetrics)
	tileHandler := NewTileHandler(deps.TileService, searchMetrics)

	// 死活監視
	r.Get("/health", NewHealthHandler(deps.HealthChecker))

	// メトリクス公開
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// 検索API（一般レート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/search", func(r chi.Router) {
			r.Get("/count", searchHandler.GetCount)
			r.Get("/listings", searchHandler.ListListings)
			r.Get("/map", searchHandler.GetMapListings)
		})
	})

	// タイル配信（地図専用の緩いレート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.MapMiddleware())

		r.Get("/api/tiles/{zoom}/{x}/{y}", tileHandler.GetTile)
	})

	// 変更通知（マーケットプレイス本体からの内部呼び出し。レート制限の外）
	if deps.DirtyTracker != nil {
		reindexHandler := NewReindexHandler(deps.DirtyTracker, searchMetrics)
		r.Post("/internal/reindex", reindexHandler.PostReindex)
	}

	return r
}
