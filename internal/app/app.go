package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/roomsearch/internal/cache"
	"github.com/hitoshi/roomsearch/internal/config"
	"github.com/hitoshi/roomsearch/internal/database"
	"github.com/hitoshi/roomsearch/internal/dirty"
	"github.com/hitoshi/roomsearch/internal/handler"
	"github.com/hitoshi/roomsearch/internal/logger"
	"github.com/hitoshi/roomsearch/internal/metrics"
	"github.com/hitoshi/roomsearch/internal/middleware"
	"github.com/hitoshi/roomsearch/internal/repository"
	"github.com/hitoshi/roomsearch/internal/search"
	"github.com/hitoshi/roomsearch/internal/security"
	"github.com/hitoshi/roomsearch/internal/worker/cleanup"
	"github.com/hitoshi/roomsearch/internal/worker/refresh"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、構造化ログをセットアップする。
// ログレベルと出力形式は設定に依存するため、設定の読み込みが先になる。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. ログの初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	docRepo := repository.NewPostgresSearchDocumentRepo(db)
	markerRepo := repository.NewPostgresDirtyMarkerRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 件数キャッシュの初期化（REDIS_URL未設定の場合は無効）
	var countCache search.CountCache
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewClient(context.Background(), cfg.RedisURL)
		if err != nil {
			// キャッシュは高速化でしかないため、接続失敗で起動は止めない
			slog.Warn("Redisに接続できないため件数キャッシュを無効化します",
				slog.String("error", err.Error()),
			)
		} else {
			defer redisClient.Close()
			countCache = cache.NewRedisCountCache(redisClient, cfg.CountCacheTTL, slog.Default())
			slog.Info("count cache enabled",
				slog.Duration("ttl", cfg.CountCacheTTL),
			)
		}
	}

	// 5. ドメインサービスの初期化
	searchService := search.NewService(docRepo, countCache, collector, slog.Default(), cfg.PrimaryPinLimit)
	tracker := dirty.NewTracker(markerRepo, collector, slog.Default())

	// 6. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(cfg.RateLimitGeneral)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneralBurst
	rateLimiterCfg.MapRate = rate.Limit(cfg.RateLimitMap)
	rateLimiterCfg.MapBurst = cfg.RateLimitMapBurst

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		SearchService: searchService,
		TileService:   searchService,
		DirtyTracker:  tracker,

		Metrics:         collector,
		MetricsGatherer: registry,
		Logger:          slog.Default(),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、検索インデックスのリフレッシュスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	markerRepo := repository.NewPostgresDirtyMarkerRepo(db)
	listingRepo := repository.NewPostgresListingSourceRepo(db)
	docRepo := repository.NewPostgresSearchDocumentRepo(db)

	// 3. メトリクスの初期化と公開
	// ワーカーはAPIを持たないため、処理状況は/metricsからのみ観測できる
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	metricsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      metrics.SetupMetricsRoute(registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	// 4. リフレッシャーの初期化
	sanitizer := security.NewSearchTextSanitizer()
	refresher := refresh.NewRefresher(
		markerRepo, listingRepo, docRepo, sanitizer,
		collector, slog.Default(), cfg.RefreshBatchSize, cfg.RefreshMaxConcurrent,
	)

	// 5. スケジューラの初期化
	scheduler := refresh.NewScheduler(refresher, slog.Default())

	// 6. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(markerRepo, docRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.CleanupRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Int("batch_size", cfg.RefreshBatchSize),
		slog.Int("max_concurrent", cfg.RefreshMaxConcurrent),
	)

	// クリーンアップジョブを定期的にバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// リフレッシュスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
