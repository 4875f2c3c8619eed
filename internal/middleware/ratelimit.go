package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/roomsearch/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 検索API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // 検索API全般のバーストサイズ
	MapRate         rate.Limit    // 地図・タイル系のレート（req/sec）。240/60 = 4 req/sec
	MapBurst        int           // 地図・タイル系のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 検索API全般は120 req/min/client。地図・タイル系はパン・ズームで
// 連続リクエストが発生するため240 req/min/clientまで許容する
// （クライアントは250msのデバウンスで送信するので持続4 req/secが上限）。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    30,
		MapRate:         rate.Limit(240.0 / 60.0), // 4 req/sec
		MapBurst:        60,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// 検索API全般のレート制限と地図・タイル系のレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*clientLimiter

	mapMu       sync.RWMutex
	mapLimiters map[string]*clientLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*clientLimiter),
		mapLimiters:     make(map[string]*clientLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware は検索API全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := ClientKey(r)
			limiter := rl.getOrCreateGeneralLimiter(clientKey)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("client", clientKey),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MapMiddleware は地図・タイル系専用のレート制限ミドルウェアを返す。
// 検索API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) MapMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := ClientKey(r)
			limiter := rl.getOrCreateMapLimiter(clientKey)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.MapRate)
				slog.Warn("rate limit exceeded",
					slog.String("client", clientKey),
					slog.String("limit_type", "map"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されている全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// MapLimiterCount は現在管理されている地図系リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) MapLimiterCount() int {
	rl.mapMu.RLock()
	defer rl.mapMu.RUnlock()
	return len(rl.mapLimiters)
}

// ClientKey はレート制限のキーとなるクライアント識別子を返す。
// リバースプロキシ配下ではX-Forwarded-Forの先頭IPを、
// 直接接続ではRemoteAddrのホスト部を使用する。
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getOrCreateGeneralLimiter はクライアントの全般リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateGeneralLimiter(clientKey string) *rate.Limiter {
	rl.generalMu.RLock()
	cl, exists := rl.generalLimiters[clientKey]
	rl.generalMu.RUnlock()

	if exists {
		rl.generalMu.Lock()
		cl.lastAccess = time.Now()
		rl.generalMu.Unlock()
		return cl.limiter
	}

	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()

	// ダブルチェック
	if cl, exists := rl.generalLimiters[clientKey]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)
	rl.generalLimiters[clientKey] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateMapLimiter はクライアントの地図系リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateMapLimiter(clientKey string) *rate.Limiter {
	rl.mapMu.RLock()
	cl, exists := rl.mapLimiters[clientKey]
	rl.mapMu.RUnlock()

	if exists {
		rl.mapMu.Lock()
		cl.lastAccess = time.Now()
		rl.mapMu.Unlock()
		return cl.limiter
	}

	rl.mapMu.Lock()
	defer rl.mapMu.Unlock()

	// ダブルチェック
	if cl, exists := rl.mapLimiters[clientKey]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(rl.config.MapRate, rl.config.MapBurst)
	rl.mapLimiters[clientKey] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for clientKey, cl := range rl.generalLimiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.generalLimiters, clientKey)
		}
	}
	rl.generalMu.Unlock()

	rl.mapMu.Lock()
	for clientKey, cl := range rl.mapLimiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.mapLimiters, clientKey)
		}
	}
	rl.mapMu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
