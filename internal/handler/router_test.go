package handler

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/roomsearch/internal/metrics"
	"github.com/hitoshi/roomsearch/internal/middleware"
)

// newTestRouterDeps は全依存をモックで束ねたRouterDepsを生成するテストヘルパー。
// 返り値のレジストリは/metricsの出力検証に使う。
func newTestRouterDeps() (*RouterDeps, *mockSearchService, *mockTileService, *mockPinger, *prometheus.Registry) {
	searchSvc := &mockSearchService{}
	tileSvc := &mockTileService{}
	pinger := &mockPinger{}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	var buf bytes.Buffer
	deps := &RouterDeps{
		HealthChecker:     pinger,
		CORSAllowedOrigin: "https://rooms.example.com",
		RateLimiter:       middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		SearchService:     searchSvc,
		TileService:       tileSvc,
		Metrics:           collector,
		MetricsGatherer:   reg,
		Logger:            slog.New(slog.NewJSONHandler(&buf, nil)),
	}
	return deps, searchSvc, tileSvc, pinger, reg
}

func TestNewRouter_HealthEndpoint(t *testing.T) {
	deps, _, _, pinger, _ := newTestRouterDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if pinger.calls != 1 {
		t.Errorf("ping called %d times, want 1", pinger.calls)
	}
}

func TestNewRouter_HealthEndpoint_DatabaseDown(t *testing.T) {
	deps, _, _, pinger, _ := newTestRouterDeps()
	pinger.err = errors.New("connection refused")
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_SearchEndpoints(t *testing.T) {
	deps, searchSvc, _, _, _ := newTestRouterDeps()
	router := NewRouter(deps)

	paths := []string{
		"/api/search/count",
		"/api/search/listings?min_lat=35.6&max_lat=35.7&min_lng=139.7&max_lng=139.8",
		"/api/search/map?min_lat=35.6&max_lat=35.7&min_lng=139.7&max_lng=139.8",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}

	total := searchSvc.limitedCalls + searchSvc.listCalls + searchSvc.mapCalls
	if total != 3 {
		t.Errorf("search service called %d times, want 3", total)
	}
}

func TestNewRouter_TileEndpoint(t *testing.T) {
	deps, _, tileSvc, _, _ := newTestRouterDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/tiles/5/28/12", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/tiles/5/28/12 status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if tileSvc.calls != 1 {
		t.Errorf("tile service called %d times, want 1", tileSvc.calls)
	}
}

// TestNewRouter_MetricsEndpoint はリクエスト処理後に/metricsへ
// roomsearch_プレフィックスの計測値が露出することを検証する。
func TestNewRouter_MetricsEndpoint(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	router := NewRouter(deps)

	// 計測対象のリクエストを1件流してから/metricsを読む
	warmup := httptest.NewRequest(http.MethodGet, "/api/search/count", nil)
	router.ServeHTTP(httptest.NewRecorder(), warmup)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, "roomsearch_") {
		t.Error("expected /metrics output to contain roomsearch_ metrics")
	}
	if !strings.Contains(body, "roomsearch_http_status_total") {
		t.Error("expected /metrics output to contain roomsearch_http_status_total")
	}
}

func TestNewRouter_MetricsEndpoint_NotMountedWithoutGatherer(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	deps.Metrics = nil
	deps.MetricsGatherer = nil
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /metrics status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestNewRouter_SecurityAndCORSHeaders(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/search/count", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want %q", got, "DENY")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://rooms.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://rooms.example.com")
	}
}

func TestNewRouter_UnknownRoute_Returns404(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /api/unknown status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// TestNewRouter_RateLimitExceeded_Returns429 はバーストを使い切った
// クライアントが429を受け取ることを検証する。
func TestNewRouter_RateLimitExceeded_Returns429(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	deps.RateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(0.001),
		GeneralBurst:    2,
		MapRate:         rate.Limit(0.001),
		MapBurst:        2,
		CleanupInterval: time.Minute,
	})
	router := NewRouter(deps)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/search/count", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)
		last = w.Result().StatusCode
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

// TestNewRouter_HealthOutsideRateLimit は/healthがレート制限の
// 対象外であることを検証する。
func TestNewRouter_HealthOutsideRateLimit(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	deps.RateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(0.001),
		GeneralBurst:    1,
		MapRate:         rate.Limit(0.001),
		MapBurst:        1,
		CleanupInterval: time.Minute,
	})
	router := NewRouter(deps)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: GET /health status = %d, want %d", i+1, w.Result().StatusCode, http.StatusOK)
		}
	}
}

// TestNewRouter_NilMetrics は計測なし構成でもルーターが動作することを検証する。
func TestNewRouter_NilMetrics(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	deps.Metrics = nil
	deps.MetricsGatherer = nil
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/search/count", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/search/count status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// TestNewRouter_ReindexEndpoint は変更通知エンドポイントが
// トラッカー設定時にマウントされることを検証する。
func TestNewRouter_ReindexEndpoint(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	tracker := &mockDirtyTracker{}
	deps.DirtyTracker = tracker
	router := NewRouter(deps)

	body := `{"listing_ids":["listing-1"],"reason":"listing_updated"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/reindex", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /internal/reindex status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if tracker.calls != 1 {
		t.Errorf("tracker called %d times, want 1", tracker.calls)
	}
}

// TestNewRouter_ReindexNotMountedWithoutTracker はトラッカー未設定の場合に
// 変更通知エンドポイントが存在しないことを検証する。
func TestNewRouter_ReindexNotMountedWithoutTracker(t *testing.T) {
	deps, _, _, _, _ := newTestRouterDeps()
	router := NewRouter(deps)

	body := `{"listing_ids":["listing-1"],"reason":"listing_updated"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/reindex", strings.NewReader(body))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("POST /internal/reindex status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
