package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/roomsearch/internal/metrics"
	"github.com/hitoshi/roomsearch/internal/middleware"
	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/query"
	"github.com/hitoshi/roomsearch/internal/search"
)

// --- 統合テスト用のステートフルモック ---

// integrationCatalog は統合テスト用の物件カタログを保持する。
// itemsはおすすめ順に整列済みとして扱い、モックサービスは
// 本物と同じカーソル形式でページングする。
type integrationCatalog struct {
	items       []model.ListItem
	mapListings []model.MapListing
}

func newIntegrationCatalog(count int) *integrationCatalog {
	c := &integrationCatalog{}
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("listing-%03d", i+1)
		c.items = append(c.items, model.ListItem{
			ID:                id,
			Title:             fmt.Sprintf("シェアハウス %03d", i+1),
			PricePerMonth:     50000 + i*500,
			RoomType:          model.RoomTypePrivate,
			AddressCity:       "渋谷区",
			AddressPrefecture: "東京都",
		})
		c.mapListings = append(c.mapListings, model.MapListing{
			ID:            id,
			Lat:           35.65 + float64(i)*0.0001,
			Lng:           139.70 + float64(i)*0.0001,
			PricePerMonth: 50000 + i*500,
			RoomType:      model.RoomTypePrivate,
		})
	}
	return c
}

// filtered は価格フィルタを適用した一覧を返す。
func (c *integrationCatalog) filtered(p model.FilterParams) []model.ListItem {
	var out []model.ListItem
	for _, item := range c.items {
		if p.MinPrice != nil && item.PricePerMonth < *p.MinPrice {
			continue
		}
		if p.MaxPrice != nil && item.PricePerMonth > *p.MaxPrice {
			continue
		}
		out = append(out, item)
	}
	return out
}

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationRouter(catalog *integrationCatalog) (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	searchSvc := &mockSearchService{
		limitedCountFn: func(ctx context.Context, p model.FilterParams) (*int, error) {
			if p.IsEmpty() {
				return nil, nil
			}
			n := len(catalog.filtered(p))
			if n > query.CountExactThreshold {
				return nil, nil
			}
			return &n, nil
		},
		listPaginatedFn: func(ctx context.Context, p model.FilterParams) (*search.ListResult, error) {
			matched := catalog.filtered(p)
			page := query.DecodeCursor(p.Cursor)
			size := query.EffectiveListLimit(p, p.Limit)

			start := page * size
			if start > len(matched) {
				start = len(matched)
			}
			end := start + size
			if end > len(matched) {
				end = len(matched)
			}

			result := &search.ListResult{Items: matched[start:end]}
			if end < len(matched) {
				result.HasNextPage = true
				result.NextCursor = query.EncodeCursor(page + 1)
			}
			return result, nil
		},
		mapListingsFn: func(ctx context.Context, p model.FilterParams) (*search.MapResult, error) {
			return &search.MapResult{Listings: catalog.mapListings}, nil
		},
	}

	tileSvc := &mockTileService{
		mapDataFn: func(ctx context.Context, p model.FilterParams, includeDensity bool) (*model.MapResponse, error) {
			resp := &model.MapResponse{
				Listings: catalog.mapListings,
				Mode:     model.MapModeGeoJSON,
				GeoJSON:  &model.GeoJSONFeatureCollection{Type: "FeatureCollection", Features: []model.GeoJSONFeature{}},
			}
			if includeDensity {
				resp.Density = &model.TileDensity{
					ListingCount:  len(catalog.items),
					ReturnedCount: len(catalog.mapListings),
				}
			}
			return resp, nil
		},
	}

	var buf bytes.Buffer
	deps := &RouterDeps{
		HealthChecker:     &mockPinger{},
		CORSAllowedOrigin: "https://rooms.example.com",
		RateLimiter:       middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		SearchService:     searchSvc,
		TileService:       tileSvc,
		Metrics:           collector,
		MetricsGatherer:   reg,
		Logger:            slog.New(slog.NewJSONHandler(&buf, nil)),
	}
	return NewRouter(deps), reg
}

// --- エンドツーエンド統合テスト ---

// TestIntegration_ListingPaginationFlow は一覧検索のページングフロー全体を検証する。
// 1ページ目取得 → next_cursorで2ページ目 → 最終ページでカーソルが消えること
func TestIntegration_ListingPaginationFlow(t *testing.T) {
	catalog := newIntegrationCatalog(60)
	router, _ := createIntegrationRouter(catalog)

	bounds := "min_lat=35.6&max_lat=35.7&min_lng=139.69&max_lng=139.8"

	// 1. 1ページ目: デフォルト24件とnext_cursorが返ること
	req := httptest.NewRequest(http.MethodGet, "/api/search/listings?"+bounds, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("step1: GET /api/search/listings status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var page1 struct {
		Items       []model.ListItem `json:"items"`
		NextCursor  string           `json:"next_cursor"`
		HasNextPage bool             `json:"has_next_page"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page1); err != nil {
		t.Fatalf("step1: failed to decode response: %v", err)
	}
	if len(page1.Items) != query.DefaultPageSize {
		t.Fatalf("step1: items length = %d, want %d", len(page1.Items), query.DefaultPageSize)
	}
	if page1.Items[0].ID != "listing-001" {
		t.Errorf("step1: first item = %q, want %q", page1.Items[0].ID, "listing-001")
	}
	if !page1.HasNextPage || page1.NextCursor == "" {
		t.Fatalf("step1: has_next_page = %v, next_cursor = %q, want next page available", page1.HasNextPage, page1.NextCursor)
	}

	// 2. 2ページ目: カーソルを辿ると続きの24件が返ること
	req = httptest.NewRequest(http.MethodGet, "/api/search/listings?"+bounds+"&cursor="+page1.NextCursor, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp = w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("step2: GET with cursor status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var page2 struct {
		Items       []model.ListItem `json:"items"`
		NextCursor  string           `json:"next_cursor"`
		HasNextPage bool             `json:"has_next_page"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page2); err != nil {
		t.Fatalf("step2: failed to decode response: %v", err)
	}
	if len(page2.Items) != query.DefaultPageSize {
		t.Fatalf("step2: items length = %d, want %d", len(page2.Items), query.DefaultPageSize)
	}
	if page2.Items[0].ID != "listing-025" {
		t.Errorf("step2: first item = %q, want %q", page2.Items[0].ID, "listing-025")
	}
	if !page2.HasNextPage {
		t.Fatal("step2: expected a third page")
	}

	// 3. 最終ページ: 残り12件、has_next_page=false、next_cursorなし
	req = httptest.NewRequest(http.MethodGet, "/api/search/listings?"+bounds+"&cursor="+page2.NextCursor, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := w.Body.String()
	var page3 struct {
		Items       []model.ListItem `json:"items"`
		HasNextPage bool             `json:"has_next_page"`
	}
	if err := json.Unmarshal([]byte(body), &page3); err != nil {
		t.Fatalf("step3: failed to decode response: %v", err)
	}
	if len(page3.Items) != 12 {
		t.Fatalf("step3: items length = %d, want 12", len(page3.Items))
	}
	if page3.HasNextPage {
		t.Error("step3: has_next_page = true, want false on last page")
	}
	if strings.Contains(body, "next_cursor") {
		t.Error("step3: last page should omit next_cursor")
	}
}

// TestIntegration_CountThenFilterFlow は件数取得と絞り込みの連動を検証する。
// 全件カウント → 価格フィルタで絞る → 一覧が同じ件数を返すこと
func TestIntegration_CountThenFilterFlow(t *testing.T) {
	catalog := newIntegrationCatalog(60)
	router, _ := createIntegrationRouter(catalog)

	// 1. フィルタのみのカウント: 60件
	req := httptest.NewRequest(http.MethodGet, "/api/search/count?min_price=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var count1 struct {
		Count *int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&count1); err != nil {
		t.Fatalf("step1: failed to decode response: %v", err)
	}
	if count1.Count == nil || *count1.Count != 60 {
		t.Fatalf("step1: count = %v, want 60", count1.Count)
	}

	// 2. 価格上限で絞ったカウント: 50000〜52000円の5件
	req = httptest.NewRequest(http.MethodGet, "/api/search/count?max_price=52000", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var count2 struct {
		Count *int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&count2); err != nil {
		t.Fatalf("step2: failed to decode response: %v", err)
	}
	if count2.Count == nil || *count2.Count != 5 {
		t.Fatalf("step2: count = %v, want 5", count2.Count)
	}

	// 3. 同じフィルタの一覧がカウントと同じ件数を返すこと
	target := "/api/search/listings?max_price=52000&min_lat=35.6&max_lat=35.7&min_lng=139.69&max_lng=139.8"
	req = httptest.NewRequest(http.MethodGet, target, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var list struct {
		Items       []model.ListItem `json:"items"`
		HasNextPage bool             `json:"has_next_page"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("step3: failed to decode response: %v", err)
	}
	if len(list.Items) != 5 {
		t.Errorf("step3: items length = %d, want 5", len(list.Items))
	}
	if list.HasNextPage {
		t.Error("step3: has_next_page = true, want false")
	}
}

// TestIntegration_CountOverflow_ReturnsNull は101件以上のヒットで
// countがJSONのnullになることを検証する。
func TestIntegration_CountOverflow_ReturnsNull(t *testing.T) {
	catalog := newIntegrationCatalog(150)
	router, _ := createIntegrationRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/api/search/count?min_price=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/search/count status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"count":null}` {
		t.Errorf("body = %q, want %q", got, `{"count":null}`)
	}
}

// TestIntegration_MapAndTileFlow は地図一覧とタイル取得のフローを検証する。
// 地図用一覧取得 → タイルを密度付きで取得 → 密度情報が一致すること
func TestIntegration_MapAndTileFlow(t *testing.T) {
	catalog := newIntegrationCatalog(30)
	router, _ := createIntegrationRouter(catalog)

	// 1. 地図用一覧
	target := "/api/search/map?min_lat=35.6&max_lat=35.7&min_lng=139.69&max_lng=139.8"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("step1: GET /api/search/map status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var mapResp struct {
		Listings  []model.MapListing `json:"listings"`
		Truncated bool               `json:"truncated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mapResp); err != nil {
		t.Fatalf("step1: failed to decode response: %v", err)
	}
	if len(mapResp.Listings) != 30 {
		t.Fatalf("step1: listings length = %d, want 30", len(mapResp.Listings))
	}
	if mapResp.Truncated {
		t.Error("step1: truncated = true, want false")
	}

	// 2. タイルを密度付きで取得
	req = httptest.NewRequest(http.MethodGet, "/api/tiles/14/14552/6452?include_density=true", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp = w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("step2: GET /api/tiles status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var tileResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&tileResp); err != nil {
		t.Fatalf("step2: failed to decode response: %v", err)
	}
	if tileResp["mode"] != "geojson" {
		t.Errorf("step2: mode = %v, want %q", tileResp["mode"], "geojson")
	}

	density, ok := tileResp["density"].(map[string]interface{})
	if !ok {
		t.Fatal("step2: expected density in tile response")
	}
	if density["listing_count"] != float64(30) {
		t.Errorf("step2: density.listing_count = %v, want 30", density["listing_count"])
	}
	if density["returned_count"] != float64(30) {
		t.Errorf("step2: density.returned_count = %v, want 30", density["returned_count"])
	}

	// 3. 密度なしのタイル取得ではdensityが省略されること
	req = httptest.NewRequest(http.MethodGet, "/api/tiles/14/14552/6452", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if strings.Contains(w.Body.String(), `"density"`) {
		t.Error("step3: density should be omitted without include_density")
	}
}

// TestIntegration_ValidationErrorRecordedInMetrics は不正リクエストが
// エラーメトリクスとして/metricsに露出することを検証する。
func TestIntegration_ValidationErrorRecordedInMetrics(t *testing.T) {
	catalog := newIntegrationCatalog(10)
	router, _ := createIntegrationRouter(catalog)

	// 1. 不正なmin_priceで400が返ること
	req := httptest.NewRequest(http.MethodGet, "/api/search/count?min_price=abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("step1: status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}

	// 2. /metricsにvalidationカテゴリのエラーが記録されていること
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := w.Body.String()
	want := `roomsearch_search_errors_total{category="validation"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("step2: /metrics should contain %q", want)
	}
}
