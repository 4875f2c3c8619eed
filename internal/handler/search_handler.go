package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/search"
)

// SearchServiceInterface は検索ハンドラーが必要とするサービスインターフェース。
type SearchServiceInterface interface {
	// LimitedCount は条件に合致する件数を返す。100件超はnil。
	LimitedCount(ctx context.Context, p model.FilterParams) (*int, error)
	// ListPaginated は条件に合致する物件の1ページ分を返す。
	ListPaginated(ctx context.Context, p model.FilterParams) (*search.ListResult, error)
	// MapListings は表示範囲内の地図用物件を返す。
	MapListings(ctx context.Context, p model.FilterParams) (*search.MapResult, error)
}

// SearchMetricsRecorder は検索エラーメトリクスの記録インターフェース。
// metrics.Collectorを直接参照せず、ハンドラーが必要とする最小限の
// インターフェースとして定義する。
type SearchMetricsRecorder interface {
	// RecordSearchError はカテゴリ別の検索エラー件数を記録する。
	RecordSearchError(category string)
}

// SearchHandler は物件検索のHTTPハンドラー。
type SearchHandler struct {
	service SearchServiceInterface
	metrics SearchMetricsRecorder
}

// NewSearchHandler はSearchHandlerを生成する。metricsはnilでもよい。
func NewSearchHandler(service SearchServiceInterface, metrics SearchMetricsRecorder) *SearchHandler {
	return &SearchHandler{
		service: service,
		metrics: metrics,
	}
}

// --- レスポンス型 ---

// countResponse は件数レスポンス。Countがnilの場合はJSONのnullになり、
// UI側は「100+」と表示する。
type countResponse struct {
	Count *int `json:"count"`
}

// listResponse は一覧検索のAPIレスポンス。
type listResponse struct {
	Items       []model.ListItem `json:"items"`
	NextCursor  string           `json:"next_cursor,omitempty"`
	HasNextPage bool             `json:"has_next_page"`
}

// mapListingsResponse は非タイルの地図検索のAPIレスポンス。
type mapListingsResponse struct {
	Listings  []model.MapListing `json:"listings"`
	Truncated bool               `json:"truncated"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// GetCount は検索条件に合致する物件の件数を返す。
// GET /api/search/count
func (h *SearchHandler) GetCount(w http.ResponseWriter, r *http.Request) {
	params, apiErr := ParseFilterParams(r.URL.Query())
	if apiErr != nil {
		handleServiceError(w, apiErr, h.metrics)
		return
	}

	count, err := h.service.LimitedCount(r.Context(), params)
	if err != nil {
		handleServiceError(w, err, h.metrics)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(countResponse{Count: count})
}

// ListListings は検索条件に合致する物件一覧を1ページ分返す。
// GET /api/search/listings
func (h *SearchHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	params, apiErr := ParseFilterParams(r.URL.Query())
	if apiErr != nil {
		handleServiceError(w, apiErr, h.metrics)
		return
	}

	result, err := h.service.ListPaginated(r.Context(), params)
	if err != nil {
		handleServiceError(w, err, h.metrics)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listResponse{
		Items:       result.Items,
		NextCursor:  result.NextCursor,
		HasNextPage: result.HasNextPage,
	})
}

// GetMapListings は表示範囲内の地図用物件を返す。
// GET /api/search/map
func (h *SearchHandler) GetMapListings(w http.ResponseWriter, r *http.Request) {
	params, apiErr := ParseFilterParams(r.URL.Query())
	if apiErr != nil {
		handleServiceError(w, apiErr, h.metrics)
		return
	}

	result, err := h.service.MapListings(r.Context(), params)
	if err != nil {
		handleServiceError(w, err, h.metrics)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(mapListingsResponse{
		Listings:  result.Listings,
		Truncated: result.Truncated,
	})
}

// SetupSearchRoutes は検索関連のルーティングを設定したchi.Routerを返す。
func SetupSearchRoutes(service SearchServiceInterface, metrics SearchMetricsRecorder) http.Handler {
	r := chi.NewRouter()
	h := NewSearchHandler(service, metrics)

	r.Route("/api/search", func(r chi.Router) {
		r.Get("/count", h.GetCount)
		r.Get("/listings", h.ListListings)
		r.Get("/map", h.GetMapListings)
	})

	return r
}

// --- ヘルパー関数 ---

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータス
// コードに変換する。metricsがnilでなければカテゴリ別のエラー件数を記録する。
func handleServiceError(w http.ResponseWriter, err error, metrics SearchMetricsRecorder) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if metrics != nil {
			metrics.RecordSearchError(apiErr.Category)
		}
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	if metrics != nil {
		metrics.RecordSearchError("system")
	}
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidFilter, model.ErrCodeInvalidBounds, model.ErrCodeInvalidRadius, model.ErrCodeInvalidTile:
		return http.StatusBadRequest
	case model.ErrCodeBoundsRequired:
		return http.StatusBadRequest
	case model.ErrCodeSearchTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCodeSearchUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
