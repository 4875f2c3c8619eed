package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/tile"
)

// TileServiceInterface はタイルハンドラーが必要とするサービスインターフェース。
type TileServiceInterface interface {
	// MapData は地図描画用レスポンスを構築する。
	// includeDensityが真の場合は密度情報を付与する。
	MapData(ctx context.Context, p model.FilterParams, includeDensity bool) (*model.MapResponse, error)
}

// TileHandler は地図タイル配信のHTTPハンドラー。
// タイル座標をそのタイルが覆う地理的範囲へ変換し、
// 範囲条件付きの地図検索として処理する。
type TileHandler struct {
	service TileServiceInterface
	metrics SearchMetricsRecorder
}

// NewTileHandler はTileHandlerを生成する。metricsはnilでもよい。
func NewTileHandler(service TileServiceInterface, metrics SearchMetricsRecorder) *TileHandler {
	return &TileHandler{
		service: service,
		metrics: metrics,
	}
}

// GetTile はタイル1枚分の地図物件を返す。
// GET /api/tiles/:zoom/:x/:y
func (h *TileHandler) GetTile(w http.ResponseWriter, r *http.Request) {
	key, apiErr := parseTileKey(r)
	if apiErr != nil {
		handleServiceError(w, apiErr, h.metrics)
		return
	}

	params, apiErr := ParseFilterParams(r.URL.Query())
	if apiErr != nil {
		handleServiceError(w, apiErr, h.metrics)
		return
	}

	// タイルの覆う範囲を表示範囲として検索する。クエリ指定の範囲より優先
	bounds := tile.KeyBounds(key)
	params.Bounds = &bounds

	resp, err := h.service.MapData(r.Context(), params, includeDensityParam(r))
	if err != nil {
		handleServiceError(w, err, h.metrics)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SetupTileRoutes はタイル配信のルーティングを設定したchi.Routerを返す。
func SetupTileRoutes(service TileServiceInterface, metrics SearchMetricsRecorder) http.Handler {
	r := chi.NewRouter()
	h := NewTileHandler(service, metrics)

	r.Get("/api/tiles/{zoom}/{x}/{y}", h.GetTile)

	return r
}

// parseTileKey はURLパラメータからタイル座標を解釈する。
// 数値でない値やズームレベルに対して範囲外の座標はエラーにする。
func parseTileKey(r *http.Request) (tile.Key, *model.APIError) {
	zoom, err := strconv.Atoi(chi.URLParam(r, "zoom"))
	if err != nil {
		return tile.Key{}, model.NewInvalidTileError()
	}
	x, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		return tile.Key{}, model.NewInvalidTileError()
	}
	y, err := strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		return tile.Key{}, model.NewInvalidTileError()
	}

	key := tile.Key{Zoom: zoom, X: x, Y: y}
	if !key.Valid() {
		return tile.Key{}, model.NewInvalidTileError()
	}
	return key, nil
}

// includeDensityParam は密度情報の付与フラグを解釈する。
// 旧クライアント互換のためincludeDensity表記も受け付ける。
func includeDensityParam(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("include_density") == "true" || q.Get("includeDensity") == "true"
}
