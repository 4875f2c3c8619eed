package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/roomsearch/internal/model"
)

// MaxReindexBatch は1リクエストで受け付ける物件IDの上限。
// ダーティマーカーの追記は1文のマルチVALUESなので、上限なしでは
// プレースホルダ数がPostgreSQLの限界に達しうる。
const MaxReindexBatch = 1000

// DirtyTrackerInterface は再インデックス通知ハンドラーが必要とする
// トラッカーのインターフェース。
type DirtyTrackerInterface interface {
	// MarkListings は複数の物件に再構築待ちマーカーを記録する。
	MarkListings(ctx context.Context, listingIDs []string, reason model.DirtyReason)
}

// ReindexHandler は物件変更通知のHTTPハンドラー。
// マーケットプレイス本体が物件を作成・更新・削除したときに呼び出し、
// 該当物件を検索インデックスの再構築待ちとして登録する。
// マーキング自体は投げ捨て方式のため、202を返した時点で完了を保証しない。
type ReindexHandler struct {
	tracker DirtyTrackerInterface
	metrics SearchMetricsRecorder
}

// NewReindexHandler はReindexHandlerを生成する。metricsはnilでもよい。
func NewReindexHandler(tracker DirtyTrackerInterface, metrics SearchMetricsRecorder) *ReindexHandler {
	return &ReindexHandler{
		tracker: tracker,
		metrics: metrics,
	}
}

// reindexRequest は変更通知のリクエストボディ。
type reindexRequest struct {
	ListingIDs []string `json:"listing_ids"`
	Reason     string   `json:"reason"`
}

// reindexResponse は受け付けた物件数を返す。
type reindexResponse struct {
	Accepted int `json:"accepted"`
}

// PostReindex は変更のあった物件を再構築待ちとして受け付ける。
// POST /internal/reindex
func (h *ReindexHandler) PostReindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidFilterError("body"), h.metrics)
		return
	}

	reason := model.DirtyReason(req.Reason)
	if !reason.Valid() {
		handleServiceError(w, model.NewInvalidFilterError("reason"), h.metrics)
		return
	}

	ids := make([]string, 0, len(req.ListingIDs))
	for _, id := range req.ListingIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 || len(ids) > MaxReindexBatch {
		handleServiceError(w, model.NewInvalidFilterError("listing_ids"), h.metrics)
		return
	}

	h.tracker.MarkListings(r.Context(), ids, reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(reindexResponse{Accepted: len(ids)})
}
