// Package dirty は検索ドキュメントの再構築待ちマーキングを提供する。
//
// マーキングは投げ捨て（fire-and-forget）方式で、物件の作成・更新などの
// 呼び出し元の操作を決して失敗させない。記録に失敗したマーカーは
// 次回の物件更新か定期的な全体リフレッシュで回収される。
package dirty

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/repository"
)

// MetricsRecorder はマーキングのメトリクス記録インターフェース。
type MetricsRecorder interface {
	// RecordDirtyMark はダーティマーキング1件を理由別に記録する。
	RecordDirtyMark(reason string)
}

// Tracker は物件の変更をダーティマーカーとして記録する。
type Tracker struct {
	repo    repository.DirtyMarkerRepository
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewTracker はTrackerを生成する。metricsはnilでもよい。
func NewTracker(repo repository.DirtyMarkerRepository, metrics MetricsRecorder, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
	}
}

// MarkListing は1件の物件に再構築待ちマーカーを記録する。
// 失敗してもエラーは返さず、ログに記録するだけで処理を続行する。
func (t *Tracker) MarkListing(ctx context.Context, listingID string, reason model.DirtyReason) {
	t.MarkListings(ctx, []string{listingID}, reason)
}

// MarkListings は複数の物件に同一理由のマーカーを1回の書き込みで記録する。
// 未定義の理由と空のIDは無視する。対象が空になった場合は書き込み自体を行わない。
func (t *Tracker) MarkListings(ctx context.Context, listingIDs []string, reason model.DirtyReason) {
	if !reason.Valid() {
		t.logger.Warn("未定義のダーティ理由を無視します",
			slog.String("reason", string(reason)),
		)
		return
	}

	now := time.Now()
	markers := make([]model.DirtyMarker, 0, len(listingIDs))
	for _, id := range listingIDs {
		if id == "" {
			continue
		}
		markers = append(markers, model.DirtyMarker{
			ID:        uuid.New().String(),
			ListingID: id,
			Reason:    reason,
			MarkedAt:  now,
		})
	}
	if len(markers) == 0 {
		return
	}

	if err := t.repo.InsertBatch(ctx, markers); err != nil {
		// IDの全文はログに出さない
		t.logger.Error("ダーティマーカーの記録に失敗しました",
			slog.String("listing_id", truncateID(markers[0].ListingID)),
			slog.Int("count", len(markers)),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		return
	}

	if t.metrics != nil {
		for range markers {
			t.metrics.RecordDirtyMark(string(reason))
		}
	}
}

// truncateID はログ用に物件IDを先頭8文字へ丸める。
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
