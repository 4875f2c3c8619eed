// Package cleanup は検索インデックスの定期清掃ジョブを提供する。
// 保持期間（デフォルト7日）を超過したダーティマーカーと、掲載の削除後に
// 取り残された検索ドキュメントを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MarkerPruner は期限切れダーティマーカーの削除を抽象化するインターフェース。
// repository.DirtyMarkerRepository がこれを満たす。
type MarkerPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OrphanPruner は孤立した検索ドキュメントの削除を抽象化するインターフェース。
// repository.SearchDocumentRepository がこれを満たす。
type OrphanPruner interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

// CleanupJob は検索インデックスの残骸を削除する清掃ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	markers       MarkerPruner
	docs          OrphanPruner
	logger        *slog.Logger
	RetentionDays int // ダーティマーカーの保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は7日。
func NewCleanupJob(markers MarkerPruner, docs OrphanPruner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		markers:       markers,
		docs:          docs,
		logger:        logger,
		RetentionDays: 7,
	}
}

// Run は保持期間を超過したダーティマーカーと孤立ドキュメントを削除する。
// marked_atがRetentionDays日前より古いマーカーをDELETEする。
// 孤立ドキュメントは源泉の掲載が存在しなくなった検索ドキュメントを指す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	staleMarkers, err := j.markers.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("ダーティマーカーの清掃に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ダーティマーカーの清掃に失敗: %w", err)
	}

	orphanDocs, err := j.docs.DeleteOrphans(ctx)
	if err != nil {
		j.logger.Error("孤立ドキュメントの清掃に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("孤立ドキュメントの清掃に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("検索インデックスのクリーンアップが完了しました",
		slog.Int64("stale_markers_deleted", staleMarkers),
		slog.Int64("orphan_documents_deleted", orphanDocs),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
