package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/repository"
	"github.com/hitoshi/roomsearch/internal/security"
)

// MetricsRecorder はリフレッシュ処理の計測インターフェース。
// metrics.Collectorを直接参照せず、必要なメソッドだけを定義する。
type MetricsRecorder interface {
	RecordRefreshRun(duration time.Duration, refreshed, deleted int)
	RecordRefreshFailure()
}

// Refresher はダーティマーカーを1バッチずつ消費し、検索ドキュメントを
// 源泉データから再構築する。
// 同一物件を指す複数のマーカーは1回の再構築にまとめる。源泉の物件が
// 消えているか非公開になっている場合はドキュメントを削除する。
// 処理に失敗した物件のマーカーは削除せず、次のサイクルで再試行する。
type Refresher struct {
	markerRepo     repository.DirtyMarkerRepository
	listingRepo    repository.ListingSourceRepository
	docRepo        repository.SearchDocumentRepository
	sanitizer      security.SearchTextSanitizerService
	metrics        MetricsRecorder
	logger         *slog.Logger
	batchSize      int
	maxConcurrency int
}

// NewRefresher はRefresherの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値200、maxConcurrencyが0以下の場合は
// デフォルト値10を使用する。metricsはnilでもよい。
func NewRefresher(
	markerRepo repository.DirtyMarkerRepository,
	listingRepo repository.ListingSourceRepository,
	docRepo repository.SearchDocumentRepository,
	sanitizer security.SearchTextSanitizerService,
	metrics MetricsRecorder,
	logger *slog.Logger,
	batchSize int,
	maxConcurrency int,
) *Refresher {
	if batchSize <= 0 {
		batchSize = 200
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Refresher{
		markerRepo:     markerRepo,
		listingRepo:    listingRepo,
		docRepo:        docRepo,
		sanitizer:      sanitizer,
		metrics:        metrics,
		logger:         logger,
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
	}
}

// RunOnce はマーカーを1バッチ取得して再構築を実行し、処理済みマーカー数を返す。
// バッチ取得・源泉読み取りの失敗はエラーとして返すが、個別物件の
// 再構築失敗はログに記録して他の物件の処理を続行する。
func (r *Refresher) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	markers, err := r.markerRepo.ListOldest(ctx, r.batchSize)
	if err != nil {
		r.recordFailure()
		return 0, fmt.Errorf("ダーティマーカーの取得に失敗しました: %w", err)
	}
	if len(markers) == 0 {
		return 0, nil
	}

	// 同一物件への複数マーカーを1回の再構築へまとめる
	listingIDs := dedupeListingIDs(markers)

	sources, err := r.listingRepo.FindByIDs(ctx, listingIDs)
	if err != nil {
		r.recordFailure()
		return 0, fmt.Errorf("物件源泉データの取得に失敗しました: %w", err)
	}

	found := make(map[string]repository.ListingWithReviewStats, len(sources))
	for _, src := range sources {
		found[src.ID] = src
	}

	// semaphoreパターンで並列数を制御しながら物件ごとに再構築する
	sem := make(chan struct{}, r.maxConcurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	now := time.Now()
	refreshed, deleted := 0, 0
	failed := make(map[string]bool)

	for _, id := range listingIDs {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(listingID string) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			src, ok := found[listingID]
			if !ok || src.Status != model.ListingStatusActive {
				// 源泉が消えたか非公開になった物件は検索から外す
				if err := r.docRepo.DeleteByID(ctx, listingID); err != nil {
					r.logger.Error("検索ドキュメントの削除に失敗しました",
						slog.String("listing_id", listingID),
						slog.String("error", err.Error()),
					)
					mu.Lock()
					failed[listingID] = true
					mu.Unlock()
					return
				}
				mu.Lock()
				deleted++
				mu.Unlock()
				return
			}

			doc := BuildDocument(src, r.sanitizer.ExtractText(src.Description), now)
			if err := r.docRepo.Upsert(ctx, doc); err != nil {
				r.logger.Error("検索ドキュメントのUPSERTに失敗しました",
					slog.String("listing_id", listingID),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failed[listingID] = true
				mu.Unlock()
				return
			}
			mu.Lock()
			refreshed++
			mu.Unlock()
		}(id)
	}

	wg.Wait()

	// 再構築に成功した物件のマーカーだけ削除する。失敗分は残して次回再試行
	processedMarkerIDs := make([]string, 0, len(markers))
	for _, m := range markers {
		if !failed[m.ListingID] {
			processedMarkerIDs = append(processedMarkerIDs, m.ID)
		}
	}
	if err := r.markerRepo.DeleteByIDs(ctx, processedMarkerIDs); err != nil {
		// マーカーが残っても再構築は冪等なので、次回のサイクルでやり直される
		r.logger.Error("処理済みマーカーの削除に失敗しました",
			slog.Int("marker_count", len(processedMarkerIDs)),
			slog.String("error", err.Error()),
		)
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordRefreshRun(duration, refreshed, deleted)
		if len(failed) > 0 {
			r.metrics.RecordRefreshFailure()
		}
	}

	r.logger.Info("リフレッシュサイクルが完了しました",
		slog.Int("marker_count", len(markers)),
		slog.Int("listing_count", len(listingIDs)),
		slog.Int("documents_refreshed", refreshed),
		slog.Int("documents_deleted", deleted),
		slog.Int("failed_count", len(failed)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return len(processedMarkerIDs), nil
}

func (r *Refresher) recordFailure() {
	if r.metrics != nil {
		r.metrics.RecordRefreshFailure()
	}
}

// dedupeListingIDs はマーカー列から重複を除いた物件IDを出現順で返す。
func dedupeListingIDs(markers []model.DirtyMarker) []string {
	seen := make(map[string]bool, len(markers))
	ids := make([]string, 0, len(markers))
	for _, m := range markers {
		if seen[m.ListingID] {
			continue
		}
		seen[m.ListingID] = true
		ids = append(ids, m.ListingID)
	}
	return ids
}
