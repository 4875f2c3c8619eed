// Package refresh はダーティマーカーを消費して検索ドキュメントを再構築する
// バックグラウンドワーカーを提供する。
// スケジューラ、リフレッシャー、ドキュメント構築ロジックを含む。
package refresh

import (
	"context"
	"log/slog"
	"time"
)

// RefreshRunner は1バッチ分の再構築を実行するインターフェース。
type RefreshRunner interface {
	// RunOnce はマーカーを1バッチ処理し、処理済みマーカー数を返す。
	RunOnce(ctx context.Context) (int, error)
}

// Scheduler は一定間隔でリフレッシュサイクルを起動する。
// 各ティックでは未処理マーカーがなくなるまでバッチ処理を繰り返す。
type Scheduler struct {
	runner RefreshRunner
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner RefreshRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リフレッシュスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リフレッシュスケジューラを停止しました")
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

// drain は未処理マーカーがなくなるまでRunOnceを繰り返す。
// 全件失敗したバッチは処理数0になり、ここで抜ける。
func (s *Scheduler) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := s.runner.RunOnce(ctx)
		if err != nil {
			s.logger.Error("リフレッシュサイクルの実行に失敗しました",
				slog.String("error", err.Error()),
			)
			return
		}
		if processed == 0 {
			return
		}
	}
}
