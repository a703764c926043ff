// Package retention はプロキシエントリの保持期間ジョブを提供する。
// 保持期間を超えたキーとオリジンURLの対応を定期的に削除する。
// 削除済みのキーへのプロキシ要求は404になるため、保持期間は
// 書き換え済みの参照がクライアントに残り得る期間より長く設定する。
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval は削除処理の既定の実行間隔。
const DefaultInterval = 24 * time.Hour

// Pruner は保持期間を超えたエントリを削除するインターフェース。
// keystore.Keystoreが実装する。
type Pruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Job は保持期間を超えたプロキシエントリの削除ジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type Job struct {
	store     Pruner
	logger    *slog.Logger
	Retention time.Duration
	Interval  time.Duration
}

// NewJob はJobを生成する。実行間隔はDefaultInterval。
func NewJob(store Pruner, logger *slog.Logger, retention time.Duration) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		store:     store,
		logger:    logger,
		Retention: retention,
		Interval:  DefaultInterval,
	}
}

// Run は削除を1回実行する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.store.Prune(ctx, j.Retention)
	if err != nil {
		j.logger.Error("プロキシエントリの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.String("retention", j.Retention.String()),
		)
		return fmt.Errorf("プロキシエントリの削除に失敗: %w", err)
	}

	j.logger.Info("プロキシエントリの削除が完了しました",
		slog.Int64("deleted_count", deleted),
		slog.String("retention", j.Retention.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回削除を実行し、以降Intervalごとに繰り返す。
// ctxがキャンセルされるまでブロックする。
func (j *Job) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("保持期間ジョブを開始しました",
		slog.String("retention", j.Retention.String()),
		slog.String("interval", interval.String()),
	)

	// エラーはRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("保持期間ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
