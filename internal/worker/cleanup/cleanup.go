// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 有効期限から猶予時間（デフォルト24時間）を過ぎたセッションを
// 定期バッチで削除する。Redis上のキャッシュはTTLで自然に失効する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Recorder はクリーンアップ結果の記録先。metrics.Collectorが満たす。
type Recorder interface {
	RecordSessionsCleaned(count int64)
	RecordCleanupLatency(duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionsCleaned(int64)        {}
func (nopRecorder) RecordCleanupLatency(time.Duration) {}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理のため、複数のワーカーから同時に実行しても安全。
type CleanupJob struct {
	db         Executor
	logger     *slog.Logger
	recorder   Recorder
	GraceHours int // 有効期限後にセッションを残す時間（デフォルト: 24）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder Recorder) *CleanupJob {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CleanupJob{
		db:         db,
		logger:     logger,
		recorder:   recorder,
		GraceHours: 24,
	}
}

// Run は猶予時間を過ぎた期限切れセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d hours", j.GraceHours)

	query := `DELETE FROM sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("grace_hours", j.GraceHours),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.recorder.RecordSessionsCleaned(deletedCount)
	j.recorder.RecordCleanupLatency(duration)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("grace_hours", j.GraceHours),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はintervalごとにRunを実行し、ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。個々の実行エラーはログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
