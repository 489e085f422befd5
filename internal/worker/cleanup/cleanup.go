// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// expires_atを過ぎたセッション行を定期バッチで削除する。
// セッションの有効性判定は読み取り側で行われるため、
// このジョブはストレージ回収のみを担い、正当性には影響しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shotokan2003/sen-ai/internal/metrics"
)

// SessionSweeper は期限切れセッションの削除を抽象化するインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// SweepJob は期限切れセッションの自動削除ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type SweepJob struct {
	sessions  SessionSweeper
	logger    *slog.Logger
	collector metrics.MetricsCollector // 省略可

	Interval time.Duration // 実行間隔（デフォルト: 15分）
}

// NewSweepJob は新しいSweepJobを生成する。
// デフォルトの実行間隔は15分。collectorはnilでもよい。
func NewSweepJob(sessions SessionSweeper, logger *slog.Logger, collector metrics.MetricsCollector) *SweepJob {
	return &SweepJob{
		sessions:  sessions,
		logger:    logger,
		collector: collector,
		Interval:  15 * time.Minute,
	}
}

// Run は期限切れセッションを1回分削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SweepJob) Run(ctx context.Context) error {
	start := time.Now()

	sweptCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションスイープジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションスイープの実行に失敗: %w", err)
	}

	if j.collector != nil {
		j.collector.RecordSessionsSwept(sweptCount)
	}

	duration := time.Since(start)
	j.logger.Info("セッションスイープジョブが完了しました",
		slog.Int64("swept_count", sweptCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// RunLoop はコンテキストがキャンセルされるまでIntervalごとにRunを実行する。
// 起動直後にも1回実行する。個々の実行の失敗はログに記録して継続する。
func (j *SweepJob) RunLoop(ctx context.Context) {
	// 起動時にまず1回掃除する
	if err := j.Run(ctx); err != nil {
		j.logger.Warn("初回セッションスイープに失敗しました",
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Warn("セッションスイープに失敗しました",
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			j.logger.Info("セッションスイープループを停止します")
			return
		}
	}
}
