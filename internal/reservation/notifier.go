package reservation

import (
	"context"
	"log/slog"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// Notifier は予約ステータス変更の通知先。
type Notifier interface {
	StatusChanged(ctx context.Context, b *model.Booking, from model.BookingStatus, actorID string)
}

// LogNotifier は構造化ログとメトリクスに通知するNotifier。
type LogNotifier struct {
	logger   *slog.Logger
	recorder Recorder
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger, recorder Recorder) *LogNotifier {
	return &LogNotifier{logger: logger, recorder: recorder}
}

// StatusChanged はステータス変更を記録する。
// 通常の業務フローから外れた遷移は警告レベルで出力する。
func (n *LogNotifier) StatusChanged(ctx context.Context, b *model.Booking, from model.BookingStatus, actorID string) {
	n.recorder.RecordBookingTransition(string(from), string(b.Status))

	level := slog.LevelInfo
	if !from.IsConventionalTransition(b.Status) {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "booking status changed",
		slog.String("booking_id", b.ID),
		slog.String("from", string(from)),
		slog.String("to", string(b.Status)),
		slog.String("actor_id", actorID),
		slog.Time("updated_at", b.UpdatedAt),
	)
}
