// Package activity records what happens in Wellnest and serves it back as
// visibility-filtered group feeds and usage stats.
package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/httpmw"
	"wellnest/internal/model"
	"wellnest/internal/store"
)

// Repo stores activity events
type Repo interface {
	RecordEvent(ctx context.Context, ev model.ActivityEvent) error
	ListEvents(ctx context.Context, f store.EventFilter) ([]model.ActivityEvent, error)
	CountEventsByType(ctx context.Context, since time.Time) (map[model.EventType]int, error)
}

// Recorder persists events on behalf of the other services. A failed write
// is logged and never fails the caller's operation.
type Recorder struct {
	repo   Repo
	logger *zap.Logger
}

func NewRecorder(repo Repo, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, logger: logger.Named("activity")}
}

func (r *Recorder) Record(ctx context.Context, ev model.ActivityEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if err := r.repo.RecordEvent(ctx, ev); err != nil {
		httpmw.Logger(ctx, r.logger).Warn("record activity event",
			zap.String("type", string(ev.Type)),
			zap.String("user_id", string(ev.UserID)),
			zap.Error(err),
		)
	}
}
