// Package jobs runs periodic maintenance work.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/reborn/internal/metrics"
	"github.com/robfig/cron/v3"
)

// ConversationPurger deletes conversations that have been idle too long.
type ConversationPurger interface {
	DeleteStaleConversations(ctx context.Context, ttl time.Duration) (int64, error)
}

const retentionRunTimeout = 5 * time.Minute

// RetentionWorker deletes conversations not updated within maxAge on a
// cron schedule.
type RetentionWorker struct {
	cron    *cron.Cron
	repo    ConversationPurger
	maxAge  time.Duration
	metrics *metrics.Metrics
}

// NewRetentionWorker validates schedule and registers the purge job.
func NewRetentionWorker(repo ConversationPurger, maxAge time.Duration, schedule string, m *metrics.Metrics) (*RetentionWorker, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be > 0, got %v", maxAge)
	}

	logger := slogCronLogger{}
	w := &RetentionWorker{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		), cron.WithLogger(logger)),
		repo:    repo,
		maxAge:  maxAge,
		metrics: m,
	}

	if _, err := w.cron.AddFunc(schedule, w.run); err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start runs the scheduler until ctx is cancelled.
func (w *RetentionWorker) Start(ctx context.Context) {
	w.cron.Start()
	slog.Info("Retention worker started", "max_age", w.maxAge)

	go func() {
		<-ctx.Done()
		<-w.cron.Stop().Done()
		slog.Info("Retention worker shutting down", "reason", ctx.Err())
	}()
}

func (w *RetentionWorker) run() {
	ctx, cancel := context.WithTimeout(context.Background(), retentionRunTimeout)
	defer cancel()
	if _, err := w.RunOnce(ctx); err != nil {
		slog.Error("Retention worker failed to purge conversations", "error", err)
	}
}

// RunOnce purges stale conversations immediately.
func (w *RetentionWorker) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := w.repo.DeleteStaleConversations(ctx, w.maxAge)
	if err != nil {
		return 0, fmt.Errorf("delete stale conversations: %w", err)
	}
	w.metrics.RecordPurged(deleted)
	if deleted > 0 {
		slog.Info("Retention worker purged conversations", "count", deleted, "max_age", w.maxAge)
	}
	return deleted, nil
}

// slogCronLogger routes cron's own logging through slog.
type slogCronLogger struct{}

func (slogCronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
