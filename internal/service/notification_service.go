package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
)

type eventPublisher interface {
	Enabled() bool
	Publish(ctx context.Context, payload []byte) error
}

// NotificationService emits unlock/approve/reject events. Delivery is fire-and-forget:
// failures are logged and counted but never returned to the engine.
type NotificationService struct {
	publisher eventPublisher
	metrics   *MetricsService
	logger    *zap.Logger
	timeout   time.Duration
}

// NewNotificationService constructs the notifier. A nil or disabled publisher falls back to logging.
func NewNotificationService(publisher eventPublisher, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{publisher: publisher, metrics: metrics, logger: logger, timeout: 2 * time.Second}
}

// Notify publishes event. It never fails.
func (s *NotificationService) Notify(ctx context.Context, event models.ProgressEvent) {
	if s == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	fields := []zap.Field{
		zap.String("type", string(event.Type)),
		zap.String("student_id", event.StudentID),
		zap.String("target_id", event.TargetID),
	}
	if s.publisher == nil || !s.publisher.Enabled() {
		s.logger.Info("progress event", fields...)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.metrics.RecordNotifyFailure()
		s.logger.Warn("encode progress event", append(fields, zap.Error(err))...)
		return
	}

	// the triggering request may already be finished when the event is emitted
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, payload); err != nil {
		s.metrics.RecordNotifyFailure()
		s.logger.Warn("publish progress event", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Debug("progress event published", fields...)
}
