package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier is told about status changes after they are committed
type Notifier interface {
	StatusChanged(ctx context.Context, event StatusEvent) error
}

// Channel delivers an event over one transport. It returns the provider's
// message id.
type Channel interface {
	Name() string
	Send(ctx context.Context, event StatusEvent) (string, error)
}

// DeliveryRecorder persists delivery attempts
type DeliveryRecorder interface {
	Record(ctx context.Context, log *DeliveryLog) error
}

// Service fans an event out to every configured channel
type Service struct {
	channels []Channel
	recorder DeliveryRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a notification service. recorder may be nil.
func NewService(channels []Channel, recorder DeliveryRecorder, logger *zap.Logger) *Service {
	return &Service{
		channels: channels,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// StatusChanged sends the event on every channel. A failing channel does not
// stop the others; all failures are returned joined.
func (s *Service) StatusChanged(ctx context.Context, event StatusEvent) error {
	var errs []error
	for _, ch := range s.channels {
		log := s.sendViaChannel(ctx, ch, event)
		if log.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %s", ch.Name(), log.ErrorMessage))
		}
		s.logDeliveryAttempt(ctx, log)
	}
	return errors.Join(errs...)
}

func (s *Service) sendViaChannel(ctx context.Context, ch Channel, event StatusEvent) *DeliveryLog {
	log := &DeliveryLog{
		ID:                uuid.NewString(),
		ApplicationID:     event.ApplicationID.String(),
		Channel:           ch.Name(),
		ApplicationStatus: event.Status,
		Timestamp:         s.now().UTC(),
	}

	messageID, err := ch.Send(ctx, event)
	switch {
	case errors.Is(err, ErrNoRecipient):
		log.Status = StatusSkipped
	case err != nil:
		log.Status = StatusFailed
		log.ErrorMessage = err.Error()
		s.logger.Warn("Notification delivery failed",
			zap.String("application_id", log.ApplicationID),
			zap.String("channel", log.Channel),
			zap.Error(err))
	default:
		log.Status = StatusSent
		log.ProviderMessageID = messageID
	}
	return log
}

func (s *Service) logDeliveryAttempt(ctx context.Context, log *DeliveryLog) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, log); err != nil {
		s.logger.Warn("Failed to record notification delivery",
			zap.String("application_id", log.ApplicationID),
			zap.String("channel", log.Channel),
			zap.Error(err))
	}
}
