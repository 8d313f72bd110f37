package notify

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"golang.org/x/time/rate"
)

// TelegramClient defines the interface for sending Telegram messages
type TelegramClient interface {
	SendMarkdown(chatID int64, text string) error
}

// Service pushes publish outcomes to one Telegram chat
type Service struct {
	telegram TelegramClient
	chatID   int64
	limiter  *rate.Limiter // Telegram allows about one message per second to a chat
}

// NewService creates a new notification service. A zero chatID disables sending.
func NewService(telegram TelegramClient, chatID int64) *Service {
	return &Service{
		telegram: telegram,
		chatID:   chatID,
		limiter:  rate.NewLimiter(rate.Limit(1), 3),
	}
}

// NotifyOutcome sends the outcome message. Failures are logged and never propagated.
func (s *Service) NotifyOutcome(ctx context.Context, outcome model.PublishOutcome) {
	if s.telegram == nil || s.chatID == 0 {
		return
	}

	if err := s.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Uint("scheduleID", outcome.ScheduleID).Msg("Outcome notification dropped")
		return
	}

	if err := s.telegram.SendMarkdown(s.chatID, FormatOutcome(outcome)); err != nil {
		log.Error().
			Err(err).
			Uint("scheduleID", outcome.ScheduleID).
			Int64("chatID", s.chatID).
			Msg("Failed to send outcome notification")
		return
	}

	log.Debug().
		Uint("scheduleID", outcome.ScheduleID).
		Str("status", string(outcome.Status)).
		Msg("Outcome notification sent")
}
