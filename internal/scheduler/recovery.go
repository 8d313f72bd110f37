package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/server"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

// RecoveryMessage is stored on schedules found uploading at startup
const RecoveryMessage = "interrupted by restart"

// Recover fails every schedule left in uploading by a previous process.
// It never calls the publisher and returns the number of rows it moved.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	stuck, err := s.store.ListSchedules(ctx, store.ScheduleFilter{
		Statuses: []model.ScheduleStatus{model.StatusUploading},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list uploading schedules: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, sch := range stuck {
		err := s.store.Transition(ctx, sch.ID, model.StatusUploading, model.StatusFailed,
			store.TransitionFields{ErrorMessage: RecoveryMessage})
		if err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				log.Warn().Err(err).Uint("scheduleID", sch.ID).Msg("Schedule changed during recovery, skipping")
			} else {
				log.Error().Err(err).Uint("scheduleID", sch.ID).Msg("Failed to recover schedule")
				server.RecordError("recovery")
			}
			continue
		}

		recovered++
		log.Warn().Uint("scheduleID", sch.ID).Msg("Recovered schedule interrupted by restart")
		server.RecordError("interrupted")

		if s.dispatcher.notifier != nil {
			s.dispatcher.notifier.NotifyOutcome(ctx, s.recoveredOutcome(ctx, sch))
		}
	}

	log.Info().Int("recovered", recovered).Int("found", len(stuck)).Msg("Recovery sweep completed")
	return recovered, nil
}

func (s *Scheduler) recoveredOutcome(ctx context.Context, sch *model.Schedule) model.PublishOutcome {
	outcome := model.PublishOutcome{
		ScheduleID:   sch.ID,
		Status:       model.StatusFailed,
		ErrorMessage: RecoveryMessage,
		FinishedAt:   s.now(),
	}
	if video, err := s.store.GetVideo(ctx, sch.VideoID); err == nil {
		outcome.VideoName = video.OriginalFilename
	}
	if profile, err := s.store.GetProfile(ctx, sch.ProfileID); err == nil {
		outcome.ProfileName = profile.Name
	}
	return outcome
}
