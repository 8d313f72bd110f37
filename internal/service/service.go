package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/tiktok-scheduler-go/internal/caption"
	"github.com/user/tiktok-scheduler-go/internal/config"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

// ValidationError reports a rejected input field
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Files is the media storage the service writes uploads to
type Files interface {
	Save(originalName string, r io.Reader) (string, int64, error)
	Remove(storedFilename string) error
	CookiesExist(cookiesFilename string) bool
}

// Service is the public operation surface shared by the HTTP API and the bot
type Service struct {
	store  store.Store
	files  Files
	engine *config.EngineConfig
	loc    *time.Location
	now    func() time.Time
}

// NewService creates a new service instance
func NewService(st store.Store, files Files, cfg *config.EngineConfig) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Service{
		store:  st,
		files:  files,
		engine: cfg,
		loc:    loc,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateScheduleInput is the request to book a video on a profile
type CreateScheduleInput struct {
	VideoID       uint   `json:"video_id"`
	ProfileID     uint   `json:"profile_id"`
	ScheduledTime string `json:"scheduled_time"`
	Caption       string `json:"caption"`
}

// UpdateScheduleInput edits a pending schedule. Nil fields are unchanged.
type UpdateScheduleInput struct {
	ScheduledTime *string `json:"scheduled_time"`
	Caption       *string `json:"caption"`
}

// CreateSchedule books a video on a profile at the given time
func (s *Service) CreateSchedule(ctx context.Context, in CreateScheduleInput) (*model.Schedule, error) {
	at, err := s.ParseTime(in.ScheduledTime)
	if err != nil {
		return nil, err
	}
	return s.createAt(ctx, in, at)
}

// PublishNow books a video for the near future; ScheduledTime is ignored
func (s *Service) PublishNow(ctx context.Context, in CreateScheduleInput) (*model.Schedule, error) {
	return s.createAt(ctx, in, s.nearFuture())
}

func (s *Service) createAt(ctx context.Context, in CreateScheduleInput, at time.Time) (*model.Schedule, error) {
	if in.VideoID == 0 {
		return nil, invalid("video_id", "is required")
	}
	if in.ProfileID == 0 {
		return nil, invalid("profile_id", "is required")
	}

	video, err := s.store.GetVideo(ctx, in.VideoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "video_id", Message: fmt.Sprintf("video %d not found", in.VideoID), Err: err}
		}
		return nil, err
	}
	profile, err := s.store.GetProfile(ctx, in.ProfileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "profile_id", Message: fmt.Sprintf("profile %d not found", in.ProfileID), Err: err}
		}
		return nil, err
	}
	if !profile.IsActive {
		return nil, &ValidationError{Field: "profile_id", Message: fmt.Sprintf("profile %q is inactive", profile.Name), Err: store.ErrProfileInactive}
	}

	text := strings.TrimSpace(in.Caption)
	if text == "" {
		text = strings.TrimSpace(video.Description)
	}
	if err := validateCaption(text); err != nil {
		return nil, err
	}

	sch := &model.Schedule{
		VideoID:       video.ID,
		ProfileID:     profile.ID,
		Caption:       text,
		ScheduledTime: at,
	}
	if err := s.store.CreateSchedule(ctx, sch); err != nil {
		switch {
		case errors.Is(err, store.ErrVideoBooked):
			return nil, &ValidationError{Field: "video_id", Message: "video already has a pending or uploading schedule", Err: err}
		case errors.Is(err, store.ErrProfileInactive):
			return nil, &ValidationError{Field: "profile_id", Message: "profile is inactive", Err: err}
		case errors.Is(err, store.ErrNotFound):
			return nil, &ValidationError{Field: "schedule", Message: err.Error(), Err: err}
		}
		return nil, err
	}
	return sch, nil
}

// ListSchedules returns schedules matching filter, ordered by scheduled time
func (s *Service) ListSchedules(ctx context.Context, filter store.ScheduleFilter) ([]*model.Schedule, error) {
	for _, st := range filter.Statuses {
		if !st.IsValid() {
			return nil, invalid("status", "unknown status %q", st)
		}
	}
	return s.store.ListSchedules(ctx, filter)
}

// GetSchedule returns one schedule
func (s *Service) GetSchedule(ctx context.Context, id uint) (*model.Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

// CancelSchedule cancels a pending schedule.
// Returns store.ErrConflict when the schedule has already left pending.
func (s *Service) CancelSchedule(ctx context.Context, id uint) (*model.Schedule, error) {
	err := s.store.Transition(ctx, id, model.StatusPending, model.StatusCancelled, store.TransitionFields{})
	if err != nil {
		return nil, err
	}
	return s.store.GetSchedule(ctx, id)
}

// UpdateSchedule edits time and caption of a pending schedule
func (s *Service) UpdateSchedule(ctx context.Context, id uint, in UpdateScheduleInput) (*model.Schedule, error) {
	var update store.ScheduleUpdate

	if in.ScheduledTime != nil {
		at, err := s.ParseTime(*in.ScheduledTime)
		if err != nil {
			return nil, err
		}
		if !at.After(s.now()) {
			return nil, invalid("scheduled_time", "must be in the future")
		}
		update.ScheduledTime = &at
	}
	if in.Caption != nil {
		text := strings.TrimSpace(*in.Caption)
		if err := validateCaption(text); err != nil {
			return nil, err
		}
		update.Caption = &text
	}

	if err := s.store.UpdatePendingSchedule(ctx, id, update); err != nil {
		return nil, err
	}
	return s.store.GetSchedule(ctx, id)
}

// RescheduleNow moves a pending schedule to the near future so the next poll picks it up
func (s *Service) RescheduleNow(ctx context.Context, id uint) (*model.Schedule, error) {
	at := s.nearFuture()
	if err := s.store.UpdatePendingSchedule(ctx, id, store.ScheduleUpdate{ScheduledTime: &at}); err != nil {
		return nil, err
	}
	return s.store.GetSchedule(ctx, id)
}

// DeleteSchedule removes a completed, failed or cancelled schedule
func (s *Service) DeleteSchedule(ctx context.Context, id uint) error {
	return s.store.DeleteSchedule(ctx, id)
}

// Stats returns the number of schedules in each status
func (s *Service) Stats(ctx context.Context) (map[model.ScheduleStatus]int64, error) {
	return s.store.CountSchedulesByStatus(ctx)
}

// ParseTime parses an RFC3339 instant, or a wall-clock time without offset
// interpreted in the configured timezone. The result is in UTC.
func (s *Service) ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, invalid("scheduled_time", "is required")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid("scheduled_time", "cannot parse %q; use RFC3339 or YYYY-MM-DDTHH:MM[:SS]", raw)
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func (s *Service) nearFuture() time.Time {
	return s.now().Add(s.engine.PublishNowIn)
}

func validateCaption(text string) error {
	if text == "" {
		return invalid("caption", "is required when the video has no description")
	}
	if n := utf8.RuneCountInString(text); n > caption.MaxCaptionLength {
		return invalid("caption", "is %d characters, limit is %d", n, caption.MaxCaptionLength)
	}
	return nil
}
