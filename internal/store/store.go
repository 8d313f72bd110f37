package store

import (
	"context"
	"errors"
	"time"

	"github.com/user/tiktok-scheduler-go/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set precondition does not hold
	ErrConflict = errors.New("conflict: status changed concurrently")
	// ErrInvalidTransition is returned for edges outside the schedule state machine
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrVideoBooked is returned when a video already has a pending or uploading schedule
	ErrVideoBooked = errors.New("video already has a live schedule")
	// ErrProfileInactive is returned when scheduling against a deactivated profile
	ErrProfileInactive = errors.New("profile is inactive")
	// ErrDuplicateName is returned when a profile name is already taken
	ErrDuplicateName = errors.New("profile name already exists")
)

// ScheduleFilter narrows ListSchedules. Zero values mean "no constraint".
type ScheduleFilter struct {
	Statuses  []model.ScheduleStatus
	DueBefore *time.Time
	ProfileID uint
	VideoID   uint
	Limit     int
	// ExcludeProfiles drops schedules belonging to these profiles
	ExcludeProfiles []uint
}

// TransitionFields carries the columns written together with a status change
type TransitionFields struct {
	UploadedAt   time.Time
	ErrorMessage string
}

// ScheduleUpdate carries the editable fields of a pending schedule. Nil means unchanged.
type ScheduleUpdate struct {
	ScheduledTime *time.Time
	Caption       *string
}

// Store defines the interface for data persistence operations
type Store interface {
	// Video operations
	CreateVideo(ctx context.Context, video *model.Video) error
	GetVideo(ctx context.Context, id uint) (*model.Video, error)
	ListVideos(ctx context.Context) ([]*model.Video, error)
	DeleteVideo(ctx context.Context, id uint) error

	// Profile operations
	CreateProfile(ctx context.Context, profile *model.Profile) error
	GetProfile(ctx context.Context, id uint) (*model.Profile, error)
	ListProfiles(ctx context.Context) ([]*model.Profile, error)
	UpdateProfile(ctx context.Context, profile *model.Profile) error
	DeleteProfile(ctx context.Context, id uint) error

	// Schedule operations
	CreateSchedule(ctx context.Context, schedule *model.Schedule) error
	GetSchedule(ctx context.Context, id uint) (*model.Schedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*model.Schedule, error)
	Transition(ctx context.Context, id uint, from, to model.ScheduleStatus, fields TransitionFields) error
	UpdatePendingSchedule(ctx context.Context, id uint, update ScheduleUpdate) error
	DeleteSchedule(ctx context.Context, id uint) error
	CountSchedulesByStatus(ctx context.Context) (map[model.ScheduleStatus]int64, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// transitionColumns computes the column values for a status change so that
// uploaded_at is set iff completed and error_message is set iff failed.
func transitionColumns(from, to model.ScheduleStatus, fields TransitionFields) (map[string]interface{}, error) {
	if !model.CanTransition(from, to) {
		return nil, ErrInvalidTransition
	}

	cols := map[string]interface{}{
		"status":        to,
		"uploaded_at":   nil,
		"error_message": "",
		"updated_at":    time.Now().UTC(),
	}

	switch to {
	case model.StatusCompleted:
		uploadedAt := fields.UploadedAt
		if uploadedAt.IsZero() {
			uploadedAt = time.Now()
		}
		cols["uploaded_at"] = uploadedAt.UTC()
	case model.StatusFailed:
		msg := fields.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		cols["error_message"] = model.TruncateErrorMessage(msg)
	}

	return cols, nil
}
