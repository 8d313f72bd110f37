package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/tiktok-scheduler-go/internal/config"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// MySQLStore implements Store interface using MySQL database
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore creates a new MySQL store instance
func NewMySQLStore(cfg *config.DBConfig) (*MySQLStore, error) {
	gormConfig := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxConns)
	sqlDB.SetMaxIdleConns(cfg.MaxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Auto migrate tables
	if err := db.AutoMigrate(&model.Video{}, &model.Profile{}, &model.Schedule{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// CreateVideo inserts a new video record
func (s *MySQLStore) CreateVideo(ctx context.Context, video *model.Video) error {
	if err := s.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

// GetVideo retrieves a video by ID with IsScheduled derived
func (s *MySQLStore) GetVideo(ctx context.Context, id uint) (*model.Video, error) {
	var video model.Video
	if err := s.db.WithContext(ctx).First(&video, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("video %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	var live int64
	err := s.db.WithContext(ctx).
		Model(&model.Schedule{}).
		Where("video_id = ? AND status IN ?", id, model.LiveStatuses).
		Count(&live).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check video schedules: %w", err)
	}
	video.IsScheduled = live > 0

	return &video, nil
}

// ListVideos retrieves all videos, newest first, with IsScheduled derived
func (s *MySQLStore) ListVideos(ctx context.Context) ([]*model.Video, error) {
	var videos []*model.Video
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	var bookedIDs []uint
	err := s.db.WithContext(ctx).
		Model(&model.Schedule{}).
		Where("status IN ?", model.LiveStatuses).
		Distinct().
		Pluck("video_id", &bookedIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list booked videos: %w", err)
	}

	booked := make(map[uint]bool, len(bookedIDs))
	for _, id := range bookedIDs {
		booked[id] = true
	}
	for _, v := range videos {
		v.IsScheduled = booked[v.ID]
	}

	return videos, nil
}

// DeleteVideo removes a video and its terminal schedules.
// Returns ErrConflict while a pending or uploading schedule references it.
func (s *MySQLStore) DeleteVideo(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video model.Video
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&video, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("video %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to lock video: %w", err)
		}

		var live int64
		if err := tx.Model(&model.Schedule{}).
			Where("video_id = ? AND status IN ?", id, model.LiveStatuses).
			Count(&live).Error; err != nil {
			return fmt.Errorf("failed to check video schedules: %w", err)
		}
		if live > 0 {
			return fmt.Errorf("video %d has a live schedule: %w", id, ErrConflict)
		}

		if err := tx.Where("video_id = ?", id).Delete(&model.Schedule{}).Error; err != nil {
			return fmt.Errorf("failed to delete video schedules: %w", err)
		}
		if err := tx.Delete(&model.Video{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete video: %w", err)
		}
		return nil
	})
}

// CreateProfile inserts a new profile, rejecting duplicate names
func (s *MySQLStore) CreateProfile(ctx context.Context, profile *model.Profile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Profile{}).Where("name = ?", profile.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check profile name: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("profile %q: %w", profile.Name, ErrDuplicateName)
		}
		if err := tx.Create(profile).Error; err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		return nil
	})
}

// GetProfile retrieves a profile by ID
func (s *MySQLStore) GetProfile(ctx context.Context, id uint) (*model.Profile, error) {
	var profile model.Profile
	if err := s.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// ListProfiles retrieves all profiles ordered by name
func (s *MySQLStore) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	var profiles []*model.Profile
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return profiles, nil
}

// UpdateProfile writes every editable column of profile
func (s *MySQLStore) UpdateProfile(ctx context.Context, profile *model.Profile) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Profile{}).
			Where("name = ? AND id <> ?", profile.Name, profile.ID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check profile name: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("profile %q: %w", profile.Name, ErrDuplicateName)
		}

		result := tx.Model(&model.Profile{}).
			Where("id = ?", profile.ID).
			Updates(map[string]interface{}{
				"name":             profile.Name,
				"cookies_filename": profile.CookiesFilename,
				"proxy":            profile.Proxy,
				"is_active":        profile.IsActive,
				"updated_at":       time.Now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update profile: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("profile %d: %w", profile.ID, ErrNotFound)
		}
		return nil
	})
}

// DeleteProfile removes a profile and its terminal schedules.
// Returns ErrConflict while a pending or uploading schedule references it.
func (s *MySQLStore) DeleteProfile(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile model.Profile
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&profile, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("profile %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to lock profile: %w", err)
		}

		var live int64
		if err := tx.Model(&model.Schedule{}).
			Where("profile_id = ? AND status IN ?", id, model.LiveStatuses).
			Count(&live).Error; err != nil {
			return fmt.Errorf("failed to check profile schedules: %w", err)
		}
		if live > 0 {
			return fmt.Errorf("profile %d has a live schedule: %w", id, ErrConflict)
		}

		if err := tx.Where("profile_id = ?", id).Delete(&model.Schedule{}).Error; err != nil {
			return fmt.Errorf("failed to delete profile schedules: %w", err)
		}
		if err := tx.Delete(&model.Profile{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		return nil
	})
}

// CreateSchedule inserts a pending schedule. The video row is locked for the
// duration of the check so two concurrent creates cannot both book it.
func (s *MySQLStore) CreateSchedule(ctx context.Context, schedule *model.Schedule) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video model.Video
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&video, schedule.VideoID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("video %d: %w", schedule.VideoID, ErrNotFound)
			}
			return fmt.Errorf("failed to lock video: %w", err)
		}

		var profile model.Profile
		if err := tx.First(&profile, schedule.ProfileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("profile %d: %w", schedule.ProfileID, ErrNotFound)
			}
			return fmt.Errorf("failed to get profile: %w", err)
		}
		if !profile.IsActive {
			return fmt.Errorf("profile %d: %w", profile.ID, ErrProfileInactive)
		}

		var live int64
		if err := tx.Model(&model.Schedule{}).
			Where("video_id = ? AND status IN ?", schedule.VideoID, model.LiveStatuses).
			Count(&live).Error; err != nil {
			return fmt.Errorf("failed to check video schedules: %w", err)
		}
		if live > 0 {
			return fmt.Errorf("video %d: %w", schedule.VideoID, ErrVideoBooked)
		}

		schedule.Status = model.StatusPending
		schedule.ScheduledTime = schedule.ScheduledTime.UTC()
		schedule.UploadedAt = nil
		schedule.ErrorMessage = ""
		if err := tx.Create(schedule).Error; err != nil {
			return fmt.Errorf("failed to create schedule: %w", err)
		}
		return nil
	})
}

// GetSchedule retrieves a schedule by ID
func (s *MySQLStore) GetSchedule(ctx context.Context, id uint) (*model.Schedule, error) {
	var schedule model.Schedule
	if err := s.db.WithContext(ctx).First(&schedule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

// ListSchedules retrieves schedules matching filter, oldest scheduled_time first
func (s *MySQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*model.Schedule, error) {
	query := s.db.WithContext(ctx).Model(&model.Schedule{})

	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.DueBefore != nil {
		query = query.Where("scheduled_time <= ?", filter.DueBefore.UTC())
	}
	if filter.ProfileID != 0 {
		query = query.Where("profile_id = ?", filter.ProfileID)
	}
	if filter.VideoID != 0 {
		query = query.Where("video_id = ?", filter.VideoID)
	}
	if len(filter.ExcludeProfiles) > 0 {
		query = query.Where("profile_id NOT IN ?", filter.ExcludeProfiles)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var schedules []*model.Schedule
	if err := query.Order("scheduled_time ASC, id ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// Transition moves a schedule from one status to another atomically.
// The update only applies while the row is still in status from.
func (s *MySQLStore) Transition(ctx context.Context, id uint, from, to model.ScheduleStatus, fields TransitionFields) error {
	cols, err := transitionColumns(from, to, fields)
	if err != nil {
		return fmt.Errorf("schedule %d %s->%s: %w", id, from, to, err)
	}

	result := s.db.WithContext(ctx).
		Model(&model.Schedule{}).
		Where("id = ? AND status = ?", id, from).
		Updates(cols)
	if result.Error != nil {
		return fmt.Errorf("failed to transition schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// UpdatePendingSchedule edits time and caption while the schedule is pending
func (s *MySQLStore) UpdatePendingSchedule(ctx context.Context, id uint, update ScheduleUpdate) error {
	cols := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if update.ScheduledTime != nil {
		cols["scheduled_time"] = update.ScheduledTime.UTC()
	}
	if update.Caption != nil {
		cols["caption"] = *update.Caption
	}

	result := s.db.WithContext(ctx).
		Model(&model.Schedule{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(cols)
	if result.Error != nil {
		return fmt.Errorf("failed to update schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// DeleteSchedule removes a schedule in a terminal state
func (s *MySQLStore) DeleteSchedule(ctx context.Context, id uint) error {
	terminal := []model.ScheduleStatus{model.StatusCompleted, model.StatusFailed, model.StatusCancelled}

	result := s.db.WithContext(ctx).
		Where("id = ? AND status IN ?", id, terminal).
		Delete(&model.Schedule{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

// CountSchedulesByStatus returns the number of schedules in each status
func (s *MySQLStore) CountSchedulesByStatus(ctx context.Context) (map[model.ScheduleStatus]int64, error) {
	var rows []struct {
		Status model.ScheduleStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).
		Model(&model.Schedule{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count schedules: %w", err)
	}

	counts := make(map[model.ScheduleStatus]int64, len(model.AllStatuses))
	for _, status := range model.AllStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// missOrConflict explains a zero-row conditional write
func (s *MySQLStore) missOrConflict(ctx context.Context, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Schedule{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check schedule existence: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("schedule %d: %w", id, ErrConflict)
}

// Ping checks database connectivity
func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying gorm.DB instance (for testing purposes)
func (s *MySQLStore) DB() *gorm.DB {
	return s.db
}
