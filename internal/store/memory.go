package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/tiktok-scheduler-go/internal/model"
)

// MemoryStore implements Store in process memory. It backs DB_DRIVER=memory
// and the engine tests; every method returns copies so callers never share
// state with the store.
type MemoryStore struct {
	mu sync.Mutex

	videos    map[uint]model.Video
	profiles  map[uint]model.Profile
	schedules map[uint]model.Schedule

	nextVideoID    uint
	nextProfileID  uint
	nextScheduleID uint

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		videos:    make(map[uint]model.Video),
		profiles:  make(map[uint]model.Profile),
		schedules: make(map[uint]model.Schedule),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateVideo inserts a new video record
func (s *MemoryStore) CreateVideo(ctx context.Context, video *model.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.videos {
		if v.StoredFilename == video.StoredFilename {
			return fmt.Errorf("failed to create video: stored filename %q exists", video.StoredFilename)
		}
	}

	s.nextVideoID++
	video.ID = s.nextVideoID
	video.CreatedAt = s.now()
	video.IsScheduled = false
	s.videos[video.ID] = *video
	return nil
}

// GetVideo retrieves a video by ID with IsScheduled derived
func (s *MemoryStore) GetVideo(ctx context.Context, id uint) (*model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	v.IsScheduled = s.videoBookedLocked(id)
	return &v, nil
}

// ListVideos retrieves all videos, newest first, with IsScheduled derived
func (s *MemoryStore) ListVideos(ctx context.Context) ([]*model.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	videos := make([]*model.Video, 0, len(s.videos))
	for _, v := range s.videos {
		v := v
		v.IsScheduled = s.videoBookedLocked(v.ID)
		videos = append(videos, &v)
	}
	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		}
		return videos[i].ID > videos[j].ID
	})
	return videos, nil
}

// DeleteVideo removes a video and its terminal schedules
func (s *MemoryStore) DeleteVideo(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[id]; !ok {
		return fmt.Errorf("video %d: %w", id, ErrNotFound)
	}
	if s.videoBookedLocked(id) {
		return fmt.Errorf("video %d has a live schedule: %w", id, ErrConflict)
	}

	for sid, sch := range s.schedules {
		if sch.VideoID == id {
			delete(s.schedules, sid)
		}
	}
	delete(s.videos, id)
	return nil
}

// CreateProfile inserts a new profile, rejecting duplicate names
func (s *MemoryStore) CreateProfile(ctx context.Context, profile *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTakenLocked(profile.Name, 0) {
		return fmt.Errorf("profile %q: %w", profile.Name, ErrDuplicateName)
	}

	s.nextProfileID++
	now := s.now()
	profile.ID = s.nextProfileID
	profile.CreatedAt = now
	profile.UpdatedAt = now
	s.profiles[profile.ID] = *profile
	return nil
}

// GetProfile retrieves a profile by ID
func (s *MemoryStore) GetProfile(ctx context.Context, id uint) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	return &p, nil
}

// ListProfiles retrieves all profiles ordered by name
func (s *MemoryStore) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := make([]*model.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		p := p
		profiles = append(profiles, &p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// UpdateProfile writes every editable column of profile
func (s *MemoryStore) UpdateProfile(ctx context.Context, profile *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[profile.ID]
	if !ok {
		return fmt.Errorf("profile %d: %w", profile.ID, ErrNotFound)
	}
	if s.nameTakenLocked(profile.Name, profile.ID) {
		return fmt.Errorf("profile %q: %w", profile.Name, ErrDuplicateName)
	}

	existing.Name = profile.Name
	existing.CookiesFilename = profile.CookiesFilename
	existing.Proxy = profile.Proxy
	existing.IsActive = profile.IsActive
	existing.UpdatedAt = s.now()
	s.profiles[profile.ID] = existing
	return nil
}

// DeleteProfile removes a profile and its terminal schedules
func (s *MemoryStore) DeleteProfile(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return fmt.Errorf("profile %d: %w", id, ErrNotFound)
	}
	for _, sch := range s.schedules {
		if sch.ProfileID == id && sch.Status.IsLive() {
			return fmt.Errorf("profile %d has a live schedule: %w", id, ErrConflict)
		}
	}

	for sid, sch := range s.schedules {
		if sch.ProfileID == id {
			delete(s.schedules, sid)
		}
	}
	delete(s.profiles, id)
	return nil
}

// CreateSchedule inserts a pending schedule
func (s *MemoryStore) CreateSchedule(ctx context.Context, schedule *model.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[schedule.VideoID]; !ok {
		return fmt.Errorf("video %d: %w", schedule.VideoID, ErrNotFound)
	}
	profile, ok := s.profiles[schedule.ProfileID]
	if !ok {
		return fmt.Errorf("profile %d: %w", schedule.ProfileID, ErrNotFound)
	}
	if !profile.IsActive {
		return fmt.Errorf("profile %d: %w", profile.ID, ErrProfileInactive)
	}
	if s.videoBookedLocked(schedule.VideoID) {
		return fmt.Errorf("video %d: %w", schedule.VideoID, ErrVideoBooked)
	}

	s.nextScheduleID++
	now := s.now()
	schedule.ID = s.nextScheduleID
	schedule.Status = model.StatusPending
	schedule.ScheduledTime = schedule.ScheduledTime.UTC()
	schedule.UploadedAt = nil
	schedule.ErrorMessage = ""
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	s.schedules[schedule.ID] = *schedule
	return nil
}

// GetSchedule retrieves a schedule by ID
func (s *MemoryStore) GetSchedule(ctx context.Context, id uint) (*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return copySchedule(sch), nil
}

// ListSchedules retrieves schedules matching filter, oldest scheduled_time first
func (s *MemoryStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*model.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[model.ScheduleStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}
	excluded := make(map[uint]bool, len(filter.ExcludeProfiles))
	for _, id := range filter.ExcludeProfiles {
		excluded[id] = true
	}

	var out []*model.Schedule
	for _, sch := range s.schedules {
		if len(statuses) > 0 && !statuses[sch.Status] {
			continue
		}
		if filter.DueBefore != nil && sch.ScheduledTime.After(*filter.DueBefore) {
			continue
		}
		if filter.ProfileID != 0 && sch.ProfileID != filter.ProfileID {
			continue
		}
		if filter.VideoID != 0 && sch.VideoID != filter.VideoID {
			continue
		}
		if excluded[sch.ProfileID] {
			continue
		}
		out = append(out, copySchedule(sch))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Transition moves a schedule from one status to another atomically
func (s *MemoryStore) Transition(ctx context.Context, id uint, from, to model.ScheduleStatus, fields TransitionFields) error {
	cols, err := transitionColumns(from, to, fields)
	if err != nil {
		return fmt.Errorf("schedule %d %s->%s: %w", id, from, to, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	if sch.Status != from {
		return fmt.Errorf("schedule %d: %w", id, ErrConflict)
	}

	sch.Status = to
	sch.ErrorMessage = cols["error_message"].(string)
	sch.UploadedAt = nil
	if uploadedAt, ok := cols["uploaded_at"].(time.Time); ok {
		sch.UploadedAt = &uploadedAt
	}
	sch.UpdatedAt = s.now()
	s.schedules[id] = sch
	return nil
}

// UpdatePendingSchedule edits time and caption while the schedule is pending
func (s *MemoryStore) UpdatePendingSchedule(ctx context.Context, id uint, update ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	if sch.Status != model.StatusPending {
		return fmt.Errorf("schedule %d: %w", id, ErrConflict)
	}

	if update.ScheduledTime != nil {
		sch.ScheduledTime = update.ScheduledTime.UTC()
	}
	if update.Caption != nil {
		sch.Caption = *update.Caption
	}
	sch.UpdatedAt = s.now()
	s.schedules[id] = sch
	return nil
}

// DeleteSchedule removes a schedule in a terminal state
func (s *MemoryStore) DeleteSchedule(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sch, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	if !sch.Status.IsTerminal() {
		return fmt.Errorf("schedule %d: %w", id, ErrConflict)
	}
	delete(s.schedules, id)
	return nil
}

// CountSchedulesByStatus returns the number of schedules in each status
func (s *MemoryStore) CountSchedulesByStatus(ctx context.Context) (map[model.ScheduleStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[model.ScheduleStatus]int64, len(model.AllStatuses))
	for _, status := range model.AllStatuses {
		counts[status] = 0
	}
	for _, sch := range s.schedules {
		counts[sch.Status]++
	}
	return counts, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) videoBookedLocked(videoID uint) bool {
	for _, sch := range s.schedules {
		if sch.VideoID == videoID && sch.Status.IsLive() {
			return true
		}
	}
	return false
}

func (s *MemoryStore) nameTakenLocked(name string, exceptID uint) bool {
	for _, p := range s.profiles {
		if p.Name == name && p.ID != exceptID {
			return true
		}
	}
	return false
}

func copySchedule(sch model.Schedule) *model.Schedule {
	if sch.UploadedAt != nil {
		t := *sch.UploadedAt
		sch.UploadedAt = &t
	}
	return &sch
}
