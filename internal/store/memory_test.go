package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/user/tiktok-scheduler-go/internal/model"
)

var _ Store = (*MemoryStore)(nil)

var seedSeq atomic.Int64

// seed creates one video and one active profile
func seed(t *testing.T, s *MemoryStore) (*model.Video, *model.Profile) {
	t.Helper()
	ctx := context.Background()
	n := seedSeq.Add(1)

	video := &model.Video{OriginalFilename: "clip.mp4", StoredFilename: fmt.Sprintf("v-%d.mp4", n)}
	if err := s.CreateVideo(ctx, video); err != nil {
		t.Fatalf("CreateVideo() error = %v", err)
	}
	profile := &model.Profile{Name: fmt.Sprintf("acct-%d", n), CookiesFilename: "c.txt", IsActive: true}
	if err := s.CreateProfile(ctx, profile); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	return video, profile
}

func newSchedule(video *model.Video, profile *model.Profile, at time.Time) *model.Schedule {
	return &model.Schedule{VideoID: video.ID, ProfileID: profile.ID, Caption: "hello", ScheduledTime: at}
}

func TestMemoryStore_CreateSchedule(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	video, profile := seed(t, s)

	sch := newSchedule(video, profile, time.Now().Add(time.Hour))
	sch.Status = model.StatusCompleted
	if err := s.CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if sch.Status != model.StatusPending {
		t.Errorf("Status = %v, want pending", sch.Status)
	}

	got, err := s.GetVideo(ctx, video.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if !got.IsScheduled {
		t.Error("IsScheduled = false, want true while a pending schedule exists")
	}

	err = s.CreateSchedule(ctx, newSchedule(video, profile, time.Now()))
	if !errors.Is(err, ErrVideoBooked) {
		t.Errorf("second CreateSchedule() error = %v, want ErrVideoBooked", err)
	}
}

func TestMemoryStore_CreateScheduleRejects(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	video, profile := seed(t, s)

	inactive := &model.Profile{Name: "sleeping", CookiesFilename: "c.txt", IsActive: false}
	if err := s.CreateProfile(ctx, inactive); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}

	tests := []struct {
		name    string
		sch     *model.Schedule
		wantErr error
	}{
		{"missing video", &model.Schedule{VideoID: 999, ProfileID: profile.ID}, ErrNotFound},
		{"missing profile", &model.Schedule{VideoID: video.ID, ProfileID: 999}, ErrNotFound},
		{"inactive profile", &model.Schedule{VideoID: video.ID, ProfileID: inactive.ID}, ErrProfileInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateSchedule(ctx, tt.sch); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateSchedule() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryStore_TransitionFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	video, profile := seed(t, s)

	sch := newSchedule(video, profile, time.Now())
	if err := s.CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	if err := s.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, TransitionFields{}); err != nil {
		t.Fatalf("Transition(pending->uploading) error = %v", err)
	}
	uploadedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Transition(ctx, sch.ID, model.StatusUploading, model.StatusCompleted, TransitionFields{UploadedAt: uploadedAt}); err != nil {
		t.Fatalf("Transition(uploading->completed) error = %v", err)
	}

	got, err := s.GetSchedule(ctx, sch.ID)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %v, want completed", got.Status)
	}
	if got.UploadedAt == nil || !got.UploadedAt.Equal(uploadedAt) {
		t.Errorf("UploadedAt = %v, want %v", got.UploadedAt, uploadedAt)
	}
	if got.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", got.ErrorMessage)
	}

	v, _ := s.GetVideo(ctx, video.ID)
	if v.IsScheduled {
		t.Error("IsScheduled = true after completion, want false")
	}
}

func TestMemoryStore_TransitionErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	video, profile := seed(t, s)

	sch := newSchedule(video, profile, time.Now())
	if err := s.CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	tests := []struct {
		name     string
		id       uint
		from, to model.ScheduleStatus
		wantErr  error
	}{
		{"illegal edge", sch.ID, model.StatusPending, model.StatusCompleted, ErrInvalidTransition},
		{"stale from", sch.ID, model.StatusUploading, model.StatusFailed, ErrConflict},
		{"missing row", 999, model.StatusPending, model.StatusCancelled, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Transition(ctx, tt.id, tt.from, tt.to, TransitionFields{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Transition() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryStore_FailedMessageDefaultsAndTruncates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	long := make([]rune, 800)
	for i := range long {
		long[i] = 'x'
	}

	for _, msg := range []string{"", string(long)} {
		video, profile := seed(t, s)
		sch := newSchedule(video, profile, time.Now())
		if err := s.CreateSchedule(ctx, sch); err != nil {
			t.Fatalf("CreateSchedule() error = %v", err)
		}
		_ = s.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, TransitionFields{})
		if err := s.Transition(ctx, sch.ID, model.StatusUploading, model.StatusFailed, TransitionFields{ErrorMessage: msg}); err != nil {
			t.Fatalf("Transition(uploading->failed) error = %v", err)
		}

		got, _ := s.GetSchedule(ctx, sch.ID)
		if got.ErrorMessage == "" {
			t.Error("ErrorMessage is empty for a failed schedule")
		}
		if n := len([]rune(got.ErrorMessage)); n > model.MaxErrorMessageLength {
			t.Errorf("ErrorMessage has %d runes, want <= %d", n, model.MaxErrorMessageLength)
		}
		if got.UploadedAt != nil {
			t.Errorf("UploadedAt = %v, want nil for failed", got.UploadedAt)
		}
	}
}

func TestMemoryStore_ListSchedulesDue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	offsets := []time.Duration{30 * time.Minute, -time.Hour, -2 * time.Hour, 0}
	for _, off := range offsets {
		video, profile := seed(t, s)
		if err := s.CreateSchedule(ctx, newSchedule(video, profile, base.Add(off))); err != nil {
			t.Fatalf("CreateSchedule() error = %v", err)
		}
	}

	due, err := s.ListSchedules(ctx, ScheduleFilter{
		Statuses:  []model.ScheduleStatus{model.StatusPending},
		DueBefore: &base,
	})
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("len(due) = %d, want 3", len(due))
	}
	for i := 1; i < len(due); i++ {
		if due[i].ScheduledTime.Before(due[i-1].ScheduledTime) {
			t.Errorf("due not ordered by scheduled_time: %v before %v", due[i].ScheduledTime, due[i-1].ScheduledTime)
		}
	}

	limited, _ := s.ListSchedules(ctx, ScheduleFilter{DueBefore: &base, Limit: 2})
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}

	skipped := due[0].ProfileID
	rest, _ := s.ListSchedules(ctx, ScheduleFilter{DueBefore: &base, ExcludeProfiles: []uint{skipped}})
	if len(rest) != 2 {
		t.Fatalf("len(rest) = %d, want 2", len(rest))
	}
	for _, sch := range rest {
		if sch.ProfileID == skipped {
			t.Errorf("schedule %d of excluded profile %d listed", sch.ID, skipped)
		}
	}
}

func TestMemoryStore_DeleteGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	video, profile := seed(t, s)

	sch := newSchedule(video, profile, time.Now())
	if err := s.CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	if err := s.DeleteSchedule(ctx, sch.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("DeleteSchedule(pending) error = %v, want ErrConflict", err)
	}
	if err := s.DeleteVideo(ctx, video.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("DeleteVideo(booked) error = %v, want ErrConflict", err)
	}
	if err := s.DeleteProfile(ctx, profile.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("DeleteProfile(booked) error = %v, want ErrConflict", err)
	}

	if err := s.Transition(ctx, sch.ID, model.StatusPending, model.StatusCancelled, TransitionFields{}); err != nil {
		t.Fatalf("Transition(pending->cancelled) error = %v", err)
	}
	if err := s.DeleteVideo(ctx, video.ID); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}
	if _, err := s.GetSchedule(ctx, sch.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSchedule() after DeleteVideo error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteProfile(ctx, profile.ID); err != nil {
		t.Errorf("DeleteProfile() error = %v", err)
	}
}

func TestMemoryStore_UpdatePendingSchedule(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	video, profile := seed(t, s)

	sch := newSchedule(video, profile, time.Now())
	if err := s.CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	caption := "edited"
	if err := s.UpdatePendingSchedule(ctx, sch.ID, ScheduleUpdate{Caption: &caption}); err != nil {
		t.Fatalf("UpdatePendingSchedule() error = %v", err)
	}
	got, _ := s.GetSchedule(ctx, sch.ID)
	if got.Caption != caption {
		t.Errorf("Caption = %q, want %q", got.Caption, caption)
	}

	_ = s.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, TransitionFields{})
	if err := s.UpdatePendingSchedule(ctx, sch.ID, ScheduleUpdate{Caption: &caption}); !errors.Is(err, ErrConflict) {
		t.Errorf("UpdatePendingSchedule(uploading) error = %v, want ErrConflict", err)
	}
}

func TestMemoryStore_DuplicateProfileName(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateProfile(ctx, &model.Profile{Name: "main", IsActive: true}); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	if err := s.CreateProfile(ctx, &model.Profile{Name: "main"}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("CreateProfile(duplicate) error = %v, want ErrDuplicateName", err)
	}
}

// Property 1: Single Live Schedule Per Video
// For any number of concurrent create attempts against one video, exactly one succeeds.
func TestProperty_SingleLiveSchedulePerVideo(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent creates book a video at most once", prop.ForAll(
		func(attempts int) bool {
			ctx := context.Background()
			s := NewMemoryStore()
			video, profile := seed(t, s)

			var wg sync.WaitGroup
			var mu sync.Mutex
			succeeded := 0
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.CreateSchedule(ctx, newSchedule(video, profile, time.Now())); err == nil {
						mu.Lock()
						succeeded++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			live, _ := s.ListSchedules(ctx, ScheduleFilter{Statuses: model.LiveStatuses, VideoID: video.ID})
			return succeeded == 1 && len(live) == 1
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// Property 2: Compare-And-Set Exclusivity
// For any number of concurrent pending->uploading claims, exactly one wins and the rest see ErrConflict.
func TestProperty_CompareAndSetExclusivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("one claimant wins the pending->uploading edge", prop.ForAll(
		func(claimants int) bool {
			ctx := context.Background()
			s := NewMemoryStore()
			video, profile := seed(t, s)
			sch := newSchedule(video, profile, time.Now())
			if err := s.CreateSchedule(ctx, sch); err != nil {
				return false
			}

			var wg sync.WaitGroup
			results := make(chan error, claimants)
			for i := 0; i < claimants; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results <- s.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, TransitionFields{})
				}()
			}
			wg.Wait()
			close(results)

			wins := 0
			for err := range results {
				switch {
				case err == nil:
					wins++
				case !errors.Is(err, ErrConflict):
					return false
				}
			}
			return wins == 1
		},
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t)
}

// Property 3: Status Fields Consistency
// For any legal path through the state machine, uploaded_at is set iff completed
// and error_message is non-empty iff failed.
func TestProperty_StatusFieldsConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal fields match terminal status", prop.ForAll(
		func(path int, msg string) bool {
			ctx := context.Background()
			s := NewMemoryStore()
			video, profile := seed(t, s)
			sch := newSchedule(video, profile, time.Now())
			if err := s.CreateSchedule(ctx, sch); err != nil {
				return false
			}

			switch path {
			case 0:
				_ = s.Transition(ctx, sch.ID, model.StatusPending, model.StatusCancelled, TransitionFields{})
			case 1:
				_ = s.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, TransitionFields{})
				_ = s.Transition(ctx, sch.ID, model.StatusUploading, model.StatusCompleted, TransitionFields{ErrorMessage: msg})
			case 2:
				_ = s.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, TransitionFields{})
				_ = s.Transition(ctx, sch.ID, model.StatusUploading, model.StatusFailed, TransitionFields{ErrorMessage: msg})
			}

			got, err := s.GetSchedule(ctx, sch.ID)
			if err != nil {
				return false
			}
			uploadedOK := (got.UploadedAt != nil) == (got.Status == model.StatusCompleted)
			errorOK := (got.ErrorMessage != "") == (got.Status == model.StatusFailed)
			return uploadedOK && errorOK
		},
		gen.IntRange(0, 2),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
