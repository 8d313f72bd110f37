package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/user/tiktok-scheduler-go/internal/caption"
	"github.com/user/tiktok-scheduler-go/internal/config"
	"github.com/user/tiktok-scheduler-go/internal/media"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	files *media.Storage
	dir   string
}

func newFixture(t *testing.T, tz string) *fixture {
	t.Helper()
	dir := t.TempDir()
	files, err := media.NewStorage(&config.MediaConfig{
		UploadDir:   filepath.Join(dir, "uploads"),
		CookiesDir:  filepath.Join(dir, "cookies"),
		MaxUploadMB: 1,
	})
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}

	st := store.NewMemoryStore()
	svc, err := NewService(st, files, &config.EngineConfig{PublishNowIn: 5 * time.Second, Timezone: tz})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.now = func() time.Time { return fixedNow }

	return &fixture{svc: svc, store: st, files: files, dir: dir}
}

func (f *fixture) video(t *testing.T, name string) *model.Video {
	t.Helper()
	v, err := f.svc.UploadVideo(context.Background(), name, strings.NewReader("fake video bytes"))
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}
	return v
}

func (f *fixture) profile(t *testing.T, name string) *model.Profile {
	t.Helper()
	p, err := f.svc.CreateProfile(context.Background(), ProfileInput{Name: name, CookiesFilename: name + ".txt"})
	if err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
	return p
}

func assertField(t *testing.T, err error, field string) {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError on %s", err, field)
	}
	if ve.Field != field {
		t.Errorf("ValidationError.Field = %q, want %q", ve.Field, field)
	}
}

func TestParseTime(t *testing.T) {
	f := newFixture(t, "Europe/Berlin")

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339 utc", "2026-03-01T15:00:00Z", time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), false},
		{"rfc3339 offset", "2026-03-01T15:00:00+02:00", time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), false},
		{"naive in configured zone", "2026-03-01T15:00", time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), false},
		{"naive with seconds", "2026-07-01 15:00:30", time.Date(2026, 7, 1, 13, 0, 30, 0, time.UTC), false},
		{"empty", "  ", time.Time{}, true},
		{"garbage", "tomorrow at noon", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.ParseTime(tt.input)
			if tt.wantErr {
				assertField(t, err, "scheduled_time")
				return
			}
			if err != nil {
				t.Fatalf("ParseTime() error = %v", err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Errorf("ParseTime() = %v, want %v in UTC", got, tt.want)
			}
		})
	}
}

func TestNewService_InvalidTimezone(t *testing.T) {
	_, err := NewService(store.NewMemoryStore(), nil, &config.EngineConfig{Timezone: "Mars/Olympus"})
	if err == nil {
		t.Error("NewService() error = nil, want invalid timezone")
	}
}

func TestCreateSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "summer_trip.mp4")
	profile := f.profile(t, "main")

	sch, err := f.svc.CreateSchedule(ctx, CreateScheduleInput{
		VideoID:       video.ID,
		ProfileID:     profile.ID,
		ScheduledTime: "2026-03-02T09:30:00Z",
	})
	if err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}
	if sch.Status != model.StatusPending {
		t.Errorf("Status = %v, want pending", sch.Status)
	}
	if sch.Caption != video.Description {
		t.Errorf("Caption = %q, want video description %q", sch.Caption, video.Description)
	}

	_, err = f.svc.CreateSchedule(ctx, CreateScheduleInput{
		VideoID:       video.ID,
		ProfileID:     profile.ID,
		ScheduledTime: "2026-03-03T09:30:00Z",
		Caption:       "again",
	})
	assertField(t, err, "video_id")
	if !errors.Is(err, store.ErrVideoBooked) {
		t.Errorf("error = %v, want to wrap ErrVideoBooked", err)
	}
}

func TestCreateSchedule_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	off := false
	inactive, err := f.svc.CreateProfile(ctx, ProfileInput{Name: "off", CookiesFilename: "off.txt", IsActive: &off})
	if err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}

	tests := []struct {
		name  string
		input CreateScheduleInput
		field string
	}{
		{"missing video", CreateScheduleInput{ProfileID: profile.ID, ScheduledTime: "2026-03-02T09:30:00Z"}, "video_id"},
		{"unknown video", CreateScheduleInput{VideoID: 999, ProfileID: profile.ID, ScheduledTime: "2026-03-02T09:30:00Z"}, "video_id"},
		{"unknown profile", CreateScheduleInput{VideoID: video.ID, ProfileID: 999, ScheduledTime: "2026-03-02T09:30:00Z"}, "profile_id"},
		{"inactive profile", CreateScheduleInput{VideoID: video.ID, ProfileID: inactive.ID, ScheduledTime: "2026-03-02T09:30:00Z"}, "profile_id"},
		{"bad time", CreateScheduleInput{VideoID: video.ID, ProfileID: profile.ID, ScheduledTime: "soon"}, "scheduled_time"},
		{"caption too long", CreateScheduleInput{
			VideoID: video.ID, ProfileID: profile.ID, ScheduledTime: "2026-03-02T09:30:00Z",
			Caption: strings.Repeat("ä", caption.MaxCaptionLength+1),
		}, "caption"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateSchedule(ctx, tt.input)
			assertField(t, err, tt.field)
		})
	}

	if n, _ := f.svc.Stats(ctx); n[model.StatusPending] != 0 {
		t.Errorf("pending = %d after rejected inputs, want 0", n[model.StatusPending])
	}
}

func TestPublishNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	sch, err := f.svc.PublishNow(ctx, CreateScheduleInput{VideoID: video.ID, ProfileID: profile.ID, Caption: "now"})
	if err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if want := fixedNow.Add(5 * time.Second); !sch.ScheduledTime.Equal(want) {
		t.Errorf("ScheduledTime = %v, want %v", sch.ScheduledTime, want)
	}
}

func TestCancelSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	sch, err := f.svc.PublishNow(ctx, CreateScheduleInput{VideoID: video.ID, ProfileID: profile.ID})
	if err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	got, err := f.svc.CancelSchedule(ctx, sch.ID)
	if err != nil {
		t.Fatalf("CancelSchedule() error = %v", err)
	}
	if got.Status != model.StatusCancelled {
		t.Errorf("Status = %v, want cancelled", got.Status)
	}

	if _, err := f.svc.CancelSchedule(ctx, sch.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("second CancelSchedule() error = %v, want ErrConflict", err)
	}

	// A cancelled booking frees the video
	if _, err := f.svc.PublishNow(ctx, CreateScheduleInput{VideoID: video.ID, ProfileID: profile.ID}); err != nil {
		t.Errorf("rebooking after cancel error = %v", err)
	}
}

func TestCancelSchedule_Uploading(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	sch, err := f.svc.PublishNow(ctx, CreateScheduleInput{VideoID: video.ID, ProfileID: profile.ID})
	if err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if err := f.store.Transition(ctx, sch.ID, model.StatusPending, model.StatusUploading, store.TransitionFields{}); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	if _, err := f.svc.CancelSchedule(ctx, sch.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("CancelSchedule() error = %v, want ErrConflict", err)
	}
	got, _ := f.svc.GetSchedule(ctx, sch.ID)
	if got.Status != model.StatusUploading {
		t.Errorf("Status = %v, want uploading untouched", got.Status)
	}
}

func TestUpdateSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	sch, err := f.svc.CreateSchedule(ctx, CreateScheduleInput{
		VideoID: video.ID, ProfileID: profile.ID, ScheduledTime: "2026-03-05T10:00:00Z", Caption: "first",
	})
	if err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	newTime := "2026-03-06T08:15:00Z"
	newCaption := "second"
	got, err := f.svc.UpdateSchedule(ctx, sch.ID, UpdateScheduleInput{ScheduledTime: &newTime, Caption: &newCaption})
	if err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}
	if got.Caption != "second" || !got.ScheduledTime.Equal(time.Date(2026, 3, 6, 8, 15, 0, 0, time.UTC)) {
		t.Errorf("UpdateSchedule() = %+v", got)
	}

	empty := "   "
	_, err = f.svc.UpdateSchedule(ctx, sch.ID, UpdateScheduleInput{Caption: &empty})
	assertField(t, err, "caption")

	got, err = f.svc.RescheduleNow(ctx, sch.ID)
	if err != nil {
		t.Fatalf("RescheduleNow() error = %v", err)
	}
	if want := fixedNow.Add(5 * time.Second); !got.ScheduledTime.Equal(want) {
		t.Errorf("ScheduledTime = %v, want %v", got.ScheduledTime, want)
	}

	if _, err := f.svc.CancelSchedule(ctx, sch.ID); err != nil {
		t.Fatalf("CancelSchedule() error = %v", err)
	}
	if _, err := f.svc.UpdateSchedule(ctx, sch.ID, UpdateScheduleInput{Caption: &newCaption}); !errors.Is(err, store.ErrConflict) {
		t.Errorf("UpdateSchedule() on cancelled error = %v, want ErrConflict", err)
	}
}

func TestUpdateSchedule_RejectsPastTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	sch, err := f.svc.CreateSchedule(ctx, CreateScheduleInput{
		VideoID: video.ID, ProfileID: profile.ID, ScheduledTime: "2026-03-05T10:00:00Z", Caption: "first",
	})
	if err != nil {
		t.Fatalf("CreateSchedule() error = %v", err)
	}

	for _, raw := range []string{"2026-02-28T09:00:00Z", fixedNow.Format(time.RFC3339)} {
		_, err := f.svc.UpdateSchedule(ctx, sch.ID, UpdateScheduleInput{ScheduledTime: &raw})
		assertField(t, err, "scheduled_time")
	}

	got, _ := f.svc.GetSchedule(ctx, sch.ID)
	if !got.ScheduledTime.Equal(time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("ScheduledTime = %v, want unchanged after rejected edits", got.ScheduledTime)
	}
}

func TestListSchedules_UnknownStatus(t *testing.T) {
	f := newFixture(t, "UTC")
	_, err := f.svc.ListSchedules(context.Background(), store.ScheduleFilter{Statuses: []model.ScheduleStatus{"queued"}})
	assertField(t, err, "status")
}

func TestUploadVideo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")

	v := f.video(t, "../../etc/My_Holiday.MP4")
	if v.OriginalFilename != "My_Holiday.MP4" {
		t.Errorf("OriginalFilename = %q, want base name", v.OriginalFilename)
	}
	if !strings.HasSuffix(v.StoredFilename, ".mp4") {
		t.Errorf("StoredFilename = %q, want .mp4 suffix", v.StoredFilename)
	}
	if v.Description != caption.Suggest("My_Holiday.MP4") {
		t.Errorf("Description = %q, want suggestion", v.Description)
	}
	if _, err := os.Stat(f.files.VideoPath(v.StoredFilename)); err != nil {
		t.Errorf("stored file missing: %v", err)
	}

	_, err := f.svc.UploadVideo(ctx, "notes.txt", strings.NewReader("x"))
	assertField(t, err, "file")
	if !errors.Is(err, media.ErrUnsupportedType) {
		t.Errorf("error = %v, want ErrUnsupportedType", err)
	}

	big := strings.NewReader(strings.Repeat("x", 2<<20))
	_, err = f.svc.UploadVideo(ctx, "big.mkv", big)
	assertField(t, err, "file")

	videos, _ := f.svc.ListVideos(ctx)
	if len(videos) != 1 {
		t.Errorf("ListVideos() = %d videos, want 1", len(videos))
	}
}

func TestDeleteVideo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	sch, err := f.svc.PublishNow(ctx, CreateScheduleInput{VideoID: video.ID, ProfileID: profile.ID})
	if err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if err := f.svc.DeleteVideo(ctx, video.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("DeleteVideo() while booked error = %v, want ErrConflict", err)
	}

	if _, err := f.svc.CancelSchedule(ctx, sch.ID); err != nil {
		t.Fatalf("CancelSchedule() error = %v", err)
	}
	if err := f.svc.DeleteVideo(ctx, video.ID); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}
	if _, err := os.Stat(f.files.VideoPath(video.StoredFilename)); !os.IsNotExist(err) {
		t.Errorf("stored file still present, stat error = %v", err)
	}
	if _, err := f.svc.GetVideo(ctx, video.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetVideo() error = %v, want ErrNotFound", err)
	}
}

func TestCreateProfile_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	f.profile(t, "taken")

	tests := []struct {
		name  string
		input ProfileInput
		field string
	}{
		{"missing name", ProfileInput{CookiesFilename: "a.txt"}, "name"},
		{"long name", ProfileInput{Name: strings.Repeat("n", 101), CookiesFilename: "a.txt"}, "name"},
		{"missing cookies", ProfileInput{Name: "a"}, "cookies_filename"},
		{"cookies path", ProfileInput{Name: "a", CookiesFilename: "../a.txt"}, "cookies_filename"},
		{"bad proxy scheme", ProfileInput{Name: "a", CookiesFilename: "a.txt", Proxy: "ftp://host:21"}, "proxy"},
		{"duplicate name", ProfileInput{Name: "taken", CookiesFilename: "a.txt"}, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateProfile(ctx, tt.input)
			assertField(t, err, tt.field)
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	p := f.profile(t, "main")
	if !p.IsActive {
		t.Fatal("IsActive = false, want default true")
	}

	off := false
	proxy := "socks5://user:pw@10.0.0.1:1080"
	got, err := f.svc.UpdateProfile(ctx, p.ID, ProfileUpdate{IsActive: &off, Proxy: &proxy})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if got.IsActive || got.Proxy != proxy || got.Name != "main" {
		t.Errorf("UpdateProfile() = %+v", got)
	}

	video := f.video(t, "clip.mp4")
	_, err = f.svc.PublishNow(ctx, CreateScheduleInput{VideoID: video.ID, ProfileID: p.ID})
	assertField(t, err, "profile_id")

	other := f.profile(t, "other")
	name := "main"
	_, err = f.svc.UpdateProfile(ctx, other.ID, ProfileUpdate{Name: &name})
	assertField(t, err, "name")
}

func TestDeleteProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "UTC")
	video := f.video(t, "clip.mp4")
	profile := f.profile(t, "main")

	if _, err := f.svc.PublishNow(ctx, CreateScheduleInput{VideoID: video.ID, ProfileID: profile.ID}); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}
	if err := f.svc.DeleteProfile(ctx, profile.ID); !errors.Is(err, store.ErrConflict) {
		t.Errorf("DeleteProfile() error = %v, want ErrConflict", err)
	}
}

// Property 1: naive times round-trip through the configured zone
func TestProperty_NaiveTimeRoundTrip(t *testing.T) {
	f := newFixture(t, "America/New_York")
	loc, _ := time.LoadLocation("America/New_York")

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("wall clock in zone equals parsed instant", prop.ForAll(
		func(days int) bool {
			// midday wall clocks never fall in a DST gap
			wall := time.Date(2026, 1, 1, 13, 0, 0, 0, loc).Add(time.Duration(days) * 24 * time.Hour)
			raw := wall.Format("2006-01-02T15:04")
			got, err := f.svc.ParseTime(raw)
			if err != nil {
				return false
			}
			return got.Equal(wall) && got.Location() == time.UTC
		},
		gen.IntRange(0, 364),
	))

	properties.TestingRun(t)
}
