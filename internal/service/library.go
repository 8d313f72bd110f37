package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/caption"
	"github.com/user/tiktok-scheduler-go/internal/media"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/publisher"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

// ProfileInput creates a profile. IsActive defaults to true.
type ProfileInput struct {
	Name            string `json:"name"`
	CookiesFilename string `json:"cookies_filename"`
	Proxy           string `json:"proxy"`
	IsActive        *bool  `json:"is_active"`
}

// ProfileUpdate edits a profile. Nil fields are unchanged.
type ProfileUpdate struct {
	Name            *string `json:"name"`
	CookiesFilename *string `json:"cookies_filename"`
	Proxy           *string `json:"proxy"`
	IsActive        *bool   `json:"is_active"`
}

// UploadVideo stores an uploaded file and records it with a suggested description
func (s *Service) UploadVideo(ctx context.Context, filename string, r io.Reader) (*model.Video, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, invalid("file", "filename is required")
	}

	stored, size, err := s.files.Save(name, r)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrUnsupportedType):
			return nil, &ValidationError{Field: "file", Message: "allowed types are .mp4, .mov, .avi, .mkv", Err: err}
		case errors.Is(err, media.ErrTooLarge):
			return nil, &ValidationError{Field: "file", Message: "file exceeds the upload limit", Err: err}
		}
		return nil, err
	}

	video := &model.Video{
		OriginalFilename: name,
		StoredFilename:   stored,
		Description:      caption.Suggest(name),
		FileSize:         size,
	}
	if err := s.store.CreateVideo(ctx, video); err != nil {
		if rmErr := s.files.Remove(stored); rmErr != nil {
			log.Warn().Err(rmErr).Str("stored", stored).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	log.Info().Uint("videoID", video.ID).Str("filename", name).Int64("bytes", size).Msg("Video uploaded")
	return video, nil
}

// ListVideos returns all videos, newest first
func (s *Service) ListVideos(ctx context.Context) ([]*model.Video, error) {
	return s.store.ListVideos(ctx)
}

// GetVideo returns one video
func (s *Service) GetVideo(ctx context.Context, id uint) (*model.Video, error) {
	return s.store.GetVideo(ctx, id)
}

// DeleteVideo removes a video that is not booked, together with its file
func (s *Service) DeleteVideo(ctx context.Context, id uint) error {
	video, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteVideo(ctx, id); err != nil {
		return err
	}
	if err := s.files.Remove(video.StoredFilename); err != nil {
		log.Warn().Err(err).Uint("videoID", id).Msg("Video deleted but file removal failed")
	}
	return nil
}

// CreateProfile registers a publishing account
func (s *Service) CreateProfile(ctx context.Context, in ProfileInput) (*model.Profile, error) {
	profile := &model.Profile{
		Name:            strings.TrimSpace(in.Name),
		CookiesFilename: strings.TrimSpace(in.CookiesFilename),
		Proxy:           strings.TrimSpace(in.Proxy),
		IsActive:        true,
	}
	if in.IsActive != nil {
		profile.IsActive = *in.IsActive
	}

	if err := s.validateProfile(profile); err != nil {
		return nil, err
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, profileStoreError(err)
	}

	if !s.files.CookiesExist(profile.CookiesFilename) {
		log.Warn().Str("profile", profile.Name).Str("cookies", profile.CookiesFilename).Msg("Cookies file not present yet")
	}
	return profile, nil
}

// ListProfiles returns all profiles ordered by name
func (s *Service) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// GetProfile returns one profile
func (s *Service) GetProfile(ctx context.Context, id uint) (*model.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// UpdateProfile edits a profile. Deactivating keeps existing schedules.
func (s *Service) UpdateProfile(ctx context.Context, id uint, in ProfileUpdate) (*model.Profile, error) {
	profile, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		profile.Name = strings.TrimSpace(*in.Name)
	}
	if in.CookiesFilename != nil {
		profile.CookiesFilename = strings.TrimSpace(*in.CookiesFilename)
	}
	if in.Proxy != nil {
		profile.Proxy = strings.TrimSpace(*in.Proxy)
	}
	if in.IsActive != nil {
		profile.IsActive = *in.IsActive
	}

	if err := s.validateProfile(profile); err != nil {
		return nil, err
	}
	if err := s.store.UpdateProfile(ctx, profile); err != nil {
		return nil, profileStoreError(err)
	}
	return s.store.GetProfile(ctx, id)
}

// DeleteProfile removes a profile with no pending or uploading schedules
func (s *Service) DeleteProfile(ctx context.Context, id uint) error {
	return s.store.DeleteProfile(ctx, id)
}

func (s *Service) validateProfile(p *model.Profile) error {
	if p.Name == "" {
		return invalid("name", "is required")
	}
	if len(p.Name) > 100 {
		return invalid("name", "must be at most 100 characters")
	}
	if p.CookiesFilename == "" {
		return invalid("cookies_filename", "is required")
	}
	if !media.IsPlainFilename(p.CookiesFilename) {
		return invalid("cookies_filename", "must be a file name without directories")
	}
	if p.Proxy != "" {
		if err := publisher.ValidateProxy(p.Proxy); err != nil {
			return &ValidationError{Field: "proxy", Message: err.Error(), Err: err}
		}
	}
	return nil
}

func profileStoreError(err error) error {
	if errors.Is(err, store.ErrDuplicateName) {
		return &ValidationError{Field: "name", Message: "a profile with this name already exists", Err: err}
	}
	return err
}
