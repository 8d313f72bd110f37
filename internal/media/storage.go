package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/config"
)

var (
	// ErrUnsupportedType is returned for file extensions outside the whitelist
	ErrUnsupportedType = errors.New("unsupported video type")
	// ErrTooLarge is returned when an upload exceeds the configured size
	ErrTooLarge = errors.New("file too large")
)

// AllowedExtensions lists the accepted video extensions, lower-case
var AllowedExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

// Storage keeps uploaded videos and profile cookie files on local disk
type Storage struct {
	uploadDir  string
	cookiesDir string
	maxBytes   int64
}

// NewStorage creates the media directories if needed
func NewStorage(cfg *config.MediaConfig) (*Storage, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.CookiesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
		}
	}

	return &Storage{
		uploadDir:  cfg.UploadDir,
		cookiesDir: cfg.CookiesDir,
		maxBytes:   cfg.MaxUploadMB << 20,
	}, nil
}

// Save writes r under a random name that keeps the original extension.
// It returns the stored name and the number of bytes written.
func (s *Storage) Save(originalName string, r io.Reader) (string, int64, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if !AllowedExtensions[ext] {
		return "", 0, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	stored := uuid.NewString() + ext
	path := filepath.Join(s.uploadDir, stored)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", stored, err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to save %s: %w", originalName, err)
	}

	log.Debug().Str("stored", stored).Int64("bytes", n).Msg("Saved upload")
	return stored, n, nil
}

// Remove deletes a stored video. A missing file is not an error.
func (s *Storage) Remove(storedFilename string) error {
	err := os.Remove(s.VideoPath(storedFilename))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", storedFilename, err)
	}
	return nil
}

// VideoPath returns the on-disk path of a stored video
func (s *Storage) VideoPath(storedFilename string) string {
	return filepath.Join(s.uploadDir, filepath.Base(storedFilename))
}

// CookiesPath returns the on-disk path of a profile cookie file
func (s *Storage) CookiesPath(cookiesFilename string) string {
	return filepath.Join(s.cookiesDir, filepath.Base(cookiesFilename))
}

// CookiesExist reports whether the named cookie file is present
func (s *Storage) CookiesExist(cookiesFilename string) bool {
	info, err := os.Stat(s.CookiesPath(cookiesFilename))
	return err == nil && !info.IsDir()
}

// UploadDir returns the directory holding stored videos
func (s *Storage) UploadDir() string {
	return s.uploadDir
}

// IsPlainFilename reports whether name is a bare file name with no directory part
func IsPlainFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
