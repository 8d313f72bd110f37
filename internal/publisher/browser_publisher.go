package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/config"
	"golang.org/x/time/rate"
)

// uploader is the browser surface BrowserPublisher drives
type uploader interface {
	Upload(ctx context.Context, form UploadForm) (html string, pageURL string, err error)
	Close() error
}

// BrowserPublisher publishes through a headless browser, one browser per attempt
// so each profile gets its own cookies and proxy.
type BrowserPublisher struct {
	cfg     *config.PublisherConfig
	limiter *rate.Limiter // global pace of browser launches
	launch  func(cfg *BrowserConfig) (uploader, error)
}

// NewBrowserPublisher creates a publisher from configuration
func NewBrowserPublisher(cfg *config.PublisherConfig) *BrowserPublisher {
	return &BrowserPublisher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		launch: func(bc *BrowserConfig) (uploader, error) {
			return NewBrowser(bc)
		},
	}
}

// Publish runs one upload attempt for req
func (p *BrowserPublisher) Publish(ctx context.Context, req Request) error {
	if _, err := os.Stat(req.CookiesPath); err != nil {
		return &PublishError{Reason: fmt.Sprintf("cookies file not found: %s", filepath.Base(req.CookiesPath))}
	}
	if _, err := os.Stat(req.VideoPath); err != nil {
		return &PublishError{Reason: fmt.Sprintf("video file not found: %s", filepath.Base(req.VideoPath))}
	}

	cookies, err := LoadCookies(req.CookiesPath)
	if err != nil {
		return &PublishError{Reason: "invalid cookies file", Err: err}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return &PublishError{Reason: "publish rate limit wait aborted", Err: err}
	}

	browser, err := p.launch(&BrowserConfig{
		Headless:  p.cfg.Headless,
		UserAgent: p.cfg.UserAgent,
		Proxy:     req.Proxy,
	})
	if err != nil {
		return &PublishError{Reason: "browser launch failed", Err: err}
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Uint("scheduleID", req.ScheduleID).Msg("Failed to close browser")
		}
	}()

	log.Info().
		Uint("scheduleID", req.ScheduleID).
		Bool("proxy", req.Proxy != "").
		Int("cookies", len(cookies)).
		Msg("Submitting upload form")

	html, pageURL, err := browser.Upload(ctx, UploadForm{
		URL:         p.cfg.UploadURL,
		VideoPath:   req.VideoPath,
		Caption:     req.Caption,
		Cookies:     cookies,
		SettleDelay: p.cfg.SettleDelay,
	})
	if err != nil {
		if html != "" {
			if outcome := ParseOutcome(html, pageURL); !outcome.Success && outcome.Reason != "post not confirmed" {
				return &PublishError{Reason: outcome.Reason, Err: err}
			}
		}
		return &PublishError{Reason: "upload form failed", Err: err}
	}

	outcome := ParseOutcome(html, pageURL)
	if !outcome.Success {
		return &PublishError{Reason: outcome.Reason}
	}
	return nil
}
