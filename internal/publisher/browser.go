package publisher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWaitTimeout is the maximum time to wait for a form element
	DefaultWaitTimeout = 60 * time.Second
	// DefaultPageLoadTimeout is the maximum time to wait for page load
	DefaultPageLoadTimeout = 60 * time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Selectors of the upload form
const (
	fileInputSelector  = `input[type="file"]`
	captionSelector    = `div[contenteditable="true"]`
	postButtonSelector = `button[data-e2e="post_video_button"]`
)

// Browser wraps one rod browser instance launched for a single profile
type Browser struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	userAgent string
	mu        sync.Mutex
	closed    bool
}

// BrowserConfig holds configuration for the browser
type BrowserConfig struct {
	// Headless indicates if browser should run in headless mode
	Headless bool
	// UserAgent is the browser user agent string
	UserAgent string
	// Proxy is the profile proxy URI, optionally with credentials
	Proxy string
}

// UploadForm is the input of one upload form submission
type UploadForm struct {
	URL         string
	VideoPath   string
	Caption     string
	Cookies     []*proto.NetworkCookieParam
	SettleDelay time.Duration
}

// NewBrowser launches a browser routed through cfg.Proxy when set
func NewBrowser(cfg *BrowserConfig) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("disable-sync").
		Set("disable-translate").
		Set("mute-audio").
		Set("no-first-run")

	var proxyUser, proxyPass string
	if cfg.Proxy != "" {
		server, user, pass, err := proxyServer(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		l = l.Proxy(server)
		proxyUser, proxyPass = user, pass
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if proxyUser != "" {
		go func() {
			if err := browser.HandleAuth(proxyUser, proxyPass)(); err != nil {
				log.Debug().Err(err).Msg("Proxy auth handler stopped")
			}
		}()
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Browser{
		browser:   browser,
		launcher:  l,
		userAgent: userAgent,
	}, nil
}

// Upload fills and submits the upload form and returns the rendered result page
func (b *Browser) Upload(ctx context.Context, form UploadForm) (html string, pageURL string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", "", fmt.Errorf("browser is closed")
	}

	if len(form.Cookies) > 0 {
		if err := b.browser.Context(ctx).SetCookies(form.Cookies); err != nil {
			return "", "", fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", "", fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent}); err != nil {
		log.Debug().Err(err).Msg("Failed to override user agent")
	}

	loadPage := page.Timeout(DefaultPageLoadTimeout)
	if err := loadPage.Navigate(form.URL); err != nil {
		return "", "", fmt.Errorf("failed to navigate to %s: %w", form.URL, err)
	}
	if err := loadPage.WaitLoad(); err != nil {
		return "", "", fmt.Errorf("failed to wait for page load: %w", err)
	}

	formPage := page.Timeout(DefaultWaitTimeout)

	fileInput, err := formPage.Element(fileInputSelector)
	if err != nil {
		return b.snapshot(page, fmt.Errorf("upload input not found: %w", err))
	}
	if err := fileInput.SetFiles([]string{form.VideoPath}); err != nil {
		return "", "", fmt.Errorf("failed to attach video: %w", err)
	}

	editor, err := formPage.Element(captionSelector)
	if err != nil {
		return b.snapshot(page, fmt.Errorf("caption editor not found: %w", err))
	}
	if err := editor.SelectAllText(); err != nil {
		log.Debug().Err(err).Msg("Failed to select prefilled caption")
	}
	if err := editor.Input(form.Caption); err != nil {
		return "", "", fmt.Errorf("failed to type caption: %w", err)
	}

	postButton, err := formPage.Element(postButtonSelector)
	if err != nil {
		return b.snapshot(page, fmt.Errorf("post button not found: %w", err))
	}
	// The button stays disabled until the video finishes uploading
	if err := postButton.Timeout(DefaultWaitTimeout * 5).WaitEnabled(); err != nil {
		return b.snapshot(page, fmt.Errorf("post button never enabled: %w", err))
	}
	if err := postButton.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", "", fmt.Errorf("failed to click post: %w", err)
	}

	select {
	case <-time.After(form.SettleDelay):
	case <-ctx.Done():
		return "", "", ctx.Err()
	}

	return b.snapshot(page, nil)
}

// snapshot returns the page HTML and URL along with cause
func (b *Browser) snapshot(page *rod.Page, cause error) (string, string, error) {
	html, err := page.HTML()
	if err != nil {
		if cause != nil {
			return "", "", cause
		}
		return "", "", fmt.Errorf("failed to get HTML: %w", err)
	}

	pageURL := ""
	if info, err := page.Info(); err == nil {
		pageURL = info.URL
	}
	return html, pageURL, cause
}

// Close closes the browser and releases all resources gracefully
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var closeErr error
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	return closeErr
}

// proxyServer splits a proxy URI into the --proxy-server value and its credentials
func proxyServer(raw string) (server, user, pass string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return "", "", "", fmt.Errorf("invalid proxy %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("invalid proxy %q: missing host", raw)
	}

	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	return u.Scheme + "://" + u.Host, user, pass, nil
}

// ValidateProxy reports whether raw is an accepted proxy URI
func ValidateProxy(raw string) error {
	_, _, _, err := proxyServer(raw)
	return err
}
