package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	DB        DBConfig
	Engine    EngineConfig
	Media     MediaConfig
	Publisher PublisherConfig
	Bot       BotConfig
	Server    ServerConfig
	Log       LogConfig
}

// DBConfig holds database configuration
type DBConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"mysql"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASSWORD"`
	Database string `envconfig:"DB_NAME" default:"tiktok_scheduler"`
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"10"`
}

// EngineConfig holds the scheduling engine configuration
type EngineConfig struct {
	Enabled        bool          `envconfig:"ENGINE_ENABLED" default:"true"`
	PollInterval   time.Duration `envconfig:"ENGINE_POLL_INTERVAL" default:"5s"`
	PublishTimeout time.Duration `envconfig:"ENGINE_PUBLISH_TIMEOUT" default:"10m"`
	BatchSize      int           `envconfig:"ENGINE_BATCH_SIZE" default:"100"`
	PublishNowIn   time.Duration `envconfig:"ENGINE_PUBLISH_NOW_DELAY" default:"5s"`
	Timezone       string        `envconfig:"ENGINE_TIMEZONE" default:"UTC"` // zone for times given without an offset
}

// MediaConfig holds local file storage configuration
type MediaConfig struct {
	UploadDir   string `envconfig:"MEDIA_UPLOAD_DIR" default:"uploads"`
	CookiesDir  string `envconfig:"MEDIA_COOKIES_DIR" default:"cookies"`
	MaxUploadMB int64  `envconfig:"MEDIA_MAX_UPLOAD_MB" default:"512"`
}

// PublisherConfig holds browser publisher configuration
type PublisherConfig struct {
	Headless    bool          `envconfig:"PUBLISHER_HEADLESS" default:"true"`
	UploadURL   string        `envconfig:"PUBLISHER_UPLOAD_URL" default:"https://www.tiktok.com/tiktokstudio/upload"`
	UserAgent   string        `envconfig:"PUBLISHER_USER_AGENT"`
	RateLimit   float64       `envconfig:"PUBLISHER_RATE_LIMIT" default:"0.2"`
	SettleDelay time.Duration `envconfig:"PUBLISHER_SETTLE_DELAY" default:"3s"`
}

// BotConfig holds Telegram bot configuration
type BotConfig struct {
	Token  string `envconfig:"BOT_TOKEN"`
	ChatID int64  `envconfig:"BOT_CHAT_ID" default:"0"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `envconfig:"SERVER_PORT" default:"8080"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// DSN returns the MySQL data source name. Times are exchanged in UTC and
// RowsAffected counts matched rows, which compare-and-set updates rely on.
func (c *DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Location resolves the configured timezone
func (c *EngineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Enabled reports whether the Telegram surface should start
func (c *BotConfig) Enabled() bool {
	return c.Token != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg.DB); err != nil {
		return nil, fmt.Errorf("failed to load db config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Engine); err != nil {
		return nil, fmt.Errorf("failed to load engine config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Media); err != nil {
		return nil, fmt.Errorf("failed to load media config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Publisher); err != nil {
		return nil, fmt.Errorf("failed to load publisher config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Bot); err != nil {
		return nil, fmt.Errorf("failed to load bot config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to load log config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverMySQL:
		if c.DB.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the mysql driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q", DriverMySQL, DriverMemory)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("ENGINE_POLL_INTERVAL must be positive")
	}
	if c.Engine.PublishTimeout <= 0 {
		return fmt.Errorf("ENGINE_PUBLISH_TIMEOUT must be positive")
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("ENGINE_BATCH_SIZE must be positive")
	}
	if c.Engine.PublishNowIn < 0 {
		return fmt.Errorf("ENGINE_PUBLISH_NOW_DELAY must not be negative")
	}
	if _, err := c.Engine.Location(); err != nil {
		return err
	}
	if c.Media.UploadDir == "" || c.Media.CookiesDir == "" {
		return fmt.Errorf("MEDIA_UPLOAD_DIR and MEDIA_COOKIES_DIR are required")
	}
	if c.Media.MaxUploadMB <= 0 {
		return fmt.Errorf("MEDIA_MAX_UPLOAD_MB must be positive")
	}
	if c.Publisher.RateLimit <= 0 {
		return fmt.Errorf("PUBLISHER_RATE_LIMIT must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}
	return nil
}
