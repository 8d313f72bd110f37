package model

import (
	"time"
)

// Profile represents a publishing account with its cookie file and optional proxy
type Profile struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	CookiesFilename string    `gorm:"size:255;not null" json:"cookies_filename"`
	Proxy           string    `gorm:"size:500" json:"proxy,omitempty"`
	IsActive        bool      `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the table name for Profile
func (Profile) TableName() string {
	return "profiles"
}
