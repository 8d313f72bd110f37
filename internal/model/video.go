package model

import (
	"time"
)

// Video represents an uploaded media asset
type Video struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	OriginalFilename string `gorm:"size:255;not null" json:"filename"`
	StoredFilename   string `gorm:"uniqueIndex;size:100;not null" json:"stored_filename"`
	Description      string `gorm:"type:text" json:"description"`
	FileSize         int64  `json:"file_size"`
	// IsScheduled is derived from the schedules table and never persisted
	IsScheduled bool      `gorm:"-" json:"is_scheduled"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the table name for Video
func (Video) TableName() string {
	return "videos"
}
