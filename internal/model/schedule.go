package model

import (
	"time"
)

// ScheduleStatus is the lifecycle state of a publish job
type ScheduleStatus string

const (
	StatusPending   ScheduleStatus = "pending"
	StatusUploading ScheduleStatus = "uploading"
	StatusCompleted ScheduleStatus = "completed"
	StatusFailed    ScheduleStatus = "failed"
	StatusCancelled ScheduleStatus = "cancelled"
)

// MaxErrorMessageLength bounds the stored failure reason, in runes
const MaxErrorMessageLength = 500

// AllStatuses lists every status in lifecycle order
var AllStatuses = []ScheduleStatus{
	StatusPending,
	StatusUploading,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// LiveStatuses are the states that book a video
var LiveStatuses = []ScheduleStatus{StatusPending, StatusUploading}

// transitions is the complete edge set of the schedule state machine
var transitions = map[ScheduleStatus][]ScheduleStatus{
	StatusPending:   {StatusUploading, StatusCancelled},
	StatusUploading: {StatusCompleted, StatusFailed},
}

// Schedule represents one publish job binding a video, a profile and a target time
type Schedule struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	VideoID       uint           `gorm:"index;not null" json:"video_id"`
	ProfileID     uint           `gorm:"index;not null" json:"profile_id"`
	Caption       string         `gorm:"type:text;not null" json:"caption"`
	ScheduledTime time.Time      `gorm:"index:idx_status_time,priority:2;not null" json:"scheduled_time"`
	Status        ScheduleStatus `gorm:"size:20;not null;index:idx_status_time,priority:1" json:"status"`
	UploadedAt    *time.Time     `json:"uploaded_at,omitempty"`
	ErrorMessage  string         `gorm:"size:2000" json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the table name for Schedule
func (Schedule) TableName() string {
	return "schedules"
}

// IsValid reports whether s is a known status
func (s ScheduleStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s
func (s ScheduleStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsLive reports whether a schedule in state s books its video
func (s ScheduleStatus) IsLive() bool {
	return s == StatusPending || s == StatusUploading
}

// CanTransition reports whether from -> to is an edge of the state machine
func CanTransition(from, to ScheduleStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TruncateErrorMessage shortens msg to MaxErrorMessageLength runes
func TruncateErrorMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= MaxErrorMessageLength {
		return msg
	}
	return string(runes[:MaxErrorMessageLength-3]) + "..."
}
