package model

import (
	"time"
)

// PublishOutcome describes how a claimed schedule ended
type PublishOutcome struct {
	ScheduleID   uint
	VideoName    string
	ProfileName  string
	Status       ScheduleStatus
	ErrorMessage string
	Duration     time.Duration
	FinishedAt   time.Time
}
