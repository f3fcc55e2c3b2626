package otp

import (
	"errors"
	"time"
)

// MaxEntries caps the persisted entry list.
const MaxEntries = 10

var (
	ErrInvalidCode    = errors.New("invalid OTP format")
	ErrInvalidPattern = errors.New("invalid regex pattern")
)

// Event is a single detection, emitted by a detector and consumed once by the coordinator.
type Event struct {
	Code       string    `json:"otp"`
	SourceURL  string    `json:"url"`
	ObservedAt time.Time `json:"timestamp"`
}

// Entry is a persisted detection. The list is kept newest first.
//
// Acknowledged is informational: presenters set it when the user copied the code.
type Entry struct {
	ID           string    `json:"id"`
	Code         string    `json:"otp"`
	SourceURL    string    `json:"url"`
	ObservedAt   time.Time `json:"timestamp"`
	Acknowledged bool      `json:"copied"`
}

// Settings is the flat configuration record shared with presenters.
// JSON names match the record written by the options page.
type Settings struct {
	CaptureEnabled       bool   `json:"enableAutoCapture"`
	NotificationsEnabled bool   `json:"enableNotifications"`
	EnhancedSecurity     bool   `json:"enableEnhancedSecurity"`
	AutoClear            bool   `json:"enableAutoClear"`
	CustomPattern        string `json:"customPattern"`
}

func DefaultSettings() Settings {
	return Settings{
		CaptureEnabled:       true,
		NotificationsEnabled: true,
		EnhancedSecurity:     true,
		AutoClear:            false,
		CustomPattern:        DefaultPattern,
	}
}
