package coordinator

import (
	"time"

	"otpbot/internal/otp"
)

// Message types accepted by Handle.
const (
	TypeOTPDetected     = "OTP_DETECTED"
	TypeSettingsUpdated = "SETTINGS_UPDATED"
	TypeClearOTPs       = "CLEAR_OTPS"
	TypeOTPCopied       = "OTP_COPIED"

	// TypeListUpdated names the outbound notification carrying the full list.
	TypeListUpdated = "OTP_LIST_UPDATED"
)

const unknownTypeError = "Unknown message type"

// Message is the flat inbound record. Only the fields relevant to Type are read.
type Message struct {
	Type      string        `json:"type"`
	OTP       string        `json:"otp,omitempty"`
	URL       string        `json:"url,omitempty"`
	Timestamp time.Time     `json:"timestamp,omitzero"`
	Settings  *otp.Settings `json:"settings,omitempty"`
	ID        string        `json:"id,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// DetectionMessage builds the OTP_DETECTED message for ev.
func DetectionMessage(ev otp.Event) Message {
	return Message{Type: TypeOTPDetected, OTP: ev.Code, URL: ev.SourceURL, Timestamp: ev.ObservedAt}
}

func (m Message) Event() otp.Event {
	return otp.Event{Code: m.OTP, SourceURL: m.URL, ObservedAt: m.Timestamp}
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}
