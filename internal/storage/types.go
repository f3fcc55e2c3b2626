package storage

import (
	"context"
	"errors"
	"time"

	"otpbot/internal/otp"
)

const (
	KeyEntryList = "entryList"
	KeySettings  = "settings"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart (default when empty)
//   - "file":   single JSON document, replaced atomically on every save
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the coordinator.
//
// Each Save* call is a single atomic write: readers observe either the old or
// the new value, never a mix.
type Store interface {
	LoadEntries(ctx context.Context) ([]otp.Entry, error)
	SaveEntries(ctx context.Context, entries []otp.Entry) error
	LoadSettings(ctx context.Context) (settings otp.Settings, found bool, err error)
	SaveSettings(ctx context.Context, settings otp.Settings) error
	Close() error
}
